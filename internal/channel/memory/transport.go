// Package memory is an in-process channel.Transport. Every Send is recorded so
// tests can inspect exactly what a component broadcast.
package memory

import (
	"log/slog"
	"sync"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
)

// Sent is one recorded broadcast.
type Sent struct {
	Channel  string
	Body     []byte
	Excluded []channel.PeerID
}

// Transport records sends and delivers injected messages to handlers.
type Transport struct {
	log *slog.Logger

	mu       sync.Mutex
	handlers map[string]channel.Handler
	sent     []Sent
	closed   bool
}

// New returns an empty Transport.
func New() *Transport {
	return &Transport{
		log:      slog.Default(),
		handlers: make(map[string]channel.Handler),
	}
}

func (t *Transport) RegisterHandler(name string, handler channel.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = handler
}

func (t *Transport) UnregisterHandler(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, name)
}

func (t *Transport) BeginMessage(name string) *channel.Outbound {
	return channel.NewOutbound(name)
}

func (t *Transport) Send(out *channel.Outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return channel.ErrClosed
	}
	body, err := out.Consume()
	if err != nil {
		return err
	}
	t.sent = append(t.sent, Sent{
		Channel:  out.Channel(),
		Body:     append([]byte(nil), body...),
		Excluded: out.ExcludedPeers(),
	})
	return nil
}

// Deliver hands body to the handler registered for name as if it arrived from
// origin. It reports false when no handler is registered.
func (t *Transport) Deliver(name string, origin channel.PeerID, body []byte) (bool, error) {
	t.mu.Lock()
	h, ok := t.handlers[name]
	t.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, channel.Dispatch(t.log, channel.NewInbound(name, origin, body), h)
}

// Handlers returns the names with a registered handler.
func (t *Transport) Handlers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	return names
}

// Sent returns a copy of every recorded broadcast in send order.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// SentOn returns the recorded broadcasts on name.
func (t *Transport) SentOn(name string) []Sent {
	var out []Sent
	for _, s := range t.Sent() {
		if s.Channel == name {
			out = append(out, s)
		}
	}
	return out
}

// Close makes further sends fail with channel.ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
