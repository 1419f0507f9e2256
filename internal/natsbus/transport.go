// Package natsbus runs the relay's named channels over NATS subjects, for
// deployments where game servers and clients already share a NATS cluster.
package natsbus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
)

const (
	// HeaderOrigin carries the sender's PeerID.
	HeaderOrigin = "Spw-Origin"
	// HeaderExclude lists peers that must drop the message, comma separated.
	HeaderExclude = "Spw-Exclude"

	DefaultPrefix = "spw"
)

// Transport is a channel.Transport over a NATS connection. NATS has no
// per-recipient delivery, so exclusions travel in a header and receivers
// filter themselves.
type Transport struct {
	nc     *nats.Conn
	prefix string
	self   channel.PeerID
	log    *slog.Logger

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed bool
}

// Connect dials url and returns a Transport that identifies itself as self.
func Connect(url, prefix string, self channel.PeerID, log *slog.Logger) (*Transport, error) {
	nc, err := nats.Connect(url, nats.Name("spwrelay:"+string(self)))
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", url, err)
	}
	return New(nc, prefix, self, log), nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, prefix string, self channel.PeerID, log *slog.Logger) *Transport {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		nc:     nc,
		prefix: prefix,
		self:   self,
		log:    log,
		subs:   make(map[string]*nats.Subscription),
	}
}

// Subject maps a channel name to its NATS subject.
func Subject(prefix, name string) string {
	r := strings.NewReplacer("/", ".", " ", "_", "*", "_", ">", "_")
	return prefix + "." + r.Replace(name)
}

func (t *Transport) RegisterHandler(name string, handler channel.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.subs[name]; ok {
		_ = old.Unsubscribe()
	}
	sub, err := t.nc.Subscribe(Subject(t.prefix, name), func(m *nats.Msg) {
		origin := channel.PeerID(m.Header.Get(HeaderOrigin))
		if Excludes(m.Header.Get(HeaderExclude), t.self) {
			return
		}
		_ = channel.Dispatch(t.log, channel.NewInbound(name, origin, m.Data), handler)
	})
	if err != nil {
		t.log.Error("natsbus: subscribe failed", "channel", name, "err", err)
		return
	}
	t.subs[name] = sub
}

func (t *Transport) UnregisterHandler(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[name]; ok {
		_ = sub.Unsubscribe()
		delete(t.subs, name)
	}
}

func (t *Transport) BeginMessage(name string) *channel.Outbound {
	return channel.NewOutbound(name)
}

// Send publishes out on its channel's subject. Excluded peers are named in
// the HeaderExclude header.
func (t *Transport) Send(out *channel.Outbound) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return channel.ErrClosed
	}
	body, err := out.Consume()
	if err != nil {
		return err
	}
	msg := nats.NewMsg(Subject(t.prefix, out.Channel()))
	msg.Data = body
	msg.Header.Set(HeaderOrigin, string(t.self))
	if peers := out.ExcludedPeers(); len(peers) > 0 {
		excluded := make([]string, len(peers))
		for i, p := range peers {
			excluded[i] = string(p)
		}
		msg.Header.Set(HeaderExclude, strings.Join(excluded, ","))
	}
	return t.nc.PublishMsg(msg)
}

// Excludes reports whether the comma separated header value names peer.
func Excludes(header string, peer channel.PeerID) bool {
	if header == "" || peer == "" {
		return false
	}
	for _, p := range strings.Split(header, ",") {
		if channel.PeerID(strings.TrimSpace(p)) == peer {
			return true
		}
	}
	return false
}

// Close drains subscriptions and closes the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.subs = make(map[string]*nats.Subscription)
	t.mu.Unlock()
	return t.nc.Drain()
}
