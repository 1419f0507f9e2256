// Package relay forwards audio configuration between connected parties. An
// update received from one party is re-broadcast verbatim to the others; a
// disable request is re-broadcast as an empty signal. The relay keeps no state
// between messages.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/proto"
)

var (
	ErrAlreadyStarted = errors.New("relay: already started")
	ErrStopped        = errors.New("relay: stopped")
)

// Relay is a server-side configuration relay bound to one transport.
type Relay struct {
	transport channel.Transport
	channels  Channels
	echo      bool
	log       *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures a Relay.
type Option func(*Relay)

// WithChannels overrides DefaultChannels.
func WithChannels(c Channels) Option {
	return func(r *Relay) { r.channels = c }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// WithEcho makes forwarded messages reach their sender too.
func WithEcho(echo bool) Option {
	return func(r *Relay) { r.echo = echo }
}

// New returns a relay over t. Handlers are not registered until Start.
func New(t channel.Transport, opts ...Option) (*Relay, error) {
	if t == nil {
		return nil, errors.New("relay: nil transport")
	}
	r := &Relay{
		transport: t,
		channels:  DefaultChannels(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.channels.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Channels returns the channel names the relay is bound to.
func (r *Relay) Channels() Channels { return r.channels }

// Start registers the relay's handlers on the transport.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.stopped:
		return ErrStopped
	case r.started:
		return ErrAlreadyStarted
	}
	r.transport.RegisterHandler(r.channels.UpdateInbound, r.UpdateConfig)
	r.transport.RegisterHandler(r.channels.DisableInbound, r.DisableConfig)
	r.started = true
	r.log.Info("relay: started",
		"update", r.channels.UpdateInbound+" -> "+r.channels.UpdateOutbound,
		"disable", r.channels.DisableInbound+" -> "+r.channels.DisableOutbound,
		"echo", r.echo)
	return nil
}

// Stop unregisters the handlers. It is safe to call more than once, and
// before Start.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	if !r.started {
		return
	}
	r.transport.UnregisterHandler(r.channels.UpdateInbound)
	r.transport.UnregisterHandler(r.channels.DisableInbound)
	r.log.Info("relay: stopped")
}

// Healthy reports ErrStopped unless the relay is running.
func (r *Relay) Healthy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped {
		return ErrStopped
	}
	return nil
}

// UpdateConfig reads one config payload from in and re-broadcasts it
// unchanged on the update outbound channel. A malformed inbound message is
// returned as an error and nothing is sent.
func (r *Relay) UpdateConfig(in *channel.Inbound) error {
	if in == nil || in.Reader == nil {
		return fmt.Errorf("relay: read config payload: %w", proto.ErrTruncated)
	}
	payload, err := in.ReadString()
	if err != nil {
		return fmt.Errorf("relay: read config payload: %w", err)
	}
	out := r.transport.BeginMessage(r.channels.UpdateOutbound)
	out.WriteString(payload)
	if !r.echo {
		out.Exclude(in.Origin)
	}
	if err := r.transport.Send(out); err != nil {
		return fmt.Errorf("relay: forward config: %w", err)
	}
	r.log.Debug("relay: forwarded config", "channel", r.channels.UpdateOutbound, "origin", in.Origin, "bytes", len(payload))
	return nil
}

// DisableConfig broadcasts an empty message on the disable outbound channel.
// in is never read and may be nil.
func (r *Relay) DisableConfig(in *channel.Inbound) error {
	out := r.transport.BeginMessage(r.channels.DisableOutbound)
	var origin channel.PeerID
	if in != nil {
		origin = in.Origin
	}
	if !r.echo {
		out.Exclude(origin)
	}
	if err := r.transport.Send(out); err != nil {
		return fmt.Errorf("relay: forward disable: %w", err)
	}
	r.log.Debug("relay: forwarded disable", "channel", r.channels.DisableOutbound, "origin", origin)
	return nil
}

// PushConfig broadcasts payload to every party as if the host had received it.
// It is the entry point for admin-issued updates.
func (r *Relay) PushConfig(payload string) error {
	w := proto.NewWriter()
	w.WriteString(payload)
	return r.UpdateConfig(channel.NewInbound(r.channels.UpdateInbound, "", w.Bytes()))
}

// PushDisable broadcasts a disable signal to every party.
func (r *Relay) PushDisable() error {
	return r.DisableConfig(nil)
}
