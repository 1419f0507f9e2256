// Package channel defines the named-channel pub/sub contract the relay runs on:
// handlers registered per channel name, and one-shot outbound messages that a
// transport broadcasts to the channel's subscribers.
package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/metrics"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/proto"
)

var (
	// ErrConsumed is returned when an outbound message is sent twice.
	ErrConsumed = errors.New("channel: message already sent")
	// ErrClosed is returned by a transport after Close.
	ErrClosed = errors.New("channel: transport closed")
	// ErrNoChannel is returned when a message is begun without a channel name.
	ErrNoChannel = errors.New("channel: empty channel name")
)

// PeerID identifies a connected party. The zero value means "the host itself".
type PeerID string

// Inbound is a message delivered to a handler. It is only valid for the
// duration of the handler call.
type Inbound struct {
	Channel string
	Origin  PeerID
	*proto.Reader
}

// NewInbound wraps body as an inbound message on name from origin.
func NewInbound(name string, origin PeerID, body []byte) *Inbound {
	return &Inbound{Channel: name, Origin: origin, Reader: proto.NewReader(body)}
}

// Handler receives one inbound message.
type Handler func(in *Inbound) error

// Transport is the host networking primitive.
type Transport interface {
	// RegisterHandler subscribes handler to name, replacing any previous one.
	RegisterHandler(name string, handler Handler)
	// UnregisterHandler removes the handler for name, if any.
	UnregisterHandler(name string)
	// BeginMessage allocates a fresh outbound message bound to name.
	BeginMessage(name string) *Outbound
	// Send broadcasts out to the subscribers of its channel and consumes it.
	// Having no subscribers is not an error.
	Send(out *Outbound) error
}

// Outbound is a writable message bound to one channel.
type Outbound struct {
	channel string
	w       *proto.Writer
	exclude map[PeerID]struct{}
	sent    bool
}

// NewOutbound returns an empty outbound message for name. Transports use it
// to implement BeginMessage.
func NewOutbound(name string) *Outbound {
	return &Outbound{channel: name, w: proto.NewWriter()}
}

// Channel returns the channel the message is bound to.
func (o *Outbound) Channel() string { return o.channel }

// WriteString appends a length-prefixed string.
func (o *Outbound) WriteString(s string) { o.w.WriteString(s) }

// Exclude keeps peer from receiving this message. Excluding the zero PeerID is a no-op.
func (o *Outbound) Exclude(peer PeerID) {
	if peer == "" {
		return
	}
	if o.exclude == nil {
		o.exclude = make(map[PeerID]struct{})
	}
	o.exclude[peer] = struct{}{}
}

// Excluded reports whether peer was excluded.
func (o *Outbound) Excluded(peer PeerID) bool {
	_, ok := o.exclude[peer]
	return ok
}

// ExcludedPeers returns the excluded peers in sorted order.
func (o *Outbound) ExcludedPeers() []PeerID {
	if len(o.exclude) == 0 {
		return nil
	}
	peers := make([]PeerID, 0, len(o.exclude))
	for p := range o.exclude {
		peers = append(peers, p)
	}
	slices.Sort(peers)
	return peers
}

// Consume marks the message as sent and returns its body. It fails with
// ErrConsumed on the second call, and with ErrNoChannel for an unbound message.
func (o *Outbound) Consume() ([]byte, error) {
	if o.sent {
		return nil, ErrConsumed
	}
	if o.channel == "" {
		return nil, ErrNoChannel
	}
	o.sent = true
	metrics.MessageSent(o.channel)
	return o.w.Bytes(), nil
}

// Dispatch runs handler for in the way a host delivers messages: a returned
// error or panic fails this invocation only. The error is logged and returned
// so the transport can report it back to the origin.
func Dispatch(log *slog.Logger, in *Inbound, handler Handler) (err error) {
	metrics.MessageReceived(in.Channel)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s: handler panic: %v", in.Channel, r)
		}
		if err != nil {
			metrics.HandlerFailed(in.Channel)
			log.Warn("channel: handler failed", "channel", in.Channel, "origin", in.Origin, "err", err)
		}
	}()
	return handler(in)
}
