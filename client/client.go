// Package client is the game-client side of the configuration relay: send
// your audio configuration (or a disable signal) to the relay and receive the
// ones other players send, with channel-based delivery and context.Context
// for timeouts.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/crypto"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/discovery"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/mesh"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/proto"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/relay"
)

const (
	// DefaultEventBuffer is the buffer size for the Events() channel.
	DefaultEventBuffer = 64
	// DefaultDiscoveryTimeout bounds the mDNS lookup when RelayAddr is empty.
	DefaultDiscoveryTimeout = 5 * time.Second
)

// ErrClosed is returned when using a client after Close.
var ErrClosed = errors.New("client closed")

// EventKind tells an update from a disable.
type EventKind int

const (
	EventUpdate EventKind = iota + 1
	EventDisable
)

func (k EventKind) String() string {
	switch k {
	case EventUpdate:
		return "update"
	case EventDisable:
		return "disable"
	default:
		return "unknown"
	}
}

// Event is a relayed configuration change.
type Event struct {
	Kind EventKind
	// Payload is the configuration for EventUpdate, empty for EventDisable.
	Payload string
}

// Config configures the client.
type Config struct {
	// RelayAddr is the relay address (e.g. "localhost:6121"). Empty means
	// discover a relay on the local network via mDNS.
	RelayAddr string
	// NodeID is a human-readable identifier for this client (e.g. a player name).
	NodeID string
	// Channels must match the relay's; the zero value uses relay.DefaultChannels.
	Channels relay.Channels
	// GroupKey, when set, seals payloads so only holders of the key can read them.
	GroupKey *crypto.GroupKey
	// EventBuffer sets the capacity of Events(); 0 uses DefaultEventBuffer.
	EventBuffer int
	// DiscoveryTimeout bounds discovery; 0 uses DefaultDiscoveryTimeout.
	DiscoveryTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is the developer-facing relay client.
type Client struct {
	node     *mesh.Node
	channels relay.Channels
	key      *crypto.GroupKey
	log      *slog.Logger
	events   chan Event
	errs     chan *proto.ErrorFrame

	mu     sync.Mutex
	closed bool
}

// New connects to the relay and subscribes to its broadcasts. Read them from Events().
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Channels == (relay.Channels{}) {
		cfg.Channels = relay.DefaultChannels()
	}
	if err := cfg.Channels.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = DefaultEventBuffer
	}

	addr := cfg.RelayAddr
	if addr == "" {
		timeout := cfg.DiscoveryTimeout
		if timeout <= 0 {
			timeout = DefaultDiscoveryTimeout
		}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		found, err := discovery.Browse(dctx)
		cancel()
		if err != nil {
			return nil, err
		}
		log.Info("client: discovered relay", "name", found.Name, "addr", found.Addr)
		addr = found.Addr
	}

	c := &Client{
		channels: cfg.Channels,
		key:      cfg.GroupKey,
		log:      log,
		events:   make(chan Event, buf),
		errs:     make(chan *proto.ErrorFrame, 8),
	}
	node, err := mesh.Dial(ctx, mesh.NodeConfig{
		RelayAddr: addr,
		NodeID:    cfg.NodeID,
		Logger:    log,
		OnError: func(e *proto.ErrorFrame) {
			select {
			case c.errs <- e:
			default:
			}
		},
	})
	if err != nil {
		return nil, err
	}
	c.node = node
	node.RegisterHandler(cfg.Channels.UpdateOutbound, c.onUpdate)
	node.RegisterHandler(cfg.Channels.DisableOutbound, c.onDisable)
	return c, nil
}

func (c *Client) onUpdate(in *channel.Inbound) error {
	payload, err := in.ReadString()
	if err != nil {
		return err
	}
	if c.key != nil {
		if payload, err = crypto.Open(payload, c.key); err != nil {
			c.log.Warn("client: dropping config sealed with another key", "key_id", c.key.KeyID())
			return nil
		}
	}
	c.deliver(Event{Kind: EventUpdate, Payload: payload})
	return nil
}

func (c *Client) onDisable(*channel.Inbound) error {
	c.deliver(Event{Kind: EventDisable})
	return nil
}

func (c *Client) deliver(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- e:
	default:
		c.log.Warn("client: event buffer full, dropping", "kind", e.Kind)
	}
}

// UpdateConfig sends payload to the relay, which forwards it to the other clients.
func (c *Client) UpdateConfig(ctx context.Context, payload string) error {
	if err := c.usable(ctx); err != nil {
		return err
	}
	if c.key != nil {
		sealed, err := crypto.Seal(payload, c.key)
		if err != nil {
			return err
		}
		payload = sealed
	}
	out := c.node.BeginMessage(c.channels.UpdateInbound)
	out.WriteString(payload)
	return c.node.Send(out)
}

// DisableConfig asks the relay to tell the other clients to drop the shared config.
func (c *Client) DisableConfig(ctx context.Context) error {
	if err := c.usable(ctx); err != nil {
		return err
	}
	return c.node.Send(c.node.BeginMessage(c.channels.DisableInbound))
}

func (c *Client) usable(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ctx.Err()
}

// Events returns the channel of relayed changes. It is closed by Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Errors returns error frames the relay sent back, e.g. for a rejected update.
func (c *Client) Errors() <-chan *proto.ErrorFrame {
	return c.errs
}

// PeerID returns the id the relay assigned to this client.
func (c *Client) PeerID() string {
	return string(c.node.PeerID())
}

// Done is closed when the relay connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.node.Done()
}

// Close disconnects and closes the Events() channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()
	return c.node.Close()
}
