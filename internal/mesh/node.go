package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/proto"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/transport"
)

// ErrHandshake is returned when the relay does not acknowledge the hello.
var ErrHandshake = errors.New("mesh: relay handshake failed")

// Node is a client's session with a relay: a channel.Transport whose sends
// go to the relay and whose handlers receive the relay's broadcasts.
type Node struct {
	conn   *transport.Conn
	peerID channel.PeerID
	nodeID string
	log    *slog.Logger
	onErr  func(*proto.ErrorFrame)

	handlers sync.Map // channel -> channel.Handler
	closed   atomic.Bool
	done     chan struct{}
}

// NodeConfig for Dial
type NodeConfig struct {
	RelayAddr string
	NodeID    string
	Logger    *slog.Logger
	// OnError receives error frames the relay sends back, e.g. a rejected
	// malformed update. Optional.
	OnError func(*proto.ErrorFrame)
}

// Dial connects to the relay, introduces the node and starts receiving.
func Dial(ctx context.Context, cfg NodeConfig) (*Node, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	conn, err := transport.DialQUIC(ctx, cfg.RelayAddr)
	if err != nil {
		return nil, fmt.Errorf("mesh: dial relay %s: %w", cfg.RelayAddr, err)
	}
	if err := conn.SendFrame(&proto.Frame{Type: proto.FrameTypeHello, Hello: &proto.HelloFrame{NodeID: cfg.NodeID}}); err != nil {
		conn.Close()
		return nil, err
	}
	var f proto.Frame
	if err := conn.RecvFrame(&f); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if f.Type != proto.FrameTypeAck || f.Ack == nil || !f.Ack.OK {
		conn.Close()
		return nil, ErrHandshake
	}

	n := &Node{
		conn:   conn,
		peerID: channel.PeerID(f.Ack.PeerID),
		nodeID: cfg.NodeID,
		log:    log,
		onErr:  cfg.OnError,
		done:   make(chan struct{}),
	}
	go n.recvLoop()
	return n, nil
}

// RegisterHandler subscribes to name on the relay and routes its broadcasts to handler.
func (n *Node) RegisterHandler(name string, handler channel.Handler) {
	n.handlers.Store(name, handler)
	if err := n.conn.SendFrame(&proto.Frame{Type: proto.FrameTypeSubscribe, Subscribe: &proto.SubscribeFrame{Channel: name}}); err != nil {
		n.log.Warn("mesh: subscribe failed", "channel", name, "err", err)
	}
}

func (n *Node) UnregisterHandler(name string) {
	n.handlers.Delete(name)
	if n.closed.Load() {
		return
	}
	if err := n.conn.SendFrame(&proto.Frame{Type: proto.FrameTypeUnsubscribe, Unsubscribe: &proto.UnsubscribeFrame{Channel: name}}); err != nil {
		n.log.Debug("mesh: unsubscribe failed", "channel", name, "err", err)
	}
}

func (n *Node) BeginMessage(name string) *channel.Outbound {
	return channel.NewOutbound(name)
}

// Send hands out to the relay. Exclusions are ignored: the relay decides who
// receives its own broadcast.
func (n *Node) Send(out *channel.Outbound) error {
	if n.closed.Load() {
		return channel.ErrClosed
	}
	body, err := out.Consume()
	if err != nil {
		return err
	}
	return n.conn.SendFrame(&proto.Frame{
		Type: proto.FrameTypeMessage,
		Message: &proto.MessageFrame{
			ID:      uuid.NewString(),
			Channel: out.Channel(),
			Body:    body,
			Origin:  string(n.peerID),
		},
	})
}

func (n *Node) recvLoop() {
	defer close(n.done)
	var f proto.Frame
	for {
		if err := n.conn.RecvFrame(&f); err != nil {
			if !n.closed.Load() {
				n.log.Debug("mesh: recv ended", "err", err)
			}
			return
		}
		switch {
		case f.Type == proto.FrameTypeMessage && f.Message != nil:
			v, ok := n.handlers.Load(f.Message.Channel)
			if !ok {
				continue
			}
			in := channel.NewInbound(f.Message.Channel, "", f.Message.Body)
			_ = channel.Dispatch(n.log, in, v.(channel.Handler))
		case f.Type == proto.FrameTypeError && f.Error != nil:
			n.log.Warn("mesh: relay error", "code", f.Error.Code, "channel", f.Error.Channel, "msg", f.Error.Message)
			if n.onErr != nil {
				n.onErr(f.Error)
			}
		}
	}
}

// PeerID returns the id the relay assigned to this node.
func (n *Node) PeerID() channel.PeerID {
	return n.peerID
}

// Done is closed when the relay connection ends.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Close shuts down the session and waits for the receive loop.
func (n *Node) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	err := n.conn.Close()
	<-n.done
	return err
}
