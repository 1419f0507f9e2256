package mesh

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/metrics"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/proto"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/transport"
)

// Server is the host side of the mesh: a channel.Transport over QUIC.
// Inbound Message frames are dispatched to the handler registered for their
// channel; Send broadcasts to every peer subscribed to the channel.
type Server struct {
	server *transport.Server
	log    *slog.Logger

	handlers sync.Map // channel -> channel.Handler

	mu     sync.RWMutex
	peers  map[channel.PeerID]*peer
	closed atomic.Bool
}

type peer struct {
	id       channel.PeerID
	nodeID   string
	conn     *transport.Conn
	channels map[string]struct{} // guarded by Server.mu
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	tls *tls.Config
	log *slog.Logger
}

// WithTLS sets the listener's TLS config. The default is a self-signed certificate.
func WithTLS(cfg *tls.Config) ServerOption {
	return func(o *serverOptions) { o.tls = cfg }
}

// WithServerLogger sets the logger; the default is slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) { o.log = l }
}

// Listen starts a mesh server on addr
func Listen(ctx context.Context, addr string, opts ...ServerOption) (*Server, error) {
	o := serverOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		log:   o.log,
		peers: make(map[channel.PeerID]*peer),
	}
	server, err := transport.ListenQUICWithHandler(ctx, addr, o.tls, s.handleConn)
	if err != nil {
		return nil, err
	}
	s.server = server
	s.log.Info("mesh: listening", "addr", server.LocalAddr())
	return s, nil
}

func (s *Server) RegisterHandler(name string, handler channel.Handler) {
	s.handlers.Store(name, handler)
}

func (s *Server) UnregisterHandler(name string) {
	s.handlers.Delete(name)
}

func (s *Server) BeginMessage(name string) *channel.Outbound {
	return channel.NewOutbound(name)
}

// Send delivers out to every subscribed peer it does not exclude. Per-peer
// write failures are logged and skipped.
func (s *Server) Send(out *channel.Outbound) error {
	if s.closed.Load() {
		return channel.ErrClosed
	}
	body, err := out.Consume()
	if err != nil {
		return err
	}
	name := out.Channel()
	msg := &proto.Frame{
		Type: proto.FrameTypeMessage,
		Message: &proto.MessageFrame{
			ID:      uuid.NewString(),
			Channel: name,
			Body:    body,
		},
	}

	s.mu.RLock()
	targets := make([]*peer, 0, len(s.peers))
	for id, p := range s.peers {
		if _, ok := p.channels[name]; ok && !out.Excluded(id) {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	count := 0
	for _, p := range targets {
		if err := p.conn.SendFrame(msg); err != nil {
			metrics.Delivered(name, false)
			s.log.Error("mesh: failed to forward to peer", "err", err, "peer", p.id, "channel", name)
			continue
		}
		metrics.Delivered(name, true)
		count++
	}
	s.log.Debug("mesh: broadcast", "channel", name, "peers", count)
	return nil
}

func (s *Server) handleConn(c *transport.Conn) {
	p := &peer{
		id:       channel.PeerID(uuid.NewString()),
		conn:     c,
		channels: make(map[string]struct{}),
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.peers[p.id] = p
	s.mu.Unlock()
	metrics.PeerConnected()
	s.log.Info("mesh: peer connected", "peer", p.id, "addr", c.RemoteAddr())

	defer func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		metrics.PeerDisconnected()
		c.Close()
		s.log.Info("mesh: peer disconnected", "peer", p.id, "node", p.nodeID)
	}()

	var f proto.Frame
	for {
		if err := c.RecvFrame(&f); err != nil {
			return
		}
		s.handleFrame(p, &f)
	}
}

func (s *Server) handleFrame(p *peer, f *proto.Frame) {
	switch {
	case f.Type == proto.FrameTypeHello && f.Hello != nil:
		p.nodeID = f.Hello.NodeID
		s.log.Info("mesh: hello", "peer", p.id, "node", p.nodeID)
		p.conn.SendFrame(&proto.Frame{Type: proto.FrameTypeAck, Ack: &proto.AckFrame{PeerID: string(p.id), OK: true}})
	case f.Type == proto.FrameTypeSubscribe && f.Subscribe != nil:
		s.mu.Lock()
		p.channels[f.Subscribe.Channel] = struct{}{}
		s.mu.Unlock()
		p.conn.SendFrame(&proto.Frame{Type: proto.FrameTypeAck, Ack: &proto.AckFrame{OK: true}})
	case f.Type == proto.FrameTypeUnsubscribe && f.Unsubscribe != nil:
		s.mu.Lock()
		delete(p.channels, f.Unsubscribe.Channel)
		s.mu.Unlock()
	case f.Type == proto.FrameTypeMessage && f.Message != nil:
		s.handleMessage(p, f.Message)
	case f.Type == proto.FrameTypeAck:
	default:
		s.sendError(p, proto.CodeBadFrame, "", "unexpected frame")
	}
}

func (s *Server) handleMessage(p *peer, m *proto.MessageFrame) {
	v, ok := s.handlers.Load(m.Channel)
	if !ok {
		s.sendError(p, proto.CodeChannelUnknown, m.Channel, "no handler for channel "+m.Channel)
		return
	}
	in := channel.NewInbound(m.Channel, p.id, m.Body)
	if err := channel.Dispatch(s.log, in, v.(channel.Handler)); err != nil {
		s.sendError(p, proto.CodeHandlerFailed, m.Channel, err.Error())
	}
}

func (s *Server) sendError(p *peer, code, ch, msg string) {
	err := p.conn.SendFrame(&proto.Frame{Type: proto.FrameTypeError, Error: &proto.ErrorFrame{
		Code: code, Channel: ch, Message: msg,
	}})
	if err != nil {
		s.log.Debug("mesh: error frame not delivered", "peer", p.id, "err", err)
	}
}

// Peers returns the number of connected peers.
func (s *Server) Peers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Subscribers returns the number of peers subscribed to name.
func (s *Server) Subscribers(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.peers {
		if _, ok := p.channels[name]; ok {
			n++
		}
	}
	return n
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.LocalAddr()
}

// Port returns the UDP port the server listens on.
func (s *Server) Port() int {
	return s.server.Port()
}

// Close disconnects every peer, then stops the listener. Peers go first:
// closing the listener closes the UDP socket their close frames travel on.
// Safe to call twice.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	conns := make([]*transport.Conn, 0, len(s.peers))
	for _, p := range s.peers {
		conns = append(conns, p.conn)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return s.server.Close()
}
