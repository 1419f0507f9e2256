package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/proto"
	"github.com/quic-go/quic-go"
)

// Default idle timeout: 5 minutes (QUIC default is 30s, too short for a
// session-long config subscription). Keep-alives hold idle clients open.
var defaultQuicConfig = &quic.Config{
	MaxIdleTimeout:  5 * time.Minute,
	KeepAlivePeriod: 30 * time.Second,
}

const ProtoID = "spwrelay/1"

// Conn wraps one QUIC stream with frame read/write. SendFrame is safe for
// concurrent use; RecvFrame is not.
type Conn struct {
	Stream quic.Stream
	Conn   quic.Connection

	wmu sync.Mutex
}

// NewConnWithConn wraps a QUIC stream and connection
func NewConnWithConn(stream quic.Stream, conn quic.Connection) *Conn {
	return &Conn{Stream: stream, Conn: conn}
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	if c.Conn != nil {
		return c.Conn.RemoteAddr().String()
	}
	return "unknown"
}

// SendFrame encodes and sends a frame
func (c *Conn) SendFrame(f *proto.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return f.Encode(c.Stream)
}

// RecvFrame reads and decodes a frame
func (c *Conn) RecvFrame(f *proto.Frame) error {
	return f.Decode(c.Stream)
}

// Close closes the stream and the connection under it.
func (c *Conn) Close() error {
	err := c.Stream.Close()
	if c.Conn != nil {
		_ = c.Conn.CloseWithError(0, "")
	}
	return err
}

// ServerTLSConfig loads certFile/keyFile, or generates a self-signed
// certificate for development when both are empty.
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return generateTLSConfig()
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ProtoID},
	}, nil
}

// generateTLSConfig creates a self-signed cert for development
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{ProtoID},
	}, nil
}

// Server runs a QUIC listener
type Server struct {
	Listener *quic.Listener
	Handler  func(*Conn)

	closed atomic.Bool
}

// ListenQUICWithHandler starts a QUIC server with handler set before
// accepting. A nil tlsCfg uses a generated self-signed certificate.
func ListenQUICWithHandler(ctx context.Context, addr string, tlsCfg *tls.Config, handler func(*Conn)) (*Server, error) {
	if tlsCfg == nil {
		var err error
		if tlsCfg, err = generateTLSConfig(); err != nil {
			return nil, err
		}
	}
	listener, err := quic.ListenAddr(addr, tlsCfg, defaultQuicConfig)
	if err != nil {
		return nil, err
	}
	s := &Server{Listener: listener, Handler: handler}
	go s.acceptLoop(ctx)
	return s, nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		sess, err := s.Listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || s.closed.Load() {
				return
			}
			continue
		}
		go func() {
			stream, err := sess.AcceptStream(ctx)
			if err != nil {
				_ = sess.CloseWithError(0, "")
				return
			}
			s.Handler(NewConnWithConn(stream, sess))
		}()
	}
}

// DialQUIC connects to a QUIC server (skips cert verification for dev)
// and opens the single stream the session runs on.
func DialQUIC(ctx context.Context, addr string) (*Conn, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ProtoID},
	}
	sess, err := quic.DialAddr(ctx, addr, tlsCfg, defaultQuicConfig)
	if err != nil {
		return nil, err
	}
	stream, err := sess.OpenStreamSync(ctx)
	if err != nil {
		sess.CloseWithError(0, "")
		return nil, err
	}
	return NewConnWithConn(stream, sess), nil
}

// LocalAddr returns the address of the QUIC listener
func (s *Server) LocalAddr() string {
	return s.Listener.Addr().String()
}

// Port returns the UDP port the listener is bound to.
func (s *Server) Port() int {
	if a, ok := s.Listener.Addr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.Listener.Close()
}
