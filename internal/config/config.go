// Package config loads the relay server's TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/relay"
)

const (
	TransportQUIC = "quic"
	TransportNATS = "nats"
)

// Config is the top-level relay configuration.
type Config struct {
	Server    Server         `toml:"server"`
	Channels  relay.Channels `toml:"channels"`
	Relay     Relay          `toml:"relay"`
	Transport Transport      `toml:"transport"`
	Discovery Discovery      `toml:"discovery"`
	Metrics   Metrics        `toml:"metrics"`
	Log       Log            `toml:"log"`
}

type Server struct {
	Listen   string `toml:"listen"`
	NodeID   string `toml:"node_id"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

type Relay struct {
	// Echo sends forwarded messages back to their sender as well.
	Echo bool `toml:"echo"`
}

type Transport struct {
	Kind       string `toml:"kind"` // "quic" or "nats"
	NATSURL    string `toml:"nats_url"`
	NATSPrefix string `toml:"nats_prefix"`
}

type Discovery struct {
	Enabled  bool   `toml:"enabled"`
	Instance string `toml:"instance"`
}

type Metrics struct {
	// Listen is the HTTP address for /metrics and /healthz; empty disables it.
	Listen string `toml:"listen"`
}

type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:    Server{Listen: ":6121", NodeID: "spw-relay"},
		Channels:  relay.DefaultChannels(),
		Transport: Transport{Kind: TransportQUIC, NATSURL: "nats://127.0.0.1:4222", NATSPrefix: "spw"},
		Discovery: Discovery{Enabled: true, Instance: "spw-relay"},
		Log:       Log{Level: "info", Format: "text"},
	}
}

// Load reads path over Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can be served.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" && c.Transport.Kind == TransportQUIC {
		errs = append(errs, errors.New("server.listen is required for the quic transport"))
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		errs = append(errs, errors.New("server.cert_file and server.key_file must be set together"))
	}
	switch c.Transport.Kind {
	case TransportQUIC:
	case TransportNATS:
		if c.Transport.NATSURL == "" {
			errs = append(errs, errors.New("transport.nats_url is required for the nats transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q is not quic or nats", c.Transport.Kind))
	}
	if err := c.Channels.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the process logger described by c.Log.
func (c *Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
