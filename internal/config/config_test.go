package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/relay"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default: %v", err)
	}
}

func TestLoad(t *testing.T) {
	const doc = `
[server]
listen = ":7000"
node_id = "eu-1"

[channels]
update_inbound = "SPW_UpdateConfigServer"
update_outbound = "SPW_UpdateConfigClient"
disable_inbound = "SPW_DisableConfigServer"
disable_outbound = "SPW_DisableConfigClient"

[relay]
echo = true

[discovery]
enabled = false

[metrics]
listen = "127.0.0.1:9100"

[log]
level = "debug"
format = "json"
`
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":7000" || cfg.Server.NodeID != "eu-1" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Channels.UpdateOutbound != "SPW_UpdateConfigClient" {
		t.Fatalf("channels = %+v", cfg.Channels)
	}
	if !cfg.Relay.Echo || cfg.Discovery.Enabled || cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Fatalf("cfg = %+v", cfg)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Transport.Kind != TransportQUIC || cfg.Discovery.Instance != "spw-relay" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.NewLogger() == nil {
		t.Fatal("nil logger")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"unknown key", "[server]\nport = 1\n", ""},
		{"bad transport", "[transport]\nkind = \"udp\"\n", "transport.kind"},
		{"nats without url", "[transport]\nkind = \"nats\"\nnats_url = \"\"\n", "nats_url"},
		{"shared channel", "[channels]\nupdate_outbound = \"" + relay.DefaultUpdateInbound + "\"\n", "share name"},
		{"cert without key", "[server]\ncert_file = \"relay.pem\"\n", "key_file"},
		{"bad level", "[log]\nlevel = \"loud\"\n", "log.level"},
		{"bad format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"syntax", "[server\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}
