package channel

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/proto"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOutboundConsumeOnce(t *testing.T) {
	out := NewOutbound("update-config/client")
	out.WriteString("volume=0.5")

	body, err := out.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	got, err := proto.NewReader(body).ReadString()
	if err != nil || got != "volume=0.5" {
		t.Fatalf("body = %q, %v", got, err)
	}
	if _, err := out.Consume(); !errors.Is(err, ErrConsumed) {
		t.Fatalf("second Consume: %v, want ErrConsumed", err)
	}
}

func TestOutboundUnbound(t *testing.T) {
	if _, err := NewOutbound("").Consume(); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("err = %v, want ErrNoChannel", err)
	}
}

func TestOutboundExclude(t *testing.T) {
	out := NewOutbound("c")
	out.Exclude("")
	if out.Excluded("") {
		t.Fatal("zero peer must not be excluded")
	}
	out.Exclude("peer-a")
	if !out.Excluded("peer-a") || out.Excluded("peer-b") {
		t.Fatal("exclusion set wrong")
	}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		wantErr string
	}{
		{"ok", func(*Inbound) error { return nil }, ""},
		{"error", func(in *Inbound) error {
			_, err := in.ReadString()
			return err
		}, "truncated"},
		{"panic", func(*Inbound) error { panic("boom") }, "handler panic: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Dispatch(discard, NewInbound("c", "peer", nil), tt.handler)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
