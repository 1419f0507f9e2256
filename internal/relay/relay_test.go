package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel/memory"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/proto"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestRelay(t *testing.T, opts ...Option) (*Relay, *memory.Transport) {
	t.Helper()
	tr := memory.New()
	r, err := New(tr, append([]Option{WithLogger(quiet)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.Stop)
	return r, tr
}

func encode(s string) []byte {
	w := proto.NewWriter()
	w.WriteString(s)
	return w.Bytes()
}

func decode(t *testing.T, body []byte) string {
	t.Helper()
	r := proto.NewReader(body)
	s, err := r.ReadString()
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("body has %d trailing bytes", r.Remaining())
	}
	return s
}

func TestUpdateConfigRoundTrip(t *testing.T) {
	payloads := []string{
		"volume=0.5;muffle=true",
		"",
		"{\"eavesdropping\":{\"enabled\":true,\"volume\":1.25}}",
		"multi\nline\x00with nul",
		"ünïcödé 🔊",
		strings.Repeat("z", 70000),
	}
	for i, p := range payloads {
		t.Run(fmt.Sprintf("payload-%d", i), func(t *testing.T) {
			_, tr := newTestRelay(t)
			if _, err := tr.Deliver(DefaultUpdateInbound, "peer-a", encode(p)); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			sent := tr.Sent()
			if len(sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(sent))
			}
			if sent[0].Channel != DefaultUpdateOutbound {
				t.Fatalf("channel = %q, want %q", sent[0].Channel, DefaultUpdateOutbound)
			}
			if got := decode(t, sent[0].Body); got != p {
				t.Fatalf("payload changed in transit")
			}
		})
	}
}

func TestUpdateConfigExcludesOrigin(t *testing.T) {
	_, tr := newTestRelay(t)
	if _, err := tr.Deliver(DefaultUpdateInbound, "peer-b", encode("x")); err != nil {
		t.Fatal(err)
	}
	sent := tr.Sent()
	if len(sent) != 1 || len(sent[0].Excluded) != 1 || sent[0].Excluded[0] != "peer-b" {
		t.Fatalf("sent = %+v, want origin peer-b excluded", sent)
	}
}

func TestUpdateConfigEcho(t *testing.T) {
	_, tr := newTestRelay(t, WithEcho(true))
	if _, err := tr.Deliver(DefaultUpdateInbound, "peer-b", encode("x")); err != nil {
		t.Fatal(err)
	}
	if ex := tr.Sent()[0].Excluded; len(ex) != 0 {
		t.Fatalf("echo relay excluded %v", ex)
	}
}

func TestUpdateConfigMalformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want error
	}{
		{"empty", nil, proto.ErrTruncated},
		{"truncated", []byte{10, 'a'}, proto.ErrTruncated},
		{"overflow", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, proto.ErrLengthOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, tr := newTestRelay(t)
			_, err := tr.Deliver(DefaultUpdateInbound, "peer-a", tt.body)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if n := len(tr.Sent()); n != 0 {
				t.Fatalf("malformed update produced %d messages", n)
			}
		})
	}
}

func TestUpdateConfigNilInbound(t *testing.T) {
	r, tr := newTestRelay(t)
	if err := r.UpdateConfig(nil); !errors.Is(err, proto.ErrTruncated) {
		t.Fatalf("nil inbound: err = %v, want ErrTruncated", err)
	}
	if err := r.UpdateConfig(&channel.Inbound{Channel: DefaultUpdateInbound}); !errors.Is(err, proto.ErrTruncated) {
		t.Fatalf("inbound without body: err = %v, want ErrTruncated", err)
	}
	if n := len(tr.Sent()); n != 0 {
		t.Fatalf("nil update produced %d messages", n)
	}
}

func TestDisableConfigIsPayloadFree(t *testing.T) {
	bodies := map[string][]byte{
		"nil":     nil,
		"empty":   {},
		"garbage": {0xde, 0xad, 0xbe, 0xef, 0xff, 0xff},
		"string":  encode("volume=1"),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, tr := newTestRelay(t)
			if _, err := tr.Deliver(DefaultDisableInbound, "peer-a", body); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			sent := tr.Sent()
			if len(sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(sent))
			}
			if sent[0].Channel != DefaultDisableOutbound {
				t.Fatalf("channel = %q", sent[0].Channel)
			}
			if len(sent[0].Body) != 0 {
				t.Fatalf("disable body = %x, want empty", sent[0].Body)
			}
		})
	}
}

func TestDisableConfigDoesNotReadInbound(t *testing.T) {
	r, tr := newTestRelay(t)
	in := channel.NewInbound(DefaultDisableInbound, "peer-a", []byte{0xff, 0xff, 0xff})
	if err := r.DisableConfig(in); err != nil {
		t.Fatal(err)
	}
	if in.Remaining() != 3 {
		t.Fatalf("inbound was read: %d bytes left", in.Remaining())
	}
	if err := r.DisableConfig(nil); err != nil {
		t.Fatalf("nil inbound: %v", err)
	}
	if n := len(tr.SentOn(DefaultDisableOutbound)); n != 2 {
		t.Fatalf("sent %d disables, want 2", n)
	}
}

func TestNoCrossTalk(t *testing.T) {
	_, tr := newTestRelay(t)
	if _, err := tr.Deliver(DefaultUpdateInbound, "peer-a", encode("x")); err != nil {
		t.Fatal(err)
	}
	if n := len(tr.SentOn(DefaultDisableOutbound)); n != 0 {
		t.Fatalf("update produced %d disable messages", n)
	}

	_, tr = newTestRelay(t)
	if _, err := tr.Deliver(DefaultDisableInbound, "peer-a", encode("x")); err != nil {
		t.Fatal(err)
	}
	if n := len(tr.SentOn(DefaultUpdateOutbound)); n != 0 {
		t.Fatalf("disable produced %d update messages", n)
	}
}

func TestIndependentMessages(t *testing.T) {
	_, tr := newTestRelay(t)
	const n = 25
	for i := 0; i < n; i++ {
		if _, err := tr.Deliver(DefaultUpdateInbound, "peer-a", encode(fmt.Sprintf("cfg-%02d", i))); err != nil {
			t.Fatal(err)
		}
	}
	sent := tr.SentOn(DefaultUpdateOutbound)
	if len(sent) != n {
		t.Fatalf("sent %d, want %d", len(sent), n)
	}
	for i, s := range sent {
		want := fmt.Sprintf("cfg-%02d", i)
		if got := decode(t, s.Body); got != want {
			t.Fatalf("message %d = %q, want %q", i, got, want)
		}
	}
}

func TestPushConfigAndDisable(t *testing.T) {
	r, tr := newTestRelay(t)
	if err := r.PushConfig("volume=0.5;muffle=true"); err != nil {
		t.Fatal(err)
	}
	if err := r.PushDisable(); err != nil {
		t.Fatal(err)
	}
	sent := tr.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d, want 2", len(sent))
	}
	if got := decode(t, sent[0].Body); got != "volume=0.5;muffle=true" || len(sent[0].Excluded) != 0 {
		t.Fatalf("push config = %q excluded=%v", got, sent[0].Excluded)
	}
	if sent[1].Channel != DefaultDisableOutbound || len(sent[1].Body) != 0 {
		t.Fatalf("push disable = %+v", sent[1])
	}
}

func TestSendFailureIsReturned(t *testing.T) {
	r, tr := newTestRelay(t)
	_ = tr.Close()
	if err := r.PushConfig("x"); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := r.PushDisable(); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestLifecycle(t *testing.T) {
	tr := memory.New()
	r, err := New(tr, WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Healthy(); !errors.Is(err, ErrStopped) {
		t.Fatalf("healthy before start: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start: %v", err)
	}
	if len(tr.Handlers()) != 2 {
		t.Fatalf("handlers = %v", tr.Handlers())
	}
	if err := r.Healthy(); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	r.Stop()
	r.Stop()
	if len(tr.Handlers()) != 0 {
		t.Fatalf("handlers after stop = %v", tr.Handlers())
	}
	if ok, _ := tr.Deliver(DefaultUpdateInbound, "peer-a", encode("x")); ok {
		t.Fatal("message delivered after Stop")
	}
	if err := r.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop: %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	tr := memory.New()
	tr.RegisterHandler(DefaultUpdateInbound, func(*channel.Inbound) error { return nil })
	r, err := New(tr, WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}
	r.Stop()
	if len(tr.Handlers()) != 1 {
		t.Fatal("Stop before Start removed a handler it never registered")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("nil transport accepted")
	}
	bad := DefaultChannels()
	bad.UpdateOutbound = bad.UpdateInbound
	if _, err := New(memory.New(), WithChannels(bad)); err == nil {
		t.Fatal("shared channel name accepted")
	}
}

func TestCustomChannels(t *testing.T) {
	c := Channels{
		UpdateInbound:   "SPW_UpdateConfigServer",
		UpdateOutbound:  "SPW_UpdateConfigClient",
		DisableInbound:  "SPW_DisableConfigServer",
		DisableOutbound: "SPW_DisableConfigClient",
	}
	_, tr := newTestRelay(t, WithChannels(c))
	if _, err := tr.Deliver(c.UpdateInbound, "peer-a", encode("x")); err != nil {
		t.Fatal(err)
	}
	if n := len(tr.SentOn(c.UpdateOutbound)); n != 1 {
		t.Fatalf("sent %d on custom outbound", n)
	}
}
