package memory

import (
	"errors"
	"testing"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
)

func TestDeliverAndRecord(t *testing.T) {
	tr := New()
	tr.RegisterHandler("in", func(in *channel.Inbound) error {
		s, err := in.ReadString()
		if err != nil {
			return err
		}
		out := tr.BeginMessage("out")
		out.WriteString(s)
		out.Exclude(in.Origin)
		return tr.Send(out)
	})

	w := channel.NewOutbound("in")
	w.WriteString("hello")
	body, _ := w.Consume()

	ok, err := tr.Deliver("in", "a", body)
	if !ok || err != nil {
		t.Fatalf("Deliver = %v, %v", ok, err)
	}
	sent := tr.SentOn("out")
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if len(sent[0].Excluded) != 1 || sent[0].Excluded[0] != "a" {
		t.Fatalf("excluded = %v, want [a]", sent[0].Excluded)
	}
}

func TestDeliverUnregistered(t *testing.T) {
	tr := New()
	tr.RegisterHandler("in", func(*channel.Inbound) error { return nil })
	tr.UnregisterHandler("in")
	if ok, _ := tr.Deliver("in", "", nil); ok {
		t.Fatal("delivered to an unregistered channel")
	}
	if len(tr.Handlers()) != 0 {
		t.Fatalf("handlers = %v", tr.Handlers())
	}
}

func TestSendAfterClose(t *testing.T) {
	tr := New()
	_ = tr.Close()
	if err := tr.Send(tr.BeginMessage("out")); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
