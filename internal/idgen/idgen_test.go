package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestNewTicketIDShape(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewTicketID("tkt", "wf", "Fix login", "agent-1", ts, 0)
	if !strings.HasPrefix(id, "tkt-") {
		t.Errorf("missing prefix: %s", id)
	}
	if len(id) != len("tkt-")+DefaultLength {
		t.Errorf("unexpected length: %s", id)
	}
}

func TestNewTicketIDDeterministic(t *testing.T) {
	ts := time.Now()
	a := NewTicketID("tkt", "wf", "title", "agent", ts, 0)
	b := NewTicketID("tkt", "wf", "title", "agent", ts, 0)
	if a != b {
		t.Errorf("same inputs gave %s and %s", a, b)
	}
	c := NewTicketID("tkt", "wf", "title", "agent", ts, 1)
	if a == c {
		t.Error("nonce change should change the id")
	}
}

func TestEncodeBase36Padding(t *testing.T) {
	got := EncodeBase36([]byte{0}, 5)
	if got != "00000" {
		t.Errorf("zero bytes should pad to 00000, got %s", got)
	}
	if len(EncodeBase36([]byte{0xff, 0xff, 0xff, 0xff}, 5)) != 5 {
		t.Error("encoding should truncate/pad to requested length")
	}
}
