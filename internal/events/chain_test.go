package events

import (
	"testing"

	"buildledger/internal/domain"
)

func chain(t *testing.T, n int) []domain.Event {
	t.Helper()
	var (
		out  []domain.Event
		prev domain.Hash
	)
	for i := 1; i <= n; i++ {
		mid := int64(i)
		e := domain.Event{
			Seq:         int64(i),
			TS:          "2024-01-01T00:00:00Z",
			Kind:        domain.EventMilestoneSubmitted,
			ActorID:     "0xA",
			Role:        domain.RoleContractor,
			MilestoneID: &mid,
			Payload:     `{"n":1}`,
			PrevHash:    prev,
		}
		h, err := HashEvent(e)
		if err != nil {
			t.Fatal(err)
		}
		e.Hash = h
		prev = h
		out = append(out, e)
	}
	return out
}

func TestHashEventDeterministic(t *testing.T) {
	evts := chain(t, 1)
	a, _ := HashEvent(evts[0])
	b, _ := HashEvent(evts[0])
	if a != b || a.IsZero() {
		t.Fatalf("hash not deterministic")
	}
	changed := evts[0]
	changed.Payload = `{"n":2}`
	c, _ := HashEvent(changed)
	if c == a {
		t.Fatalf("payload not covered by hash")
	}
	changed = evts[0]
	changed.MilestoneID = nil
	d, _ := HashEvent(changed)
	if d == a {
		t.Fatalf("milestone id not covered by hash")
	}
}

func TestVerifyEvents(t *testing.T) {
	evts := chain(t, 5)
	if r := VerifyEvents(evts); !r.OK || r.Entries != 5 || r.Head != evts[4].Hash {
		t.Fatalf("valid chain rejected: %+v", r)
	}
	if r := VerifyEvents(nil); !r.OK || r.Entries != 0 {
		t.Fatalf("empty chain: %+v", r)
	}

	tampered := chain(t, 5)
	tampered[2].ActorID = "0xEvil"
	r := VerifyEvents(tampered)
	if r.OK || r.BrokenSeq == nil || *r.BrokenSeq != 3 {
		t.Fatalf("expected break at 3, got %+v", r)
	}
	if r.Entries != 2 {
		t.Fatalf("expected 2 verified entries before break, got %d", r.Entries)
	}

	gap := chain(t, 5)
	gap = append(gap[:1], gap[2:]...)
	if r := VerifyEvents(gap); r.OK || *r.BrokenSeq != 3 {
		t.Fatalf("expected gap detection, got %+v", r)
	}

	backwards := chain(t, 2)
	backwards[1].TS = "2023-12-31T23:59:59Z"
	backwards[1].Hash, _ = HashEvent(backwards[1])
	if r := VerifyEvents(backwards); r.OK {
		t.Fatalf("expected timestamp regression to be reported")
	}
}
