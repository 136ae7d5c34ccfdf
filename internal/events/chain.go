package events

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"buildledger/internal/domain"
)

// entryDomainKey separates audit entry hashes from any other BLAKE3 use of
// the same bytes.
var entryDomainKey = [32]byte{
	'b', 'u', 'i', 'l', 'd', 'l', 'e', 'd', 'g', 'e', 'r', '.', 'a', 'u', 'd', 'i',
	't', '.', 'e', 'n', 't', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}
}

// chainRecord is the hashed form of an entry. Field numbers are part of the
// on-disk format; never renumber.
type chainRecord struct {
	Seq         int64  `cbor:"1,keyasint"`
	TS          string `cbor:"2,keyasint"`
	Kind        string `cbor:"3,keyasint"`
	ActorID     string `cbor:"4,keyasint"`
	Role        string `cbor:"5,keyasint"`
	MilestoneID *int64 `cbor:"6,keyasint,omitempty"`
	DeliveryID  *int64 `cbor:"7,keyasint,omitempty"`
	Payload     []byte `cbor:"8,keyasint"`
	PrevHash    []byte `cbor:"9,keyasint"`
}

// HashEvent returns the chain hash of e: keyed BLAKE3 over the deterministic
// CBOR encoding of every field except Hash.
func HashEvent(e domain.Event) (domain.Hash, error) {
	data, err := encMode.Marshal(chainRecord{
		Seq:         e.Seq,
		TS:          e.TS,
		Kind:        e.Kind,
		ActorID:     e.ActorID,
		Role:        e.Role.String(),
		MilestoneID: e.MilestoneID,
		DeliveryID:  e.DeliveryID,
		Payload:     []byte(e.Payload),
		PrevHash:    e.PrevHash[:],
	})
	if err != nil {
		return domain.Hash{}, fmt.Errorf("encode event %d: %w", e.Seq, err)
	}
	hasher, err := blake3.NewKeyed(entryDomainKey[:])
	if err != nil {
		return domain.Hash{}, fmt.Errorf("blake3 keyed init: %w", err)
	}
	hasher.Write(data)
	var h domain.Hash
	copy(h[:], hasher.Sum(nil))
	return h, nil
}

// VerifyReport summarizes a chain check.
type VerifyReport struct {
	OK        bool        `json:"ok"`
	Entries   int64       `json:"entries"`
	Head      domain.Hash `json:"head"`
	BrokenSeq *int64      `json:"broken_seq,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Verifier checks entries one at a time in sequence order.
type Verifier struct {
	report VerifyReport
	prevTS time.Time
	done   bool
}

// Add checks e against the previous entry. It returns false once the chain
// is broken; later calls are ignored.
func (v *Verifier) Add(e domain.Event) bool {
	if v.done {
		return false
	}
	fail := func(format string, args ...any) bool {
		seq := e.Seq
		v.report.BrokenSeq = &seq
		v.report.Reason = fmt.Sprintf(format, args...)
		v.done = true
		return false
	}
	if want := v.report.Entries + 1; e.Seq != want {
		return fail("sequence gap: got %d, want %d", e.Seq, want)
	}
	if e.PrevHash != v.report.Head {
		return fail("prev_hash %s does not match hash of entry %d", e.PrevHash, e.Seq-1)
	}
	ts, err := time.Parse(TimeFormat, e.TS)
	if err != nil {
		return fail("timestamp: %v", err)
	}
	if ts.Before(v.prevTS) {
		return fail("timestamp %s precedes %s", e.TS, v.prevTS.Format(TimeFormat))
	}
	sum, err := HashEvent(e)
	if err != nil {
		return fail("%v", err)
	}
	if sum != e.Hash {
		return fail("hash mismatch: stored %s, computed %s", e.Hash, sum)
	}
	v.report.Entries = e.Seq
	v.report.Head = e.Hash
	v.prevTS = ts
	return true
}

// Report returns the result so far.
func (v *Verifier) Report() VerifyReport {
	r := v.report
	r.OK = !v.done
	return r
}

// VerifyEvents checks a complete log held in memory.
func VerifyEvents(events []domain.Event) VerifyReport {
	var v Verifier
	for _, e := range events {
		if !v.Add(e) {
			break
		}
	}
	return v.Report()
}
