package relay

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Address is a fixed-width ledger-native account address with a canonical text form.
type Address interface {
	Bytes() []byte
	String() string
}

// Event is a TokensLocked observation on the source ledger.
type Event struct {
	Height        uint64
	Index         uint
	TxHash        string
	Sender        Address
	Recipient     common.Address
	Amount        *uint256.Int
	DestinationID *uint256.Int
	Nonce         *uint256.Int
}

// DedupKey is the source-asserted identifier of the logical transfer.
func (e Event) DedupKey() string {
	if e.Nonce == nil {
		return ""
	}
	return e.Nonce.Dec()
}

// Before reports whether e precedes o in (height, index) order.
func (e Event) Before(o Event) bool {
	if e.Height != o.Height {
		return e.Height < o.Height
	}
	return e.Index < o.Index
}

// SortEvents orders events by (height, index) ascending.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Before(events[j])
	})
}

// Window is an inclusive height range.
type Window struct {
	From uint64
	To   uint64
}

// Empty reports whether the window contains no heights.
func (w Window) Empty() bool { return w.From > w.To }

// Contains reports whether height lies inside the window.
func (w Window) Contains(height uint64) bool {
	return !w.Empty() && height >= w.From && height <= w.To
}

func (w Window) String() string { return fmt.Sprintf("[%d, %d]", w.From, w.To) }

// Split cuts the window into contiguous sub-windows of at most maxSpan heights.
// A zero maxSpan yields the window itself.
func (w Window) Split(maxSpan uint64) []Window {
	if w.Empty() {
		return nil
	}
	if maxSpan == 0 {
		return []Window{w}
	}
	var out []Window
	start := w.From
	for {
		end := w.To
		if w.To-start >= maxSpan {
			end = start + maxSpan - 1
		}
		out = append(out, Window{From: start, To: end})
		if end == w.To {
			return out
		}
		start = end + 1
	}
}

// Outcome is the per-event result of an action.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeAccepted
	OutcomeRejected
	// OutcomeIgnored marks events the relay refuses to submit (destination mismatch).
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the outcome may be recorded as actioned.
func (o Outcome) Terminal() bool {
	return o == OutcomeAccepted || o == OutcomeRejected || o == OutcomeIgnored
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "accepted":
		return OutcomeAccepted, nil
	case "rejected":
		return OutcomeRejected, nil
	case "ignored":
		return OutcomeIgnored, nil
	case "unknown":
		return OutcomeUnknown, nil
	default:
		return OutcomeUnknown, fmt.Errorf("unknown outcome %q", s)
	}
}

// Action is what the destination ledger is asked to do for an event.
type Action struct {
	Recipient common.Address
	Amount    *uint256.Int
	DedupKey  *uint256.Int
}

// ActionFor builds the destination action for an event.
func ActionFor(e Event) Action {
	return Action{Recipient: e.Recipient, Amount: e.Amount, DedupKey: e.Nonce}
}

// Receipt is the destination's answer to a submitted action.
type Receipt struct {
	Outcome Outcome
	TxHash  string
	Reason  string
}

// ActionRecord is the durable trace of a terminal per-event outcome.
type ActionRecord struct {
	Key       string
	Height    uint64
	Index     uint
	Outcome   Outcome
	TxHash    string
	Recipient string
	Amount    string
	Reason    string
}

// RecordFor builds the record for an event and its terminal receipt.
func RecordFor(e Event, r Receipt) ActionRecord {
	rec := ActionRecord{
		Key:       e.DedupKey(),
		Height:    e.Height,
		Index:     e.Index,
		Outcome:   r.Outcome,
		TxHash:    r.TxHash,
		Recipient: e.Recipient.Hex(),
		Reason:    r.Reason,
	}
	if e.Amount != nil {
		rec.Amount = e.Amount.Dec()
	}
	return rec
}
