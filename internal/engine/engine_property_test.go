package engine

import (
	"context"
	"testing"

	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestScannerProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("empty window yields nothing and no queries", prop.ForAll(
		func(from, gap uint64) bool {
			r := &fakeReader{events: []relay.Event{lockEvent(from, 0, 1)}}
			s := NewScanner(r, quietLogger())
			events, err := s.Scan(context.Background(), relay.Window{From: from + gap + 1, To: from}, 10)
			return err == nil && len(events) == 0 && len(r.calls) == 0
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 1000),
	))

	properties.Property("sub-window queries cover the window exactly once", prop.ForAll(
		func(from, length, span uint64) bool {
			r := &fakeReader{}
			s := NewScanner(r, quietLogger())
			w := relay.Window{From: from, To: from + length}
			if _, err := s.Scan(context.Background(), w, span); err != nil {
				return false
			}
			next := w.From
			for _, c := range r.calls {
				if c.from != next || c.to < c.from || c.to-c.from+1 > span {
					return false
				}
				next = c.to + 1
			}
			return next == w.To+1
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 500),
		gen.UInt64Range(1, 64),
	))

	properties.TestingRun(t)
}

// eventsGen builds events with unique nonces at heights in [1, maxHeight].
func eventsGen(maxHeight uint64) gopter.Gen {
	return gen.SliceOf(gen.UInt64Range(1, maxHeight)).Map(func(heights []uint64) []relay.Event {
		out := make([]relay.Event, 0, len(heights))
		perHeight := map[uint64]uint{}
		for i, h := range heights {
			out = append(out, lockEvent(h, perHeight[h], uint64(i+1)))
			perHeight[h]++
		}
		// Reverse so the reader returns them out of order.
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out
	})
}

func TestEngineProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("submissions are strictly ordered, unique and below the margin", prop.ForAll(
		func(events []relay.Event, head, margin uint64) bool {
			store := relay.NewMemoryStore()
			h := newHarness(Config{Relay: "prop", Margin: margin, MaxSpan: 7}, store)
			h.reader.head = head
			h.reader.events = events

			if _, err := h.engine.RunOnce(context.Background()); err != nil {
				return false
			}
			byKey := map[string]relay.Event{}
			for _, ev := range events {
				byKey[ev.DedupKey()] = ev
			}
			var prev *relay.Event
			seen := map[string]bool{}
			for _, key := range h.writer.keys() {
				if seen[key] {
					return false
				}
				seen[key] = true
				ev := byKey[key]
				if head < margin || ev.Height > head-margin {
					return false
				}
				if prev != nil && !prev.Before(ev) {
					return false
				}
				prev = &ev
			}
			return true
		},
		eventsGen(60),
		gen.UInt64Range(0, 80),
		gen.UInt64Range(0, 10),
	))

	properties.Property("a second pass over the same window issues no writer calls", prop.ForAll(
		func(events []relay.Event) bool {
			ctx := context.Background()
			store := relay.NewMemoryStore()
			h := newHarness(Config{Relay: "prop", Margin: 0, MaxSpan: 10}, store)
			h.reader.head = 60
			h.reader.events = events
			if _, err := h.engine.RunOnce(ctx); err != nil {
				return false
			}
			first := len(h.writer.keys())

			// Rewind the watermark as if the commit had been lost.
			replay := newHarness(Config{Relay: "prop", Margin: 0, MaxSpan: 10}, &rewound{MemoryStore: store})
			replay.reader.head = 60
			replay.reader.events = events
			if _, err := replay.engine.RunOnce(ctx); err != nil {
				return false
			}
			return first == len(events) && len(replay.writer.keys()) == 0
		},
		eventsGen(60),
	))

	properties.TestingRun(t)
}

// rewound reports watermark 0 on Load while keeping the actioned keys.
type rewound struct {
	*relay.MemoryStore
}

func (r *rewound) Load(ctx context.Context) (*relay.State, error) {
	st, err := r.MemoryStore.Load(ctx)
	if err != nil {
		return nil, err
	}
	st.Watermark = 0
	return st, nil
}

func (r *rewound) Commit(ctx context.Context, st *relay.State) error { return nil }
