package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/devblac/bridge-relay/internal/alert"
	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fetchCall struct{ from, to uint64 }

// fakeReader serves events from a fixed list; fetchErrs are consumed one per Fetch.
type fakeReader struct {
	mu        sync.Mutex
	head      uint64
	headErr   error
	events    []relay.Event
	fetchErrs []error
	calls     []fetchCall
}

func (f *fakeReader) HeadHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeReader) Fetch(ctx context.Context, from, to uint64) ([]relay.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{from, to})
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []relay.Event
	for _, ev := range f.events {
		if ev.Height >= from && ev.Height <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeReader) setHead(h uint64) {
	f.mu.Lock()
	f.head = h
	f.mu.Unlock()
}

// fakeWriter accepts everything unless an outcome or error is configured per nonce.
type fakeWriter struct {
	mu       sync.Mutex
	outcomes map[string]relay.Outcome
	errs     map[string]error
	actions  []relay.Action
}

func (f *fakeWriter) SubmitAction(ctx context.Context, a relay.Action) (relay.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := a.DedupKey.Dec()
	if err := f.errs[key]; err != nil {
		return relay.Receipt{}, err
	}
	f.actions = append(f.actions, a)
	o, ok := f.outcomes[key]
	if !ok {
		o = relay.OutcomeAccepted
	}
	r := relay.Receipt{Outcome: o, TxHash: "0xtx" + key}
	if o == relay.OutcomeRejected {
		r.Reason = "execution reverted"
	}
	return r, nil
}

func (f *fakeWriter) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.actions))
	for _, a := range f.actions {
		out = append(out, a.DedupKey.Dec())
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alert.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n alert.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func lockEvent(height uint64, index uint, nonce uint64) relay.Event {
	return relay.Event{
		Height:        height,
		Index:         index,
		TxHash:        "0xsrc",
		Sender:        common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Recipient:     common.HexToAddress("0x2000000000000000000000000000000000000002"),
		Amount:        uint256.NewInt(1_000_000),
		DestinationID: uint256.NewInt(137),
		Nonce:         uint256.NewInt(nonce),
	}
}

type harness struct {
	reader *fakeReader
	writer *fakeWriter
	store  relay.StateStore
	engine *Engine
	sleeps []time.Duration
}

func newHarness(cfg Config, store relay.StateStore, opts ...Option) *harness {
	h := &harness{
		reader: &fakeReader{},
		writer: &fakeWriter{outcomes: map[string]relay.Outcome{}, errs: map[string]error{}},
		store:  store,
	}
	logger := quietLogger()
	scanner := NewScanner(h.reader, logger, WithRetryDelay(time.Millisecond))
	opts = append([]Option{WithLogger(logger)}, opts...)
	h.engine = New(cfg, h.reader, scanner, h.writer, store, opts...)
	return h
}
