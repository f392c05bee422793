package relay

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// State is a snapshot of the relay ledger taken at the start of a cycle.
type State struct {
	Watermark uint64
	Actioned  map[string]Outcome

	pending []ActionRecord
}

// NewState returns a state at the given watermark with no actioned keys.
func NewState(watermark uint64) *State {
	return &State{Watermark: watermark, Actioned: map[string]Outcome{}}
}

// Has reports whether key already reached a terminal outcome.
func (s *State) Has(key string) bool {
	_, ok := s.Actioned[key]
	return ok
}

// Mark adds a terminal record to the snapshot and queues it for Commit.
func (s *State) Mark(rec ActionRecord) {
	if s.Actioned == nil {
		s.Actioned = map[string]Outcome{}
	}
	s.Actioned[rec.Key] = rec.Outcome
	s.pending = append(s.pending, rec)
}

// Pending returns records marked since the snapshot was loaded.
func (s *State) Pending() []ActionRecord { return s.pending }

// ClearPending is called by stores once pending records are durable.
func (s *State) ClearPending() { s.pending = nil }

// ErrNotInitialized is returned by Load before Init.
var ErrNotInitialized = errors.New("relay state not initialized")

// ErrWatermarkRegression is returned by Commit when the new watermark is lower than the stored one.
var ErrWatermarkRegression = errors.New("watermark regression")

// MemoryStore keeps relay state in process memory. It is used for dry runs
// and tests; it loses every guarantee on restart.
type MemoryStore struct {
	mu          sync.Mutex
	initialized bool
	watermark   uint64
	records     map[string]ActionRecord
	order       []string
}

// NewMemoryStore returns an empty, uninitialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]ActionRecord{}}
}

func (m *MemoryStore) Init(_ context.Context, startHeight uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		m.initialized = true
		m.watermark = startHeight
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	st := NewState(m.watermark)
	for k, r := range m.records {
		st.Actioned[k] = r.Outcome
	}
	return st, nil
}

func (m *MemoryStore) Record(_ context.Context, rec ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(rec)
	return nil
}

func (m *MemoryStore) record(rec ActionRecord) {
	if _, ok := m.records[rec.Key]; ok {
		return
	}
	m.records[rec.Key] = rec
	m.order = append(m.order, rec.Key)
}

func (m *MemoryStore) Commit(_ context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	if st.Watermark < m.watermark {
		return errors.Wrapf(ErrWatermarkRegression, "commit %d over %d", st.Watermark, m.watermark)
	}
	for _, rec := range st.Pending() {
		m.record(rec)
	}
	m.watermark = st.Watermark
	st.ClearPending()
	return nil
}

// Records returns every stored record in insertion order.
func (m *MemoryStore) Records() []ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActionRecord, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.records[k])
	}
	return out
}

// Watermark returns the committed watermark.
func (m *MemoryStore) Watermark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark
}
