package relay

import "context"

// LedgerReader reads TokensLocked events from the source ledger.
//
// HeadHeight failures are Connectivity errors. Fetch failures are marked
// Transient or Fatal; the reader never decides whether to retry.
type LedgerReader interface {
	HeadHeight(ctx context.Context) (uint64, error)
	Fetch(ctx context.Context, from, to uint64) ([]Event, error)
}

// LedgerWriter submits actions to the destination ledger.
//
// A non-nil error means nothing was broadcast. Once broadcast, the result is
// always a Receipt, with OutcomeUnknown when it cannot be confirmed.
// Destinations must reject an action whose dedup key they already applied.
type LedgerWriter interface {
	SubmitAction(ctx context.Context, action Action) (Receipt, error)
}

// StateStore is the durable relay ledger: watermark plus actioned keys.
//
// Init creates the state at the start height once; later calls are no-ops.
// Record persists a single terminal outcome as soon as it is known.
// Commit persists the state's watermark together with any pending records in
// one atomic step and must refuse to move the watermark backwards.
type StateStore interface {
	Init(ctx context.Context, startHeight uint64) error
	Load(ctx context.Context) (*State, error)
	Record(ctx context.Context, rec ActionRecord) error
	Commit(ctx context.Context, st *State) error
}
