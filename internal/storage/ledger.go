package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/devblac/bridge-relay/internal/relay"
)

// Ledger is the SQLite relay ledger for a single relay pair.
type Ledger struct {
	store   *Store
	relayID string
}

var _ relay.StateStore = (*Ledger)(nil)

// Init creates the relay row at startHeight unless it already exists.
func (l *Ledger) Init(ctx context.Context, startHeight uint64) error {
	if l.relayID == "" {
		return errors.New("relayID required")
	}
	_, err := l.store.db.ExecContext(ctx, `
INSERT INTO relay_state (relay_id, watermark)
VALUES (?, ?)
ON CONFLICT(relay_id) DO NOTHING;
`, l.relayID, startHeight)
	if err != nil {
		return fmt.Errorf("init relay state: %w", err)
	}
	return nil
}

// Load reads the watermark and the set of actioned keys.
func (l *Ledger) Load(ctx context.Context) (*relay.State, error) {
	var watermark uint64
	err := l.store.db.QueryRowContext(ctx, `
SELECT watermark FROM relay_state WHERE relay_id = ?;
`, l.relayID).Scan(&watermark)
	if err == sql.ErrNoRows {
		return nil, relay.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}

	rows, err := l.store.db.QueryContext(ctx, `
SELECT dedup_key, outcome FROM actions WHERE relay_id = ?;
`, l.relayID)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	defer rows.Close()

	st := relay.NewState(watermark)
	for rows.Next() {
		var key, outcome string
		if err := rows.Scan(&key, &outcome); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		o, err := relay.ParseOutcome(outcome)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", key, err)
		}
		st.Actioned[key] = o
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	return st, nil
}

// Record persists a terminal outcome; the primary key keeps the first record per key.
func (l *Ledger) Record(ctx context.Context, rec relay.ActionRecord) error {
	return insertRecord(ctx, l.store.db, l.relayID, rec)
}

// Commit stores pending records and advances the watermark in one transaction.
func (l *Ledger) Commit(ctx context.Context, st *relay.State) error {
	err := l.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range st.Pending() {
			if err := insertRecord(ctx, tx, l.relayID, rec); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
UPDATE relay_state
SET watermark = ?, updated_at = CURRENT_TIMESTAMP
WHERE relay_id = ? AND watermark <= ?;
`, st.Watermark, l.relayID, st.Watermark)
		if err != nil {
			return fmt.Errorf("update watermark: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update watermark: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("commit watermark %d: %w", st.Watermark, relay.ErrWatermarkRegression)
		}
		return nil
	})
	if err != nil {
		return err
	}
	st.ClearPending()
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, relayID string, rec relay.ActionRecord) error {
	if rec.Key == "" {
		return errors.New("dedup key required")
	}
	if !rec.Outcome.Terminal() {
		return fmt.Errorf("record %s: outcome %s is not terminal", rec.Key, rec.Outcome)
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO actions (relay_id, dedup_key, height, log_index, outcome, tx_hash, recipient, amount, reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(relay_id, dedup_key) DO NOTHING;
`, relayID, rec.Key, rec.Height, rec.Index, rec.Outcome.String(), rec.TxHash, rec.Recipient, rec.Amount, rec.Reason)
	if err != nil {
		return fmt.Errorf("insert action %s: %w", rec.Key, err)
	}
	return nil
}

// StoredAction is an action record as kept on disk.
type StoredAction struct {
	relay.ActionRecord
	CreatedAt time.Time
}

// Actions lists every record for the relay ordered by source position.
func (l *Ledger) Actions(ctx context.Context) ([]StoredAction, error) {
	rows, err := l.store.db.QueryContext(ctx, `
SELECT dedup_key, height, log_index, outcome, COALESCE(tx_hash, ''), COALESCE(recipient, ''),
       COALESCE(amount, ''), COALESCE(reason, ''), created_at
FROM actions
WHERE relay_id = ?
ORDER BY height, log_index;
`, l.relayID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []StoredAction
	for rows.Next() {
		var (
			a       StoredAction
			outcome string
		)
		if err := rows.Scan(&a.Key, &a.Height, &a.Index, &outcome, &a.TxHash, &a.Recipient, &a.Amount, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if a.Outcome, err = relay.ParseOutcome(outcome); err != nil {
			return nil, fmt.Errorf("action %s: %w", a.Key, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return out, nil
}

// Summary describes the persisted relay position.
type Summary struct {
	Watermark uint64
	UpdatedAt time.Time
	Outcomes  map[relay.Outcome]int
}

// Summary returns the watermark and per-outcome action counts.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{Outcomes: map[relay.Outcome]int{}}
	err := l.store.db.QueryRowContext(ctx, `
SELECT watermark, updated_at FROM relay_state WHERE relay_id = ?;
`, l.relayID).Scan(&sum.Watermark, &sum.UpdatedAt)
	if err == sql.ErrNoRows {
		return sum, relay.ErrNotInitialized
	}
	if err != nil {
		return sum, fmt.Errorf("summary watermark: %w", err)
	}

	rows, err := l.store.db.QueryContext(ctx, `
SELECT outcome, COUNT(*) FROM actions WHERE relay_id = ? GROUP BY outcome;
`, l.relayID)
	if err != nil {
		return sum, fmt.Errorf("summary actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return sum, fmt.Errorf("scan summary: %w", err)
		}
		o, err := relay.ParseOutcome(outcome)
		if err != nil {
			return sum, err
		}
		sum.Outcomes[o] = n
	}
	return sum, rows.Err()
}
