package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/redis/go-redis/v9"
)

// RedisLedger keeps relay state in Redis: a watermark string and a hash of
// action records keyed by dedup key.
type RedisLedger struct {
	client  *redis.Client
	relayID string
}

var _ relay.StateStore = (*RedisLedger)(nil)

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, relayID string) (*RedisLedger, error) {
	if relayID == "" {
		return nil, errors.New("relayID required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisLedger{client: client, relayID: relayID}, nil
}

// Close releases the Redis connection pool.
func (r *RedisLedger) Close() error { return r.client.Close() }

// Ping checks Redis connectivity.
func (r *RedisLedger) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisLedger) watermarkKey() string { return "bridge-relay:" + r.relayID + ":watermark" }
func (r *RedisLedger) actionsKey() string   { return "bridge-relay:" + r.relayID + ":actions" }

type redisRecord struct {
	Height    uint64 `json:"height"`
	Index     uint   `json:"log_index"`
	Outcome   string `json:"outcome"`
	TxHash    string `json:"tx_hash,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func encodeRecord(rec relay.ActionRecord) (string, error) {
	if rec.Key == "" {
		return "", errors.New("dedup key required")
	}
	if !rec.Outcome.Terminal() {
		return "", fmt.Errorf("record %s: outcome %s is not terminal", rec.Key, rec.Outcome)
	}
	b, err := json.Marshal(redisRecord{
		Height:    rec.Height,
		Index:     rec.Index,
		Outcome:   rec.Outcome.String(),
		TxHash:    rec.TxHash,
		Recipient: rec.Recipient,
		Amount:    rec.Amount,
		Reason:    rec.Reason,
	})
	if err != nil {
		return "", fmt.Errorf("encode record %s: %w", rec.Key, err)
	}
	return string(b), nil
}

func (r *RedisLedger) Init(ctx context.Context, startHeight uint64) error {
	if err := r.client.SetNX(ctx, r.watermarkKey(), startHeight, 0).Err(); err != nil {
		return fmt.Errorf("init relay state: %w", err)
	}
	return nil
}

func (r *RedisLedger) Load(ctx context.Context) (*relay.State, error) {
	raw, err := r.client.Get(ctx, r.watermarkKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, relay.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	watermark, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse watermark %q: %w", raw, err)
	}

	entries, err := r.client.HGetAll(ctx, r.actionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	st := relay.NewState(watermark)
	for key, val := range entries {
		rec, err := decodeRecord(key, val)
		if err != nil {
			return nil, err
		}
		st.Actioned[key] = rec.Outcome
	}
	return st, nil
}

func decodeRecord(key, val string) (relay.ActionRecord, error) {
	var raw redisRecord
	if err := json.Unmarshal([]byte(val), &raw); err != nil {
		return relay.ActionRecord{}, fmt.Errorf("decode action %s: %w", key, err)
	}
	o, err := relay.ParseOutcome(raw.Outcome)
	if err != nil {
		return relay.ActionRecord{}, fmt.Errorf("action %s: %w", key, err)
	}
	return relay.ActionRecord{
		Key:       key,
		Height:    raw.Height,
		Index:     raw.Index,
		Outcome:   o,
		TxHash:    raw.TxHash,
		Recipient: raw.Recipient,
		Amount:    raw.Amount,
		Reason:    raw.Reason,
	}, nil
}

// Actions lists every record ordered by source position. Redis keeps no
// creation time, so CreatedAt is zero.
func (r *RedisLedger) Actions(ctx context.Context) ([]StoredAction, error) {
	entries, err := r.client.HGetAll(ctx, r.actionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	out := make([]StoredAction, 0, len(entries))
	for key, val := range entries {
		rec, err := decodeRecord(key, val)
		if err != nil {
			return nil, err
		}
		out = append(out, StoredAction{ActionRecord: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// Summary returns the watermark and per-outcome action counts.
func (r *RedisLedger) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{Outcomes: map[relay.Outcome]int{}}
	st, err := r.Load(ctx)
	if err != nil {
		return sum, err
	}
	sum.Watermark = st.Watermark
	for _, o := range st.Actioned {
		sum.Outcomes[o]++
	}
	return sum, nil
}

func (r *RedisLedger) Record(ctx context.Context, rec relay.ActionRecord) error {
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := r.client.HSetNX(ctx, r.actionsKey(), rec.Key, val).Err(); err != nil {
		return fmt.Errorf("insert action %s: %w", rec.Key, err)
	}
	return nil
}

// Commit writes pending records and the watermark in a MULTI/EXEC block,
// guarded by WATCH on the watermark so a concurrent writer aborts the commit.
func (r *RedisLedger) Commit(ctx context.Context, st *relay.State) error {
	values := make(map[string]string, len(st.Pending()))
	for _, rec := range st.Pending() {
		val, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		values[rec.Key] = val
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, r.watermarkKey()).Uint64()
		if errors.Is(err, redis.Nil) {
			return relay.ErrNotInitialized
		}
		if err != nil {
			return fmt.Errorf("read watermark: %w", err)
		}
		if st.Watermark < cur {
			return fmt.Errorf("commit watermark %d over %d: %w", st.Watermark, cur, relay.ErrWatermarkRegression)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, val := range values {
				pipe.HSetNX(ctx, r.actionsKey(), key, val)
			}
			pipe.Set(ctx, r.watermarkKey(), st.Watermark, 0)
			return nil
		})
		return err
	}, r.watermarkKey())
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("commit watermark %d: concurrent writer: %w", st.Watermark, err)
		}
		return err
	}
	st.ClearPending()
	return nil
}
