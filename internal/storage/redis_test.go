package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/devblac/bridge-relay/internal/relay"
)

func newTestRedis(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := OpenRedis(context.Background(), mr.Addr(), "", 0, "pair")
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

func TestRedisLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestRedis(t)

	if _, err := l.Load(ctx); !errors.Is(err, relay.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := l.Init(ctx, 100); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := l.Init(ctx, 1); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if got, _ := mr.Get("bridge-relay:pair:watermark"); got != "100" {
		t.Fatalf("watermark key = %q", got)
	}

	if err := l.Record(ctx, accepted("5", 101)); err != nil {
		t.Fatalf("record: %v", err)
	}
	st, err := l.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Watermark != 100 || st.Actioned["5"] != relay.OutcomeAccepted {
		t.Fatalf("unexpected state: %+v", st)
	}

	st.Mark(relay.ActionRecord{Key: "6", Height: 102, Outcome: relay.OutcomeRejected, Reason: "reverted"})
	st.Watermark = 110
	if err := l.Commit(ctx, st); err != nil {
		t.Fatalf("commit: %v", err)
	}
	st, err = l.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if st.Watermark != 110 || st.Actioned["6"] != relay.OutcomeRejected {
		t.Fatalf("unexpected state after commit: %+v", st)
	}
}

func TestRedisLedgerRefusesRegression(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRedis(t)
	if err := l.Init(ctx, 30); err != nil {
		t.Fatalf("init: %v", err)
	}
	st := relay.NewState(20)
	st.Mark(accepted("1", 21))
	if err := l.Commit(ctx, st); !errors.Is(err, relay.ErrWatermarkRegression) {
		t.Fatalf("expected regression, got %v", err)
	}
	again, _ := l.Load(ctx)
	if again.Has("1") {
		t.Fatalf("records leaked from refused commit")
	}
}

func TestRedisLedgerCommitBeforeInit(t *testing.T) {
	l, _ := newTestRedis(t)
	if err := l.Commit(context.Background(), relay.NewState(1)); !errors.Is(err, relay.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestOpenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := OpenRedis(context.Background(), addr, "", 0, "pair"); err == nil {
		t.Fatalf("expected error for closed server")
	}
}

func TestRedisLedgerActionsAndSummary(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestRedis(t)
	if _, err := l.Summary(ctx); !errors.Is(err, relay.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := l.Init(ctx, 0); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, rec := range []relay.ActionRecord{
		accepted("9", 12),
		accepted("3", 4),
		{Key: "4", Height: 4, Index: 1, Outcome: relay.OutcomeIgnored, Reason: "destination 5"},
	} {
		if err := l.Record(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.Key, err)
		}
	}

	actions, err := l.Actions(ctx)
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	var keys []string
	for _, a := range actions {
		keys = append(keys, a.Key)
	}
	if len(keys) != 3 || keys[0] != "3" || keys[1] != "4" || keys[2] != "9" {
		t.Fatalf("unexpected order: %v", keys)
	}
	if actions[1].Reason != "destination 5" {
		t.Fatalf("reason not kept: %+v", actions[1])
	}

	sum, err := l.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Outcomes[relay.OutcomeAccepted] != 2 || sum.Outcomes[relay.OutcomeIgnored] != 1 {
		t.Fatalf("unexpected counts: %v", sum.Outcomes)
	}
}
