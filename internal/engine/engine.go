package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblac/bridge-relay/internal/alert"
	"github.com/devblac/bridge-relay/internal/metrics"
	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Defaults used when Config leaves a value at zero.
const (
	DefaultPollInterval      = 15 * time.Second
	DefaultBackoffDelay      = 30 * time.Second
	DefaultConnectivityDelay = 60 * time.Second
)

// Config holds the relay loop parameters.
type Config struct {
	// Relay names the source/destination pair in logs and alerts.
	Relay       string
	StartHeight uint64
	Margin      uint64
	MaxSpan     uint64

	PollInterval      time.Duration
	BackoffDelay      time.Duration
	ConnectivityDelay time.Duration

	// DestinationID, when set, restricts relaying to events addressed to it.
	DestinationID *uint256.Int
}

// Notifier receives alerts for rejected actions and faults.
type Notifier interface {
	Notify(ctx context.Context, n alert.Notification)
}

// Engine drives the scan, order, action, advance cycle against one source
// and one destination. It is not safe to run two engines on the same store.
type Engine struct {
	cfg      Config
	reader   relay.LedgerReader
	scanner  *Scanner
	writer   relay.LedgerWriter
	store    relay.StateStore
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	phase atomic.Int32
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// New builds an engine. The scanner must read from reader.
func New(cfg Config, reader relay.LedgerReader, scanner *Scanner, writer relay.LedgerWriter, store relay.StateStore, opts ...Option) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BackoffDelay <= 0 {
		cfg.BackoffDelay = DefaultBackoffDelay
	}
	if cfg.ConnectivityDelay <= 0 {
		cfg.ConnectivityDelay = DefaultConnectivityDelay
	}
	e := &Engine{
		cfg:     cfg,
		reader:  reader,
		scanner: scanner,
		writer:  writer,
		store:   store,
		logger:  slog.Default(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase returns the current phase; safe for concurrent use.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
	e.metrics.SetPhase(int(p))
}

// Cycle summarizes one RunOnce pass.
type Cycle struct {
	ID        string
	Head      uint64
	Window    relay.Window
	Idle      bool
	Events    int
	Submitted int
	Skipped   int
}

// RunOnce performs a single cycle. A nil error means the watermark was
// committed, or there was nothing to do.
func (e *Engine) RunOnce(ctx context.Context) (Cycle, error) {
	c := Cycle{ID: uuid.NewString()}
	log := e.logger.With("relay", e.cfg.Relay, "cycle", c.ID)

	e.setPhase(PhaseComputingWindow)
	st, err := e.loadState(ctx)
	if err != nil {
		return c, err
	}
	head, err := e.reader.HeadHeight(ctx)
	if err != nil {
		return c, errors.Wrap(err, "source head")
	}
	c.Head = head
	e.metrics.SetSourceHead(head)

	if head < e.cfg.Margin || head-e.cfg.Margin <= st.Watermark {
		log.Info("no new blocks", "head", head, "watermark", st.Watermark, "margin", e.cfg.Margin)
		c.Idle = true
		e.setPhase(PhaseIdle)
		return c, nil
	}
	c.Window = relay.Window{From: st.Watermark + 1, To: head - e.cfg.Margin}
	log.Info("window computed", "from", c.Window.From, "to", c.Window.To, "head", head)

	e.setPhase(PhaseScanning)
	events, err := e.scanner.Scan(ctx, c.Window, e.cfg.MaxSpan)
	if err != nil {
		return c, errors.Wrapf(err, "scan %s", c.Window)
	}
	e.metrics.WindowScanned()

	e.setPhase(PhaseOrdering)
	events = e.order(log, c.Window, events)
	c.Events = len(events)
	e.metrics.EventsFound(len(events))
	if len(events) > 0 {
		log.Info("events found", "count", len(events), "window", c.Window.String())
	}

	e.setPhase(PhaseActioning)
	for _, ev := range events {
		if ctx.Err() != nil {
			return c, ctx.Err()
		}
		submitted, err := e.action(ctx, log, st, ev)
		if err != nil {
			return c, err
		}
		if submitted {
			c.Submitted++
		} else {
			c.Skipped++
		}
	}

	e.setPhase(PhaseAdvancingWatermark)
	st.Watermark = c.Window.To
	if err := e.store.Commit(ctx, st); err != nil {
		return c, errors.Wrapf(err, "commit watermark %d", st.Watermark)
	}
	e.metrics.SetWatermark(st.Watermark)
	log.Info("watermark advanced", "watermark", st.Watermark)
	e.setPhase(PhaseIdle)
	return c, nil
}

func (e *Engine) loadState(ctx context.Context) (*relay.State, error) {
	st, err := e.store.Load(ctx)
	if errors.Is(err, relay.ErrNotInitialized) {
		if err := e.store.Init(ctx, e.cfg.StartHeight); err != nil {
			return nil, errors.Wrap(err, "init relay state")
		}
		st, err = e.store.Load(ctx)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load relay state")
	}
	return st, nil
}

// order drops events outside w and sorts the rest by (height, index).
func (e *Engine) order(log *slog.Logger, w relay.Window, events []relay.Event) []relay.Event {
	kept := events[:0]
	for _, ev := range events {
		if !w.Contains(ev.Height) {
			log.Warn("dropping event outside window", "height", ev.Height, "index", ev.Index, "tx", ev.TxHash, "window", w.String())
			continue
		}
		kept = append(kept, ev)
	}
	relay.SortEvents(kept)
	return kept
}

// action handles one event and reports whether the writer was called.
func (e *Engine) action(ctx context.Context, log *slog.Logger, st *relay.State, ev relay.Event) (bool, error) {
	key := ev.DedupKey()
	if key == "" {
		return false, relay.Fatal(errors.Newf("event at height %d index %d has no nonce", ev.Height, ev.Index))
	}
	log = log.With("nonce", key, "height", ev.Height, "index", ev.Index)

	if st.Has(key) {
		log.Warn("event already actioned, skipping", "outcome", st.Actioned[key].String())
		e.metrics.Action("skipped")
		return false, nil
	}

	if want := e.cfg.DestinationID; want != nil && (ev.DestinationID == nil || !ev.DestinationID.Eq(want)) {
		got := "<nil>"
		if ev.DestinationID != nil {
			got = ev.DestinationID.Dec()
		}
		log.Warn("event addressed to another destination, ignoring", "destination", got, "want", want.Dec())
		rec := relay.RecordFor(ev, relay.Receipt{Outcome: relay.OutcomeIgnored, Reason: "destination " + got})
		if err := e.record(ctx, st, rec); err != nil {
			return false, err
		}
		e.metrics.Action(relay.OutcomeIgnored.String())
		return false, nil
	}

	receipt, err := e.writer.SubmitAction(ctx, relay.ActionFor(ev))
	if err != nil {
		return true, errors.Wrapf(err, "submit nonce %s", key)
	}
	e.metrics.Action(receipt.Outcome.String())

	rec := relay.RecordFor(ev, receipt)
	switch receipt.Outcome {
	case relay.OutcomeAccepted:
		log.Info("action accepted", "tx", receipt.TxHash, "recipient", rec.Recipient, "amount", rec.Amount)
	case relay.OutcomeRejected:
		log.Error("action rejected", "tx", receipt.TxHash, "reason", receipt.Reason, "recipient", rec.Recipient, "amount", rec.Amount)
	default:
		log.Warn("action outcome unknown", "tx", receipt.TxHash, "reason", receipt.Reason)
		return true, errors.Mark(errors.Newf("nonce %s tx %s: %s", key, receipt.TxHash, receipt.Reason), relay.ErrOutcomeUnknown)
	}

	if err := e.record(ctx, st, rec); err != nil {
		return true, err
	}
	if receipt.Outcome == relay.OutcomeRejected && e.notifier != nil {
		e.notifier.Notify(ctx, alert.Notification{
			Kind:      alert.KindRejected,
			Relay:     e.cfg.Relay,
			Height:    ev.Height,
			TxHash:    receipt.TxHash,
			Key:       key,
			Recipient: rec.Recipient,
			Amount:    rec.Amount,
			Reason:    receipt.Reason,
		})
	}
	return true, nil
}

// record persists a terminal outcome before the next event is touched.
func (e *Engine) record(ctx context.Context, st *relay.State, rec relay.ActionRecord) error {
	if err := e.store.Record(ctx, rec); err != nil {
		return errors.Wrapf(err, "record nonce %s", rec.Key)
	}
	// Commit rewrites the cycle's records with the watermark; inserts are first-write-wins.
	st.Mark(rec)
	return nil
}

// Run loops until ctx is cancelled or a fatal error occurs.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("relay started", "relay", e.cfg.Relay, "margin", e.cfg.Margin, "poll", e.cfg.PollInterval)
	for {
		if ctx.Err() != nil {
			e.setPhase(PhaseIdle)
			e.logger.Info("relay stopped", "relay", e.cfg.Relay)
			return nil
		}

		_, err := e.RunOnce(ctx)
		delay := e.cfg.PollInterval
		switch {
		case err == nil:
		case ctx.Err() != nil:
			continue
		case relay.IsFatal(err):
			e.setPhase(PhaseFaulted)
			e.metrics.Errors("fatal")
			e.logger.Error("relay faulted", "relay", e.cfg.Relay, "err", err)
			if e.notifier != nil {
				e.notifier.Notify(context.WithoutCancel(ctx), alert.Notification{
					Kind:   alert.KindFaulted,
					Relay:  e.cfg.Relay,
					Reason: err.Error(),
				})
			}
			return err
		case relay.IsConnectivity(err):
			delay = e.cfg.ConnectivityDelay
			e.setPhase(PhaseBackoff)
			e.metrics.Errors("connectivity")
			e.logger.Warn("connection error, backing off", "relay", e.cfg.Relay, "delay", delay, "err", err)
		default:
			delay = e.cfg.BackoffDelay
			e.setPhase(PhaseBackoff)
			e.metrics.Errors("transient")
			if relay.IsTransient(err) {
				e.logger.Warn("cycle failed, backing off", "relay", e.cfg.Relay, "delay", delay, "err", err)
			} else {
				e.logger.Error("unclassified error, backing off", "relay", e.cfg.Relay, "delay", delay, "err", err)
			}
		}

		_ = e.sleep(ctx, delay)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
