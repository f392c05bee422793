package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/devblac/bridge-relay/internal/relay"
	"golang.org/x/time/rate"
)

// DefaultRetryDelay is the pause before re-querying a failed sub-window.
const DefaultRetryDelay = 10 * time.Second

// Scanner reads a window from a LedgerReader in bounded sub-windows,
// retrying transient failures on the same sub-window until it succeeds.
type Scanner struct {
	reader     relay.LedgerReader
	logger     *slog.Logger
	retryDelay time.Duration
	limiter    *rate.Limiter
}

// ScannerOption customizes a Scanner.
type ScannerOption func(*Scanner)

// WithRetryDelay sets the fixed delay between sub-window retries.
func WithRetryDelay(d time.Duration) ScannerOption {
	return func(s *Scanner) { s.retryDelay = d }
}

// WithRateLimit caps the number of Fetch calls per second.
func WithRateLimit(perSecond float64) ScannerOption {
	return func(s *Scanner) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewScanner builds a scanner over reader.
func NewScanner(reader relay.LedgerReader, logger *slog.Logger, opts ...ScannerOption) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{reader: reader, logger: logger, retryDelay: DefaultRetryDelay}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns every event in w, in query order. Fatal reader errors and
// context cancellation end the scan; anything else is retried.
func (s *Scanner) Scan(ctx context.Context, w relay.Window, maxSpan uint64) ([]relay.Event, error) {
	if w.Empty() {
		return nil, nil
	}
	var out []relay.Event
	for _, sub := range w.Split(maxSpan) {
		events, err := s.fetch(ctx, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func (s *Scanner) fetch(ctx context.Context, sub relay.Window) ([]relay.Event, error) {
	events, err := retry.DoWithData(
		func() ([]relay.Event, error) {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			return s.reader.Fetch(ctx, sub.From, sub.To)
		},
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && !relay.IsFatal(err)
		}),
		retry.Attempts(0),
		retry.Delay(s.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("fetch failed, retrying", "from", sub.From, "to", sub.To, "attempt", n+1, "delay", s.retryDelay, "err", err)
		}),
	)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return events, err
}
