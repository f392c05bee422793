package sink

import (
	"context"

	"github.com/devblac/bridge-relay/internal/relay"
)

// Simulator builds and signs mints against the real destination but never
// broadcasts them. Every action is reported as accepted.
type Simulator struct {
	w *MintWriter
}

var _ relay.LedgerWriter = (*Simulator)(nil)

// NewSimulator wraps w for dry runs.
func NewSimulator(w *MintWriter) *Simulator {
	return &Simulator{w: w}
}

func (s *Simulator) SubmitAction(ctx context.Context, action relay.Action) (relay.Receipt, error) {
	tx, rejected, err := s.w.build(ctx, action)
	if err != nil {
		return relay.Receipt{}, err
	}
	if rejected != "" {
		s.w.logger.Info("dry run: mint would revert", "nonce", action.DedupKey.Dec(), "reason", rejected)
		return relay.Receipt{Outcome: relay.OutcomeRejected, Reason: rejected}, nil
	}
	s.w.logger.Info("dry run: mint not sent",
		"nonce", action.DedupKey.Dec(),
		"recipient", action.Recipient.Hex(),
		"amount", action.Amount.Dec(),
		"tx", tx.Hash().Hex(),
		"gas", tx.Gas(),
	)
	return relay.Receipt{Outcome: relay.OutcomeAccepted, TxHash: tx.Hash().Hex(), Reason: "dry run"}, nil
}

// HeadHeight delegates to the wrapped writer.
func (s *Simulator) HeadHeight(ctx context.Context) (uint64, error) {
	return s.w.HeadHeight(ctx)
}
