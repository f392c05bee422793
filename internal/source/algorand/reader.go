package algorand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/devblac/bridge-relay/internal/relay"
)

// statusGetter models the algod Status() fluent call.
type statusGetter interface {
	Do(ctx context.Context, headers ...*common.Header) (models.NodeStatus, error)
}

// blockGetter models the algod BlockRaw() fluent call.
type blockGetter interface {
	Do(ctx context.Context, headers ...*common.Header) ([]byte, error)
}

// AlgodClient is the minimal subset of the algod client we need.
type AlgodClient interface {
	Status() statusGetter
	BlockRaw(round uint64) blockGetter
}

// NewAlgodClient constructs a real algod client.
func NewAlgodClient(url, token string) (AlgodClient, error) {
	cli, err := algod.MakeClient(url, token)
	if err != nil {
		return nil, err
	}
	return &clientAdapter{c: cli}, nil
}

type clientAdapter struct {
	c *algod.Client
}

func (a *clientAdapter) Status() statusGetter { return a.c.Status() }
func (a *clientAdapter) BlockRaw(round uint64) blockGetter {
	return a.c.BlockRaw(round)
}

// Reader reads lock calls to the bridge application round by round.
type Reader struct {
	client  AlgodClient
	decoder *LockDecoder
	logger  *slog.Logger
}

var _ relay.LedgerReader = (*Reader)(nil)

// NewReader builds a reader over client.
func NewReader(client AlgodClient, decoder *LockDecoder, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{client: client, decoder: decoder, logger: logger}
}

// HeadHeight returns the last committed round.
func (r *Reader) HeadHeight(ctx context.Context) (uint64, error) {
	status, err := r.client.Status().Do(ctx)
	if err != nil {
		err = fmt.Errorf("algod status: %w", err)
		if isMalformed(err) {
			return 0, relay.Fatal(err)
		}
		return 0, relay.Connectivity(err)
	}
	return status.LastRound, nil
}

// Fetch returns lock events for rounds in [from, to].
func (r *Reader) Fetch(ctx context.Context, from, to uint64) ([]relay.Event, error) {
	if from > to {
		return nil, nil
	}
	var out []relay.Event
	for round := from; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := r.client.BlockRaw(round).Do(ctx)
		if err != nil {
			return nil, classify(fmt.Errorf("block %d: %w", round, err))
		}
		var block sdk.Block
		if err := decodeBlock(raw, &block); err != nil {
			return nil, relay.Fatal(fmt.Errorf("decode block %d: %w", round, err))
		}
		if uint64(block.Round) != round {
			return nil, relay.Fatal(fmt.Errorf("requested round %d, node returned %d", round, block.Round))
		}
		events, skipped := r.decoder.DecodeBlock(block)
		for _, s := range skipped {
			r.logger.Warn("skipping malformed lock call", "round", round, "txid", s.TxID, "index", s.Index, "reason", s.Reason)
		}
		out = append(out, events...)
		if round == to {
			return out, nil
		}
	}
}

// classify marks algod failures. A response that does not decode is fatal;
// context errors pass through unmarked.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isMalformed(err) {
		return relay.Fatal(err)
	}
	var (
		opErr  *net.OpError
		urlErr *url.Error
	)
	if errors.As(err, &opErr) || errors.As(err, &urlErr) {
		return relay.Connectivity(err)
	}
	return relay.Transient(err)
}

func isMalformed(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
