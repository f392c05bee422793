package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/url"
	"syscall"

	"github.com/devblac/bridge-relay/internal/relay"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockClient captures the subset of ethclient used by the reader.
type BlockClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies BlockClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(ctx context.Context, rpcURL string) (*RPCClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// ClientVersion returns the node's web3_clientVersion string.
func (c *RPCClient) ClientVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.Client.Client().CallContext(ctx, &v, "web3_clientVersion"); err != nil {
		return "", err
	}
	return v, nil
}

// Reader reads TokensLocked events from a source contract.
type Reader struct {
	client  BlockClient
	decoder *LockDecoder
	logger  *slog.Logger
}

var _ relay.LedgerReader = (*Reader)(nil)

// NewReader builds a reader over client for the decoder's contract.
func NewReader(client BlockClient, decoder *LockDecoder, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{client: client, decoder: decoder, logger: logger}
}

// HeadHeight returns the latest block number.
func (r *Reader) HeadHeight(ctx context.Context) (uint64, error) {
	n, err := r.client.BlockNumber(ctx)
	if err != nil {
		err = fmt.Errorf("evm block number: %w", err)
		if isMalformed(err) {
			return 0, relay.Fatal(err)
		}
		return 0, relay.Connectivity(err)
	}
	return n, nil
}

// Fetch returns decoded lock events in [from, to] in node order.
func (r *Reader) Fetch(ctx context.Context, from, to uint64) ([]relay.Event, error) {
	logs, err := r.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{r.decoder.Contract()},
		Topics:    [][]common.Hash{{r.decoder.Topic()}},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("filter logs [%d, %d]: %w", from, to, err))
	}

	events := make([]relay.Event, 0, len(logs))
	for _, lg := range logs {
		ev, ok, err := r.decoder.Decode(lg)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Debug("skipping unrelated log", "tx", lg.TxHash.Hex(), "index", lg.Index)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// classify marks RPC failures. A response that does not decode is fatal;
// context errors pass through unmarked.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isMalformed(err) {
		return relay.Fatal(err)
	}
	if isConnectivity(err) {
		return relay.Connectivity(err)
	}
	return relay.Transient(err)
}

func isConnectivity(err error) bool {
	var (
		netErr net.Error
		urlErr *url.Error
		opErr  *net.OpError
	)
	switch {
	case errors.As(err, &opErr), errors.As(err, &urlErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.As(err, &netErr) && !netErr.Timeout():
		return true
	}
	return false
}

func isMalformed(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
