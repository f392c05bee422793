package sink

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/devblac/bridge-relay/internal/source/evm"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Defaults for MintConfig zero values.
const (
	DefaultReceiptTimeout = 2 * time.Minute
	DefaultReceiptPoll    = 2 * time.Second
)

// ChainClient is the subset of ethclient used to submit mints.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// MintConfig controls transaction construction.
type MintConfig struct {
	Contract common.Address
	// GasLimit of zero means estimate per transaction.
	GasLimit       uint64
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	// CheckProcessed queries processedNonces before submitting.
	CheckProcessed bool
}

// MintWriter submits mintTokens transactions signed by the relayer key.
type MintWriter struct {
	client  ChainClient
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	abi     *abi.ABI
	cfg     MintConfig
	logger  *slog.Logger
}

var _ relay.LedgerWriter = (*MintWriter)(nil)

// ParseKey decodes a hex private key with or without 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	k, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	return k, nil
}

// NewMintWriter resolves the destination chain id and the mint ABI.
func NewMintWriter(ctx context.Context, client ChainClient, key *ecdsa.PrivateKey, abis map[string]*abi.ABI, cfg MintConfig, logger *slog.Logger) (*MintWriter, error) {
	if key == nil {
		return nil, errors.New("relayer key required")
	}
	a, ok := evm.FindABIWithMethod(abis, evm.MintMethod)
	if !ok {
		return nil, fmt.Errorf("abi has no %s method", evm.MintMethod)
	}
	if cfg.CheckProcessed {
		if _, ok := a.Methods[evm.ProcessedMethod]; !ok {
			return nil, fmt.Errorf("abi has no %s method", evm.ProcessedMethod)
		}
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = DefaultReceiptPoll
	}
	if logger == nil {
		logger = slog.Default()
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, relay.Connectivity(fmt.Errorf("destination chain id: %w", err))
	}
	return &MintWriter{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		abi:     a,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// From returns the relayer account.
func (w *MintWriter) From() common.Address { return w.from }

// ChainID returns the destination chain id resolved at construction.
func (w *MintWriter) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

// HeadHeight returns the destination's latest block, used for health checks.
func (w *MintWriter) HeadHeight(ctx context.Context) (uint64, error) {
	n, err := w.client.BlockNumber(ctx)
	if err != nil {
		return 0, relay.Connectivity(fmt.Errorf("destination block number: %w", err))
	}
	return n, nil
}

// SubmitAction mints for one event and waits for its receipt.
func (w *MintWriter) SubmitAction(ctx context.Context, action relay.Action) (relay.Receipt, error) {
	if w.cfg.CheckProcessed {
		done, err := w.processed(ctx, action)
		if err != nil {
			return relay.Receipt{}, err
		}
		if done {
			w.logger.Info("nonce already processed at destination", "nonce", action.DedupKey.Dec())
			return relay.Receipt{Outcome: relay.OutcomeAccepted, Reason: "already processed"}, nil
		}
	}

	tx, rejected, err := w.build(ctx, action)
	if err != nil {
		return relay.Receipt{}, err
	}
	if rejected != "" {
		return relay.Receipt{Outcome: relay.OutcomeRejected, Reason: rejected}, nil
	}

	hash := tx.Hash().Hex()
	log := w.logger.With("nonce", action.DedupKey.Dec(), "tx", hash)
	if err := w.client.SendTransaction(ctx, tx); err != nil {
		var rpcErr rpc.Error
		switch {
		case isAlreadyKnown(err):
			log.Warn("transaction already in pool")
		case errors.As(err, &rpcErr):
			// The node answered and refused the transaction.
			return relay.Receipt{}, relay.Transient(fmt.Errorf("send mint: %w", err))
		default:
			log.Warn("send failed after signing, outcome unknown", "err", err)
			return relay.Receipt{Outcome: relay.OutcomeUnknown, TxHash: hash, Reason: err.Error()}, nil
		}
	}
	log.Info("mint transaction sent")
	return w.awaitReceipt(ctx, log, tx.Hash()), nil
}

// build packs and signs a mint. A non-empty string means the destination
// rejected the call during gas estimation.
func (w *MintWriter) build(ctx context.Context, action relay.Action) (*types.Transaction, string, error) {
	if action.Amount == nil || action.DedupKey == nil {
		return nil, "", relay.Fatal(errors.New("mint action missing amount or nonce"))
	}
	data, err := w.abi.Pack(evm.MintMethod, action.Recipient, action.Amount.ToBig(), action.DedupKey.ToBig())
	if err != nil {
		return nil, "", relay.Fatal(fmt.Errorf("pack %s: %w", evm.MintMethod, err))
	}
	nonce, err := w.client.PendingNonceAt(ctx, w.from)
	if err != nil {
		return nil, "", classify(fmt.Errorf("pending nonce: %w", err))
	}
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, "", classify(fmt.Errorf("gas price: %w", err))
	}
	gas := w.cfg.GasLimit
	if gas == 0 {
		gas, err = w.client.EstimateGas(ctx, ethereum.CallMsg{From: w.from, To: &w.cfg.Contract, Data: data})
		if err != nil {
			if isRevert(err) {
				return nil, err.Error(), nil
			}
			return nil, "", classify(fmt.Errorf("estimate gas: %w", err))
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &w.cfg.Contract,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return nil, "", relay.Fatal(fmt.Errorf("sign mint: %w", err))
	}
	return signed, "", nil
}

func (w *MintWriter) processed(ctx context.Context, action relay.Action) (bool, error) {
	data, err := w.abi.Pack(evm.ProcessedMethod, action.DedupKey.ToBig())
	if err != nil {
		return false, relay.Fatal(fmt.Errorf("pack %s: %w", evm.ProcessedMethod, err))
	}
	out, err := w.client.CallContract(ctx, ethereum.CallMsg{From: w.from, To: &w.cfg.Contract, Data: data}, nil)
	if err != nil {
		return false, classify(fmt.Errorf("call %s: %w", evm.ProcessedMethod, err))
	}
	vals, err := w.abi.Unpack(evm.ProcessedMethod, out)
	if err != nil || len(vals) != 1 {
		return false, relay.Fatal(fmt.Errorf("unpack %s: %v", evm.ProcessedMethod, err))
	}
	done, ok := vals[0].(bool)
	if !ok {
		return false, relay.Fatal(fmt.Errorf("unpack %s: got %T", evm.ProcessedMethod, vals[0]))
	}
	return done, nil
}

func (w *MintWriter) awaitReceipt(ctx context.Context, log *slog.Logger, hash common.Hash) relay.Receipt {
	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.ReceiptTimeout)
	defer cancel()

	receipt, err := retry.DoWithData(
		func() (*types.Receipt, error) {
			return w.client.TransactionReceipt(waitCtx, hash)
		},
		retry.Context(waitCtx),
		retry.Attempts(0),
		retry.Delay(w.cfg.ReceiptPoll),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool { return waitCtx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			if !errors.Is(err, ethereum.NotFound) {
				log.Debug("receipt lookup failed", "attempt", n+1, "err", err)
			}
		}),
	)
	if err != nil {
		log.Warn("receipt not available, outcome unknown", "timeout", w.cfg.ReceiptTimeout, "err", err)
		return relay.Receipt{Outcome: relay.OutcomeUnknown, TxHash: hash.Hex(), Reason: "receipt not found before timeout"}
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return relay.Receipt{Outcome: relay.OutcomeAccepted, TxHash: hash.Hex()}
	}
	return relay.Receipt{Outcome: relay.OutcomeRejected, TxHash: hash.Hex(), Reason: fmt.Sprintf("reverted in block %s", receipt.BlockNumber)}
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return relay.Transient(err)
	}
	return relay.Connectivity(err)
}
