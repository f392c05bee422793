package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/devblac/bridge-relay/internal/alert"
	"github.com/devblac/bridge-relay/internal/config"
	"github.com/devblac/bridge-relay/internal/engine"
	"github.com/devblac/bridge-relay/internal/metrics"
	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/devblac/bridge-relay/internal/sink"
	"github.com/devblac/bridge-relay/internal/source/algorand"
	"github.com/devblac/bridge-relay/internal/source/evm"
	"github.com/devblac/bridge-relay/internal/storage"
	"github.com/ethereum/go-ethereum/common"
)

// stateBackend is a durable relay ledger the CLI can also inspect.
type stateBackend interface {
	relay.StateStore
	Actions(ctx context.Context) ([]storage.StoredAction, error)
	Summary(ctx context.Context) (storage.Summary, error)
	Ping(ctx context.Context) error
	Close() error
}

type sqliteState struct {
	*storage.Ledger
	store *storage.Store
}

func (s sqliteState) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
func (s sqliteState) Close() error                   { return s.store.Close() }

func openState(ctx context.Context, cfg *config.Config) (stateBackend, error) {
	switch cfg.State.Backend {
	case config.BackendRedis:
		l, err := storage.OpenRedis(ctx, cfg.State.RedisAddr, cfg.State.RedisPassword, cfg.State.RedisDB, cfg.RelayID)
		if err != nil {
			return nil, fmt.Errorf("open redis state: %w", err)
		}
		return l, nil
	default:
		st, err := storage.Open(cfg.State.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		return sqliteState{Ledger: st.Ledger(cfg.RelayID), store: st}, nil
	}
}

// openReader dials the source ledger. The returned func releases it.
func openReader(ctx context.Context, cfg *config.Config, log *slog.Logger) (relay.LedgerReader, func(), error) {
	switch cfg.Source.Type {
	case config.SourceAlgorand:
		dec, err := algorand.NewLockDecoder(cfg.Source.AppID)
		if err != nil {
			return nil, nil, err
		}
		cli, err := algorand.NewAlgodClient(cfg.Source.RPCURL, cfg.Source.AlgodToken)
		if err != nil {
			return nil, nil, fmt.Errorf("algod client: %w", err)
		}
		reader := algorand.NewReader(cli, dec, log.With("ledger", "source"))
		round, err := reader.HeadHeight(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("source %s: %w", redactURL(cfg.Source.RPCURL), err)
		}
		log.Info("connected to source", "algod", redactURL(cfg.Source.RPCURL), "app_id", cfg.Source.AppID, "round", round)
		return reader, func() {}, nil
	default:
		abis, err := evm.LoadABIs(cfg.ABIPath)
		if err != nil {
			return nil, nil, err
		}
		dec, err := evm.NewLockDecoder(common.HexToAddress(cfg.Source.Contract), abis)
		if err != nil {
			return nil, nil, err
		}
		cli, err := evm.NewRPCClient(ctx, cfg.Source.RPCURL)
		if err != nil {
			return nil, nil, err
		}
		ver, err := cli.ClientVersion(ctx)
		if err != nil {
			cli.Close()
			return nil, nil, relay.Connectivity(fmt.Errorf("source %s web3_clientVersion: %w", redactURL(cfg.Source.RPCURL), err))
		}
		log.Info("connected to source", "rpc", redactURL(cfg.Source.RPCURL), "client", ver, "contract", dec.Contract().Hex())
		return evm.NewReader(cli, dec, log.With("ledger", "source")), cli.Close, nil
	}
}

// openWriter dials the destination and prepares the mint signer.
func openWriter(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sink.MintWriter, func(), error) {
	key, err := sink.ParseKey(cfg.Destination.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	abis, err := evm.LoadABIs(cfg.ABIPath)
	if err != nil {
		return nil, nil, err
	}
	cli, err := evm.NewRPCClient(ctx, cfg.Destination.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	w, err := sink.NewMintWriter(ctx, cli, key, abis, sink.MintConfig{
		Contract:       common.HexToAddress(cfg.Destination.Contract),
		GasLimit:       cfg.Destination.GasLimit,
		ReceiptTimeout: cfg.Destination.ReceiptTimeout,
		CheckProcessed: cfg.Destination.CheckProcessed,
	}, log.With("ledger", "destination"))
	if err != nil {
		cli.Close()
		return nil, nil, err
	}
	log.Info("connected to destination", "rpc", redactURL(cfg.Destination.RPCURL), "chain_id", w.ChainID().String(), "relayer", w.From().Hex())
	return w, cli.Close, nil
}

func buildNotifier(cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*alert.Notifier, error) {
	senders := map[string]alert.Sender{}
	for _, a := range cfg.Alerts {
		url := a.URL
		if !strings.EqualFold(a.Type, alert.TypeWebhook) {
			url = a.WebhookURL
		}
		s, err := alert.New(a.Type, url, a.Method, a.Template)
		if err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		senders[a.ID] = s
	}
	return alert.NewNotifier(senders, log, m), nil
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	dest, err := cfg.DestinationChainID()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Relay:             cfg.RelayID,
		StartHeight:       cfg.Source.StartBlock,
		Margin:            cfg.Relay.ConfirmationMargin,
		MaxSpan:           cfg.Relay.MaxBlockSpan,
		PollInterval:      cfg.Relay.PollInterval,
		BackoffDelay:      cfg.Relay.BackoffDelay,
		ConnectivityDelay: cfg.Relay.ConnectivityDelay,
		DestinationID:     dest,
	}, nil
}

// redactURL drops everything after the host; provider URLs often embed API keys.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return "[redacted]"
	}
	host, _, _ := strings.Cut(rest, "/")
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	return scheme + "://" + host
}
