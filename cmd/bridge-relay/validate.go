package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/devblac/bridge-relay/internal/config"
	"github.com/devblac/bridge-relay/internal/logging"
	"github.com/devblac/bridge-relay/internal/sink"
	"github.com/devblac/bridge-relay/internal/source/algorand"
	"github.com/devblac/bridge-relay/internal/source/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

const defaultRPCTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, ping both ledgers and check contract code",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "config OK (relay %s, source %s)\n", cfg.RelayID, cfg.Source.Type)

		key, err := sink.ParseKey(cfg.Destination.PrivateKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "- relayer %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())

		failures := 0
		switch cfg.Source.Type {
		case config.SourceAlgorand:
			if err := checkAlgod(cmd.Context(), out, cfg); err != nil {
				failures++
				fmt.Fprintf(out, "- source (algorand): ERROR %v\n", err)
			}
		default:
			if err := checkEVM(cmd.Context(), out, "source", cfg.Source.RPCURL, cfg.Source.Contract); err != nil {
				failures++
				fmt.Fprintf(out, "- source (evm): ERROR %v\n", err)
			}
		}
		if err := checkEVM(cmd.Context(), out, "destination", cfg.Destination.RPCURL, cfg.Destination.Contract); err != nil {
			failures++
			fmt.Fprintf(out, "- destination (evm): ERROR %v\n", err)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d endpoint(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func checkEVM(ctx context.Context, out io.Writer, role, url, contract string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	cli, err := evm.NewRPCClient(ctx, url)
	if err != nil {
		return err
	}
	defer cli.Close()

	ver, err := cli.ClientVersion(ctx)
	if err != nil {
		return fmt.Errorf("web3_clientVersion: %w", err)
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("eth_chainId: %w", err)
	}
	code, err := cli.CodeAt(ctx, common.HexToAddress(contract), nil)
	if err != nil {
		return fmt.Errorf("eth_getCode: %w", err)
	}
	if len(code) == 0 {
		return fmt.Errorf("no contract code at %s on chain %s", contract, chainID)
	}
	fmt.Fprintf(out, "- %s (evm): %s, chainId %s, contract %s OK\n", role, ver, chainID, contract)
	return nil
}

func checkAlgod(ctx context.Context, out io.Writer, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	cli, err := algorand.NewAlgodClient(cfg.Source.RPCURL, cfg.Source.AlgodToken)
	if err != nil {
		return err
	}
	dec, err := algorand.NewLockDecoder(cfg.Source.AppID)
	if err != nil {
		return err
	}
	round, err := algorand.NewReader(cli, dec, logging.New()).HeadHeight(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "- source (algorand): last round %d, app %d OK\n", round, cfg.Source.AppID)
	return nil
}
