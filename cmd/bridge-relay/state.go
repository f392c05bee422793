package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/devblac/bridge-relay/internal/logging"
	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/devblac/bridge-relay/internal/storage"
	"github.com/spf13/cobra"
)

var flagOffline bool

func init() {
	stateCmd.Flags().BoolVar(&flagOffline, "offline", false, "Skip querying the source head")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the watermark, action counts and source lag",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		backend, err := openState(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		sum, err := backend.Summary(ctx)
		if errors.Is(err, relay.ErrNotInitialized) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s: not initialized (starts at %d)\n", cfg.RelayID, cfg.Source.StartBlock)
			return nil
		}
		if err != nil {
			return err
		}

		head, headErr := uint64(0), error(nil)
		if flagOffline {
			headErr = errors.New("skipped")
		} else {
			headCtx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
			defer cancel()
			reader, closeReader, err := openReader(headCtx, cfg, logging.NewWithLevel("error"))
			if err != nil {
				headErr = err
			} else {
				defer closeReader()
				head, headErr = reader.HeadHeight(headCtx)
			}
		}
		printState(cmd.OutOrStdout(), cfg.RelayID, cfg.Relay.ConfirmationMargin, sum, head, headErr)
		return nil
	},
}

func printState(out io.Writer, relayID string, margin uint64, sum storage.Summary, head uint64, headErr error) {
	fmt.Fprintf(out, "relay:      %s\n", relayID)
	fmt.Fprintf(out, "watermark:  %d\n", sum.Watermark)
	if !sum.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "updated:    %s\n", sum.UpdatedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "accepted:   %d\n", sum.Outcomes[relay.OutcomeAccepted])
	fmt.Fprintf(out, "rejected:   %d\n", sum.Outcomes[relay.OutcomeRejected])
	fmt.Fprintf(out, "ignored:    %d\n", sum.Outcomes[relay.OutcomeIgnored])
	if headErr != nil {
		fmt.Fprintf(out, "head:       unavailable (%v)\n", headErr)
		return
	}
	fmt.Fprintf(out, "head:       %d\n", head)
	var lag uint64
	if safe := saturatingSub(head, margin); safe > sum.Watermark {
		lag = safe - sum.Watermark
	}
	fmt.Fprintf(out, "lag:        %d (margin %d)\n", lag, margin)
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
