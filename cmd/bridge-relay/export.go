package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/bridge-relay/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagFormat string
	flagOutput string
)

func init() {
	exportCmd.Flags().StringVar(&flagFormat, "format", "csv", "Output format: csv or json")
	exportCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Write to file instead of stdout")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export action records",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagFormat)
		if format != "csv" && format != "json" {
			return fmt.Errorf("unsupported format %q (want csv or json)", flagFormat)
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		backend, err := openState(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		actions, err := backend.Actions(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if flagOutput != "" {
			f, err := os.Create(flagOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagOutput, err)
			}
			defer f.Close()
			out = f
		}
		if format == "json" {
			return writeJSON(out, actions)
		}
		return writeCSV(out, actions)
	},
}

var csvHeader = []string{"nonce", "height", "index", "outcome", "tx_hash", "recipient", "amount", "reason", "created_at"}

func writeCSV(w io.Writer, actions []storage.StoredAction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, a := range actions {
		row := []string{
			a.Key,
			strconv.FormatUint(a.Height, 10),
			strconv.FormatUint(uint64(a.Index), 10),
			a.Outcome.String(),
			a.TxHash,
			a.Recipient,
			a.Amount,
			a.Reason,
			createdAt(a),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type exportRecord struct {
	Nonce     string `json:"nonce"`
	Height    uint64 `json:"height"`
	Index     uint   `json:"index"`
	Outcome   string `json:"outcome"`
	TxHash    string `json:"tx_hash,omitempty"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func writeJSON(w io.Writer, actions []storage.StoredAction) error {
	recs := make([]exportRecord, 0, len(actions))
	for _, a := range actions {
		recs = append(recs, exportRecord{
			Nonce:     a.Key,
			Height:    a.Height,
			Index:     a.Index,
			Outcome:   a.Outcome.String(),
			TxHash:    a.TxHash,
			Recipient: a.Recipient,
			Amount:    a.Amount,
			Reason:    a.Reason,
			CreatedAt: createdAt(a),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func createdAt(a storage.StoredAction) string {
	if a.CreatedAt.IsZero() {
		return ""
	}
	return a.CreatedAt.UTC().Format(time.RFC3339)
}
