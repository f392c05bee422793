package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	flagInitDir   string
	flagInitForce bool
)

func init() {
	initCmd.Flags().StringVar(&flagInitDir, "dir", ".", "Directory to write the sample files into")
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite existing files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config.yaml and .env.example",
	RunE: func(cmd *cobra.Command, args []string) error {
		files := []struct {
			name string
			body string
		}{
			{"config.yaml", sampleConfig},
			{".env.example", sampleEnv},
		}
		if err := os.MkdirAll(flagInitDir, 0o755); err != nil {
			return err
		}
		for _, f := range files {
			path := filepath.Join(flagInitDir, f.name)
			if !flagInitForce {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		}
		return nil
	},
}

const sampleConfig = `version: 1
relay_id: amoy-to-sepolia
# abi_path: ./abis   # defaults to the built-in bridge ABI

source:
  type: evm                       # evm or algorand
  rpc_url: ${SOURCE_CHAIN_RPC_URL}
  contract: ${SOURCE_BRIDGE_CONTRACT_ADDRESS}
  # app_id: 123456                # algorand bridge application
  # algod_token: ""
  start_block: 0

destination:
  rpc_url: ${DESTINATION_CHAIN_RPC_URL}
  contract: ${DESTINATION_BRIDGE_CONTRACT_ADDRESS}
  private_key: ${RELAYER_PRIVATE_KEY}
  # chain_id: "11155111"          # only relay events addressed to this chain
  gas_limit: 200000               # 0 estimates per transaction
  receipt_timeout: 2m
  check_processed: false

relay:
  confirmation_margin: 5
  max_block_span: 1000
  poll_interval: 15s
  retry_delay: 10s
  backoff_delay: 30s
  connectivity_delay: 60s
  rate_limit: 0

state:
  backend: sqlite                 # sqlite or redis
  db_path: bridge-relay.db
  # redis_addr: localhost:6379

alerts: []
#  - id: ops
#    type: slack
#    webhook_url: https://hooks.slack.com/services/T000/B000/XXXX

logging:
  level: info
  format: text
  # file: bridge_listener.log
`

const sampleEnv = `SOURCE_CHAIN_RPC_URL=https://rpc-amoy.polygon.technology
SOURCE_BRIDGE_CONTRACT_ADDRESS=0x0000000000000000000000000000000000000000
DESTINATION_CHAIN_RPC_URL=https://sepolia.infura.io/v3/your-project-id
DESTINATION_BRIDGE_CONTRACT_ADDRESS=0x0000000000000000000000000000000000000000
RELAYER_PRIVATE_KEY=
START_BLOCK=0
CONFIRMATION_MARGIN=5
POLL_INTERVAL=15
LOG_LEVEL=info
`
