package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied before the file and environment are read.
const (
	DefaultPollInterval      = 15 * time.Second
	DefaultMargin            = 5
	DefaultMaxSpan           = 1000
	DefaultRetryDelay        = 10 * time.Second
	DefaultBackoffDelay      = 30 * time.Second
	DefaultConnectivityDelay = 60 * time.Second
	DefaultGasLimit          = 200000
	DefaultReceiptTimeout    = 2 * time.Minute
	DefaultDBPath            = "bridge-relay.db"
)

// State backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Source types.
const (
	SourceEVM      = "evm"
	SourceAlgorand = "algorand"
)

// Config holds the YAML configuration.
type Config struct {
	Version     int           `yaml:"version"`
	RelayID     string        `yaml:"relay_id"`
	ABIPath     string        `yaml:"abi_path"`
	Source      Source        `yaml:"source"`
	Destination Destination   `yaml:"destination"`
	Relay       RelayConfig   `yaml:"relay"`
	State       StateConfig   `yaml:"state"`
	Alerts      []Alert       `yaml:"alerts"`
	Logging     LoggingConfig `yaml:"logging"`
}

type Source struct {
	Type       string `yaml:"type"`
	RPCURL     string `yaml:"rpc_url"`
	Contract   string `yaml:"contract"`
	AppID      uint64 `yaml:"app_id"`
	AlgodToken string `yaml:"algod_token"`
	StartBlock uint64 `yaml:"start_block"`
}

type Destination struct {
	RPCURL         string        `yaml:"rpc_url"`
	Contract       string        `yaml:"contract"`
	ChainID        string        `yaml:"chain_id"`
	PrivateKey     string        `yaml:"private_key"`
	GasLimit       uint64        `yaml:"gas_limit"`
	ReceiptTimeout time.Duration `yaml:"receipt_timeout"`
	CheckProcessed bool          `yaml:"check_processed"`
}

type RelayConfig struct {
	ConfirmationMargin uint64        `yaml:"confirmation_margin"`
	MaxBlockSpan       uint64        `yaml:"max_block_span"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	BackoffDelay       time.Duration `yaml:"backoff_delay"`
	ConnectivityDelay  time.Duration `yaml:"connectivity_delay"`
	// RateLimit caps source queries per second; zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
}

type StateConfig struct {
	Backend       string `yaml:"backend"`
	DBPath        string `yaml:"db_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type Alert struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Version: 1,
		RelayID: "default",
		Source:  Source{Type: SourceEVM},
		Destination: Destination{
			GasLimit:       DefaultGasLimit,
			ReceiptTimeout: DefaultReceiptTimeout,
		},
		Relay: RelayConfig{
			ConfirmationMargin: DefaultMargin,
			MaxBlockSpan:       DefaultMaxSpan,
			PollInterval:       DefaultPollInterval,
			RetryDelay:         DefaultRetryDelay,
			BackoffDelay:       DefaultBackoffDelay,
			ConnectivityDelay:  DefaultConnectivityDelay,
		},
		State: StateConfig{Backend: BackendSQLite, DBPath: DefaultDBPath},
	}
}

// Load reads the optional YAML file, applies environment overrides and
// validates. An empty path configures the relay from the environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		interpolated, err := interpolateEnv(string(raw))
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv never overrides variables already set in the process.
func loadDotEnv(envPath string) error {
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// applyEnv overlays the flat environment variables the relayer has always
// accepted onto the file configuration.
func (c *Config) applyEnv() error {
	str := map[string]*string{
		"SOURCE_TYPE":                         &c.Source.Type,
		"SOURCE_CHAIN_RPC_URL":                &c.Source.RPCURL,
		"SOURCE_BRIDGE_CONTRACT_ADDRESS":      &c.Source.Contract,
		"DESTINATION_CHAIN_RPC_URL":           &c.Destination.RPCURL,
		"DESTINATION_BRIDGE_CONTRACT_ADDRESS": &c.Destination.Contract,
		"DESTINATION_CHAIN_ID":                &c.Destination.ChainID,
		"RELAYER_PRIVATE_KEY":                 &c.Destination.PrivateKey,
		"STATE_BACKEND":                       &c.State.Backend,
		"DB_PATH":                             &c.State.DBPath,
		"REDIS_ADDR":                          &c.State.RedisAddr,
		"REDIS_PASSWORD":                      &c.State.RedisPassword,
		"LOG_LEVEL":                           &c.Logging.Level,
		"LOG_FORMAT":                          &c.Logging.Format,
		"LOG_FILE":                            &c.Logging.File,
		"RELAY_ID":                            &c.RelayID,
		"ABI_PATH":                            &c.ABIPath,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	var errs []string
	uints := map[string]*uint64{
		"START_BLOCK":         &c.Source.StartBlock,
		"SOURCE_APP_ID":       &c.Source.AppID,
		"CONFIRMATION_MARGIN": &c.Relay.ConfirmationMargin,
		"MAX_BLOCK_SPAN":      &c.Relay.MaxBlockSpan,
		"GAS_LIMIT":           &c.Destination.GasLimit,
	}
	for name, dst := range uints {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a non-negative integer", name, v))
			continue
		}
		*dst = n
	}
	durations := map[string]*time.Duration{
		"POLL_INTERVAL":      &c.Relay.PollInterval,
		"RETRY_DELAY":        &c.Relay.RetryDelay,
		"BACKOFF_DELAY":      &c.Relay.BackoffDelay,
		"CONNECTIVITY_DELAY": &c.Relay.ConnectivityDelay,
		"RECEIPT_TIMEOUT":    &c.Destination.ReceiptTimeout,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		*dst = d
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds ("15").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseUint(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not a duration", v)
	}
	return d, nil
}

// Validate reports every missing required value in one error, then the
// first malformed one.
func (c *Config) Validate() error {
	var missing []string
	need := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}

	c.Source.Type = strings.ToLower(c.Source.Type)
	need("source.rpc_url", c.Source.RPCURL)
	switch c.Source.Type {
	case SourceEVM:
		need("source.contract", c.Source.Contract)
	case SourceAlgorand:
		if c.Source.AppID == 0 {
			missing = append(missing, "source.app_id")
		}
	}
	need("destination.rpc_url", c.Destination.RPCURL)
	need("destination.contract", c.Destination.Contract)
	need("destination.private_key", c.Destination.PrivateKey)
	c.State.Backend = strings.ToLower(c.State.Backend)
	switch c.State.Backend {
	case BackendSQLite:
		need("state.db_path", c.State.DBPath)
	case BackendRedis:
		need("state.redis_addr", c.State.RedisAddr)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.RelayID == "" {
		return errors.New("relay_id is required")
	}
	switch c.Source.Type {
	case SourceEVM:
		if !common.IsHexAddress(c.Source.Contract) {
			return fmt.Errorf("source.contract: invalid address %q", c.Source.Contract)
		}
	case SourceAlgorand:
	default:
		return fmt.Errorf("unsupported source type: %s", c.Source.Type)
	}
	if !common.IsHexAddress(c.Destination.Contract) {
		return fmt.Errorf("destination.contract: invalid address %q", c.Destination.Contract)
	}
	if _, err := c.DestinationChainID(); err != nil {
		return err
	}
	if c.State.Backend != BackendSQLite && c.State.Backend != BackendRedis {
		return fmt.Errorf("unsupported state backend: %s", c.State.Backend)
	}
	if c.Relay.PollInterval <= 0 {
		return errors.New("relay.poll_interval must be positive")
	}
	if c.Relay.RateLimit < 0 {
		return errors.New("relay.rate_limit must not be negative")
	}

	ids := map[string]struct{}{}
	for i := range c.Alerts {
		a := &c.Alerts[i]
		if _, exists := ids[a.ID]; exists {
			return fmt.Errorf("duplicate alert id: %s", a.ID)
		}
		ids[a.ID] = struct{}{}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("alert %s: %w", a.ID, err)
		}
	}
	return nil
}

// DestinationChainID parses the optional destination filter. Nil means no filter.
func (c *Config) DestinationChainID() (*uint256.Int, error) {
	v := strings.TrimSpace(c.Destination.ChainID)
	if v == "" {
		return nil, nil
	}
	id, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("destination.chain_id: %q is not a decimal integer", v)
	}
	return id, nil
}

func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(a.Type) {
	case "slack", "teams":
		if a.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams alerts")
		}
	case "webhook":
		if a.URL == "" {
			return errors.New("url is required for webhook alert")
		}
		if a.Method == "" {
			a.Method = "POST"
		}
	default:
		return fmt.Errorf("unsupported alert type: %s", a.Type)
	}
	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
