// Package config centralises runtime configuration for ledgersync services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
)

// Environment identifies the runtime environment where ledgersync operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Settings contains the ledgersync configuration tree loaded from defaults,
// an optional YAML file, and environment overrides.
type Settings struct {
	Environment Environment
	DatabaseURL string

	// SyncInterval is the cadence of the daemon's full sync loop.
	SyncInterval time.Duration
	// SyncWindow is how far back each sync run reaches.
	SyncWindow time.Duration

	Workers           int
	Queue             int
	SyncFanout        int
	EnrichMaxAttempts int
	EnrichTimeout     time.Duration

	OTLPEndpoint string
	ServiceName  string

	Exchanges map[ledger.Exchange]exchange.Settings
}

// Default returns the default ledgersync configuration.
func Default() Settings {
	return Settings{
		Environment:       EnvProd,
		DatabaseURL:       "",
		SyncInterval:      15 * time.Minute,
		SyncWindow:        24 * time.Hour,
		Workers:           4,
		Queue:             256,
		SyncFanout:        4,
		EnrichMaxAttempts: 3,
		EnrichTimeout:     120 * time.Second,
		ServiceName:       "ledgersync",
		Exchanges: map[ledger.Exchange]exchange.Settings{
			ledger.ExchangeBinance: exchange.Settings{
				BaseURL:        "https://api.binance.com",
				TestnetBaseURL: "https://testnet.binance.vision",
			}.Normalize(),
			ledger.ExchangeBybit: exchange.Settings{
				BaseURL:        "https://api.bybit.com",
				TestnetBaseURL: "https://api-testnet.bybit.com",
			}.Normalize(),
			ledger.ExchangeOKX: exchange.Settings{
				BaseURL: "https://www.okx.com",
			}.Normalize(),
		},
	}
}

// Exchange returns the exchange-specific configuration, falling back to
// normalized zero settings for unknown names.
func (s Settings) Exchange(name ledger.Exchange) exchange.Settings {
	if settings, ok := s.Exchanges[name]; ok {
		return settings.Normalize()
	}
	return exchange.Settings{}.Normalize()
}

// FromEnv loads configuration values from environment variables, overriding
// defaults.
func FromEnv() Settings {
	return overlayEnv(Default())
}

// Load reads the YAML file when path is non-empty, then applies environment
// overrides on top. With an empty path it behaves like FromEnv.
func Load(path string) (Settings, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
		var file fileSettings
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Settings{}, fmt.Errorf("parse config file: %w", err)
		}
		cfg = file.overlay(cfg)
	}
	return overlayEnv(cfg), nil
}

func overlayEnv(cfg Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_SYNC_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_SYNC_WINDOW")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.SyncWindow = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_QUEUE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_SYNC_FANOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SyncFanout = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_ENRICH_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EnrichMaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_ENRICH_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.EnrichTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_OTLP_ENDPOINT")); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERSYNC_SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}

	for _, ex := range ledger.Exchanges() {
		prefix := strings.ToUpper(string(ex))
		settings := cfg.Exchanges[ex]
		if v := strings.TrimSpace(os.Getenv(prefix + "_BASE_URL")); v != "" {
			settings.BaseURL = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_TESTNET_BASE_URL")); v != "" {
			settings.TestnetBaseURL = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_HTTP_TIMEOUT")); v != "" {
			if dur, err := time.ParseDuration(v); err == nil {
				settings.HTTPTimeout = dur
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_RECV_WINDOW")); v != "" {
			if dur, err := time.ParseDuration(v); err == nil {
				settings.RecvWindow = dur
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_PAGE_SIZE")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				settings.PageSize = n
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_PAGE_INTERVAL")); v != "" {
			if dur, err := time.ParseDuration(v); err == nil {
				settings.PageInterval = dur
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "_SPOT_SYMBOLS")); v != "" {
			settings.SpotSymbols = splitList(v)
		}
		if cfg.Exchanges == nil {
			cfg.Exchanges = make(map[ledger.Exchange]exchange.Settings)
		}
		cfg.Exchanges[ex] = settings.Normalize()
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Duration parses YAML scalars either as Go duration strings or integer
// nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asString string
	if err := node.Decode(&asString); err == nil {
		parsed, err := time.ParseDuration(strings.TrimSpace(asString))
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var asInt int64
	if err := node.Decode(&asInt); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(asInt)
	return nil
}

type fileExchange struct {
	BaseURL        string   `yaml:"baseURL"`
	TestnetBaseURL string   `yaml:"testnetBaseURL"`
	HTTPTimeout    Duration `yaml:"httpTimeout"`
	RecvWindow     Duration `yaml:"recvWindow"`
	PageSize       int      `yaml:"pageSize"`
	PageInterval   Duration `yaml:"pageInterval"`
	SpotSymbols    []string `yaml:"spotSymbols"`
}

type fileSettings struct {
	Environment       string                  `yaml:"environment"`
	DatabaseURL       string                  `yaml:"databaseURL"`
	SyncInterval      Duration                `yaml:"syncInterval"`
	SyncWindow        Duration                `yaml:"syncWindow"`
	Workers           int                     `yaml:"workers"`
	Queue             int                     `yaml:"queue"`
	SyncFanout        int                     `yaml:"syncFanout"`
	EnrichMaxAttempts int                     `yaml:"enrichMaxAttempts"`
	EnrichTimeout     Duration                `yaml:"enrichTimeout"`
	OTLPEndpoint      string                  `yaml:"otlpEndpoint"`
	ServiceName       string                  `yaml:"serviceName"`
	Exchanges         map[string]fileExchange `yaml:"exchanges"`
}

func (f fileSettings) overlay(cfg Settings) Settings {
	if f.Environment != "" {
		cfg.Environment = Environment(strings.ToLower(strings.TrimSpace(f.Environment)))
	}
	if f.DatabaseURL != "" {
		cfg.DatabaseURL = f.DatabaseURL
	}
	if f.SyncInterval > 0 {
		cfg.SyncInterval = time.Duration(f.SyncInterval)
	}
	if f.SyncWindow > 0 {
		cfg.SyncWindow = time.Duration(f.SyncWindow)
	}
	if f.Workers > 0 {
		cfg.Workers = f.Workers
	}
	if f.Queue > 0 {
		cfg.Queue = f.Queue
	}
	if f.SyncFanout > 0 {
		cfg.SyncFanout = f.SyncFanout
	}
	if f.EnrichMaxAttempts > 0 {
		cfg.EnrichMaxAttempts = f.EnrichMaxAttempts
	}
	if f.EnrichTimeout > 0 {
		cfg.EnrichTimeout = time.Duration(f.EnrichTimeout)
	}
	if f.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = f.OTLPEndpoint
	}
	if f.ServiceName != "" {
		cfg.ServiceName = f.ServiceName
	}
	for name, fe := range f.Exchanges {
		key := ledger.Exchange(strings.ToLower(strings.TrimSpace(name)))
		if cfg.Exchanges == nil {
			cfg.Exchanges = make(map[ledger.Exchange]exchange.Settings)
		}
		settings := cfg.Exchanges[key]
		if fe.BaseURL != "" {
			settings.BaseURL = fe.BaseURL
		}
		if fe.TestnetBaseURL != "" {
			settings.TestnetBaseURL = fe.TestnetBaseURL
		}
		if fe.HTTPTimeout > 0 {
			settings.HTTPTimeout = time.Duration(fe.HTTPTimeout)
		}
		if fe.RecvWindow > 0 {
			settings.RecvWindow = time.Duration(fe.RecvWindow)
		}
		if fe.PageSize > 0 {
			settings.PageSize = fe.PageSize
		}
		if fe.PageInterval > 0 {
			settings.PageInterval = time.Duration(fe.PageInterval)
		}
		if len(fe.SpotSymbols) > 0 {
			settings.SpotSymbols = fe.SpotSymbols
		}
		cfg.Exchanges[key] = settings.Normalize()
	}
	return cfg
}
