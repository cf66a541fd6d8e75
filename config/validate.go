package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Supported oracle source types.
const (
	SourceManual      = "manual"
	SourceCoinGecko   = "coingecko"
	SourceNowPayments = "nowpayments"
)

const (
	defaultMaxPriceAge = 5 * time.Minute
	defaultClockSkew   = 30 * time.Second
)

// Environment variables overriding file values. Secrets are expected to be
// supplied this way rather than committed to the config file.
const (
	EnvJWTSecret  = "MARKETD_JWT_SECRET"
	EnvOwner      = "MARKETD_OWNER"
	EnvHistoryDSN = "MARKETD_HISTORY_DSN"
	EnvListen     = "MARKETD_LISTEN"
	EnvPaused     = "MARKETD_PAUSED"
	EnvOTLP       = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// DevJWTSecret signs tokens in the dev environment when no secret is set.
const DevJWTSecret = "marketd-dev-secret"

func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvJWTSecret)); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(getenv(EnvOwner)); v != "" {
		cfg.Market.Owner = v
	}
	if v := strings.TrimSpace(getenv(EnvHistoryDSN)); v != "" {
		cfg.History.DSN = v
	}
	if v := strings.TrimSpace(getenv(EnvListen)); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(getenv(EnvPaused)); v != "" {
		cfg.Market.Paused = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(getenv(EnvOTLP)); v != "" && cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Market.Pair == "" {
		cfg.Market.Pair = "ETH/USD"
	}
	if cfg.Market.SettlementDecimals == 0 {
		cfg.Market.SettlementDecimals = 18
	}
	if cfg.Market.MaxPriceAge.Duration == 0 {
		cfg.Market.MaxPriceAge.Duration = defaultMaxPriceAge
	}
	if cfg.Market.Account == "" && common.IsHexAddress(cfg.Market.Owner) {
		cfg.Market.Account = DeriveAccount(common.HexToAddress(cfg.Market.Owner)).Hex()
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./market-data"
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = cfg.Market.MaxPriceAge.Duration
	}
	if len(cfg.Oracle.Priority) == 0 {
		for _, src := range cfg.Oracle.Sources {
			cfg.Oracle.Priority = append(cfg.Oracle.Priority, src.Name)
		}
	}
	if cfg.Environment == "dev" && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		cfg.Auth.JWTSecret = DevJWTSecret
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = defaultClockSkew
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Telemetry.SampleRatio <= 0 {
		cfg.Telemetry.SampleRatio = 1
	}
}

func validate(cfg *Config) error {
	if !common.IsHexAddress(cfg.Market.Owner) {
		return fmt.Errorf("market: owner %q is not a hex address", cfg.Market.Owner)
	}
	if !common.IsHexAddress(cfg.Market.Account) {
		return fmt.Errorf("market: account %q is not a hex address", cfg.Market.Account)
	}
	if cfg.OwnerAddress() == (common.Address{}) {
		return fmt.Errorf("market: owner must not be the zero address")
	}
	if cfg.OwnerAddress() == cfg.AccountAddress() {
		return fmt.Errorf("market: account must differ from owner")
	}
	if cfg.Market.SettlementDecimals > 36 {
		return fmt.Errorf("market: settlement_decimals %d out of range", cfg.Market.SettlementDecimals)
	}
	if !strings.Contains(cfg.Market.Pair, "/") {
		return fmt.Errorf("market: pair %q must be BASE/QUOTE", cfg.Market.Pair)
	}
	switch strings.ToLower(cfg.Storage.Backend) {
	case "leveldb", "pebble", "bolt", "bbolt", "memory", "mem":
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	switch strings.ToLower(cfg.History.Driver) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.History.DSN) == "" {
			return fmt.Errorf("history: dsn required for driver %s", cfg.History.Driver)
		}
	default:
		return fmt.Errorf("history: unknown driver %q", cfg.History.Driver)
	}
	if len(cfg.Oracle.Sources) == 0 {
		return fmt.Errorf("oracle: at least one source must be configured")
	}
	names := make(map[string]struct{}, len(cfg.Oracle.Sources))
	for _, src := range cfg.Oracle.Sources {
		if src.Name == "" {
			return fmt.Errorf("oracle: source name required")
		}
		if _, dup := names[src.Name]; dup {
			return fmt.Errorf("oracle: duplicate source %s", src.Name)
		}
		names[src.Name] = struct{}{}
		switch strings.ToLower(src.Type) {
		case SourceManual:
			if src.Rate != "" {
				rate, err := decimal.NewFromString(src.Rate)
				if err != nil || !rate.IsPositive() {
					return fmt.Errorf("oracle: source %s rate %q must be a positive decimal", src.Name, src.Rate)
				}
			}
		case SourceCoinGecko, SourceNowPayments:
			if src.Endpoint == "" {
				return fmt.Errorf("oracle: source %s endpoint required", src.Name)
			}
		default:
			return fmt.Errorf("oracle: source %s has unknown type %q", src.Name, src.Type)
		}
	}
	for _, name := range cfg.Oracle.Priority {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("oracle: priority references unknown source %s", name)
		}
	}
	if cfg.Oracle.MaxDeviationBps > 10_000 {
		return fmt.Errorf("oracle: max_deviation_bps must be <= 10000")
	}
	if cfg.Environment != "dev" && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth: jwt secret required outside dev (set %s)", EnvJWTSecret)
	}
	if cfg.Environment != "dev" && cfg.Market.Devnet {
		return fmt.Errorf("market: devnet helpers only allowed in dev environment")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must not be negative")
	}
	for _, proxy := range cfg.RateLimit.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			return fmt.Errorf("rate_limit: invalid trusted proxy %q", proxy)
		}
	}
	if cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within (0,1]")
	}
	return nil
}
