package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "30s" in both TOML
// and YAML files.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration { return Duration{Duration: d} }

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// MarketConfig describes the deployed marketplace.
type MarketConfig struct {
	// Owner is the deployer address; only it may withdraw collected funds.
	Owner string `toml:"Owner" yaml:"owner"`
	// OwnerKeyFile holds the deployer's private key when generated locally.
	OwnerKeyFile string `toml:"OwnerKeyFile,omitempty" yaml:"owner_key_file,omitempty"`
	// Account is the marketplace custody address. Derived from Owner when empty.
	Account            string   `toml:"Account,omitempty" yaml:"account,omitempty"`
	Pair               string   `toml:"Pair" yaml:"pair"`
	SettlementDecimals uint8    `toml:"SettlementDecimals" yaml:"settlement_decimals"`
	MaxPriceAge        Duration `toml:"MaxPriceAge" yaml:"max_price_age"`
	Devnet             bool     `toml:"Devnet" yaml:"devnet"`
	Paused             bool     `toml:"Paused" yaml:"paused"`
}

// StorageConfig selects the key-value backend holding marketplace state.
type StorageConfig struct {
	Backend string `toml:"Backend" yaml:"backend"`
	Path    string `toml:"Path" yaml:"path"`
}

// HistoryConfig selects the SQL store receiving committed events. An empty
// driver disables history.
type HistoryConfig struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// OracleConfig tunes price aggregation.
type OracleConfig struct {
	MaxAge          Duration `toml:"MaxAge" yaml:"max_age"`
	MaxDeviationBps uint32   `toml:"MaxDeviationBps" yaml:"max_deviation_bps"`
	Priority        []string `toml:"Priority" yaml:"priority"`
	Sources         []Source `toml:"Sources" yaml:"sources"`
}

// Source describes an upstream price feed.
type Source struct {
	Name     string            `toml:"Name" yaml:"name"`
	Type     string            `toml:"Type" yaml:"type"`
	Endpoint string            `toml:"Endpoint,omitempty" yaml:"endpoint,omitempty"`
	APIKey   string            `toml:"APIKey,omitempty" yaml:"api_key,omitempty"`
	Assets   map[string]string `toml:"Assets,omitempty" yaml:"assets,omitempty"`
	// Rate seeds a manual source with USD per coin, e.g. "2000.50".
	Rate string `toml:"Rate,omitempty" yaml:"rate,omitempty"`
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string   `toml:"JWTSecret" yaml:"jwt_secret"`
	Issuer    string   `toml:"Issuer" yaml:"issuer"`
	Audience  string   `toml:"Audience" yaml:"audience"`
	ClockSkew Duration `toml:"ClockSkew" yaml:"clock_skew"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
	// TrustedProxies lists IPs or CIDRs whose X-Real-IP / X-Forwarded-For
	// headers identify the client. Other peers are keyed by their address.
	TrustedProxies []string `toml:"TrustedProxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `toml:"MaxAgeDays,omitempty" yaml:"max_age_days,omitempty"`
	Compress   bool   `toml:"Compress,omitempty" yaml:"compress,omitempty"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}
