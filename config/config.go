package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddress string          `toml:"ListenAddress" yaml:"listen"`
	Environment   string          `toml:"Environment" yaml:"environment"`
	Market        MarketConfig    `toml:"market" yaml:"market"`
	Storage       StorageConfig   `toml:"storage" yaml:"storage"`
	History       HistoryConfig   `toml:"history" yaml:"history"`
	Oracle        OracleConfig    `toml:"oracle" yaml:"oracle"`
	Auth          AuthConfig      `toml:"auth" yaml:"auth"`
	RateLimit     RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Logging       LoggingConfig   `toml:"logging" yaml:"logging"`
	Telemetry     TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

// Load loads the configuration from the given path. A missing file is created
// with development defaults and a freshly generated owner key.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		applyEnv(cfg, getenv)
		applyDefaults(cfg)
		return cfg, validate(cfg)
	}

	cfg := &Config{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg, getenv)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decodeFile(path string, cfg *Config) error {
	if isYAML(path) {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	keyPath := defaultOwnerKeyPath(path)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(keyPath, key); err != nil {
		return nil, fmt.Errorf("save owner key: %w", err)
	}

	owner := crypto.PubkeyToAddress(key.PublicKey)
	cfg := &Config{
		ListenAddress: ":8090",
		Environment:   "dev",
		Market: MarketConfig{
			Owner:              owner.Hex(),
			OwnerKeyFile:       keyPath,
			Account:            DeriveAccount(owner).Hex(),
			Pair:               "ETH/USD",
			SettlementDecimals: 18,
			MaxPriceAge:        NewDuration(defaultMaxPriceAge),
			Devnet:             true,
		},
		Storage: StorageConfig{Backend: "leveldb", Path: "./market-data"},
		History: HistoryConfig{Driver: "sqlite", DSN: "./market-data/history.sqlite"},
		Oracle: OracleConfig{
			MaxAge:   NewDuration(defaultMaxPriceAge),
			Priority: []string{"manual"},
			Sources:  []Source{{Name: "manual", Type: SourceManual, Rate: "2000"}},
		},
		Auth: AuthConfig{
			Issuer:    "marketd",
			Audience:  "marketd",
			ClockSkew: NewDuration(defaultClockSkew),
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 20},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{Insecure: true, SampleRatio: 1},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultOwnerKeyPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "owner.key")
}

// DeriveAccount returns the custody address the marketplace occupies when
// deployed by owner as its first contract.
func DeriveAccount(owner common.Address) common.Address {
	return crypto.CreateAddress(owner, 0)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(cfg)
}

// OwnerAddress returns the parsed deployer address.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Market.Owner)
}

// AccountAddress returns the parsed marketplace custody address.
func (c *Config) AccountAddress() common.Address {
	return common.HexToAddress(c.Market.Account)
}
