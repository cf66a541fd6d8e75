package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

const testOwner = "0x00000000000000000000000000000000000000aa"

func noEnv(string) string { return "" }

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")

	cfg, err := load(path, noEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
	key, err := crypto.LoadECDSA(cfg.Market.OwnerKeyFile)
	if err != nil {
		t.Fatalf("load owner key: %v", err)
	}
	if got := crypto.PubkeyToAddress(key.PublicKey); got != cfg.OwnerAddress() {
		t.Fatalf("owner mismatch: key %s config %s", got.Hex(), cfg.Market.Owner)
	}
	if cfg.AccountAddress() != DeriveAccount(cfg.OwnerAddress()) {
		t.Fatalf("unexpected account %s", cfg.Market.Account)
	}
	if !cfg.Market.Devnet || cfg.Environment != "dev" {
		t.Fatalf("expected dev defaults, got env=%s devnet=%v", cfg.Environment, cfg.Market.Devnet)
	}
	if cfg.Auth.JWTSecret != DevJWTSecret {
		t.Fatalf("expected dev secret fallback")
	}

	reloaded, err := load(path, noEnv)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Market.Owner != cfg.Market.Owner {
		t.Fatalf("reload changed owner: %s != %s", reloaded.Market.Owner, cfg.Market.Owner)
	}
	if reloaded.Market.MaxPriceAge.Duration != 5*time.Minute {
		t.Fatalf("unexpected max price age %s", reloaded.Market.MaxPriceAge)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(raw), DevJWTSecret) {
		t.Fatalf("dev secret must not be persisted")
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")
	writeFile(t, path, `ListenAddress = "127.0.0.1:9000"
Environment = "prod"

[market]
Owner = "`+testOwner+`"
Pair = "ETH/USD"
MaxPriceAge = "90s"

[storage]
Backend = "pebble"
Path = "/var/lib/marketd"

[history]
Driver = "postgres"
DSN = "postgres://market:pw@db:5432/market"

[oracle]
MaxDeviationBps = 250

[[oracle.Sources]]
Name = "gecko"
Type = "coingecko"
Endpoint = "https://api.coingecko.com/api/v3"
Assets = { ETH = "ethereum" }

[[oracle.Sources]]
Name = "fallback"
Type = "manual"
Rate = "1999.5"

[auth]
Issuer = "issuer"
Audience = "market"
`)

	cfg, err := load(path, func(key string) string {
		if key == EnvJWTSecret {
			return "s3cret"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" {
		t.Fatalf("unexpected listen %s", cfg.ListenAddress)
	}
	if cfg.Market.MaxPriceAge.Duration != 90*time.Second {
		t.Fatalf("unexpected max price age %s", cfg.Market.MaxPriceAge)
	}
	if cfg.Oracle.MaxAge.Duration != 90*time.Second {
		t.Fatalf("oracle max age should inherit market max price age, got %s", cfg.Oracle.MaxAge)
	}
	if got := strings.Join(cfg.Oracle.Priority, ","); got != "gecko,fallback" {
		t.Fatalf("unexpected priority %s", got)
	}
	if cfg.Oracle.Sources[0].Assets["ETH"] != "ethereum" {
		t.Fatalf("asset map not decoded: %+v", cfg.Oracle.Sources[0].Assets)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("env secret not applied")
	}
	if cfg.AccountAddress() != DeriveAccount(cfg.OwnerAddress()) {
		t.Fatalf("account not derived")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.yaml")
	writeFile(t, path, `listen: ":7000"
market:
  owner: "`+testOwner+`"
  account: "0x00000000000000000000000000000000000000bb"
  max_price_age: 2m
  devnet: true
oracle:
  sources:
    - name: manual
      type: manual
      rate: "2500"
rate_limit:
  requests_per_minute: 120
  burst: 5
  trusted_proxies: ["10.0.0.0/8"]
`)

	cfg, err := load(path, noEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Market.MaxPriceAge.Duration != 2*time.Minute {
		t.Fatalf("unexpected max price age %s", cfg.Market.MaxPriceAge)
	}
	if cfg.Market.Account != "0x00000000000000000000000000000000000000bb" {
		t.Fatalf("explicit account overwritten: %s", cfg.Market.Account)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RequestsPerMinute != 120 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if len(cfg.RateLimit.TrustedProxies) != 1 || cfg.RateLimit.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("unexpected trusted proxies %v", cfg.RateLimit.TrustedProxies)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")
	writeFile(t, path, `ListenAdress = ":1"
[market]
Owner = "`+testOwner+`"
[[oracle.Sources]]
Name = "m"
Type = "manual"
`)
	if _, err := load(path, noEnv); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Market: MarketConfig{Owner: testOwner},
			Oracle: OracleConfig{Sources: []Source{{Name: "m", Type: SourceManual, Rate: "1"}}},
		}
		applyDefaults(cfg)
		return cfg
	}
	if err := validate(base()); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad owner", func(c *Config) { c.Market.Owner = "nope" }, "owner"},
		{"owner is account", func(c *Config) { c.Market.Account = testOwner }, "differ"},
		{"bad pair", func(c *Config) { c.Market.Pair = "ETHUSD" }, "pair"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, "backend"},
		{"history without dsn", func(c *Config) { c.History.Driver = "sqlite" }, "dsn"},
		{"unknown history driver", func(c *Config) { c.History.Driver = "mysql"; c.History.DSN = "x" }, "driver"},
		{"no sources", func(c *Config) { c.Oracle.Sources = nil; c.Oracle.Priority = nil }, "source"},
		{"bad manual rate", func(c *Config) { c.Oracle.Sources[0].Rate = "-1" }, "positive"},
		{"http source without endpoint", func(c *Config) { c.Oracle.Sources[0].Type = SourceCoinGecko }, "endpoint"},
		{"unknown priority", func(c *Config) { c.Oracle.Priority = []string{"other"} }, "priority"},
		{"deviation", func(c *Config) { c.Oracle.MaxDeviationBps = 10_001 }, "deviation"},
		{"prod without secret", func(c *Config) { c.Environment = "prod"; c.Auth.JWTSecret = "" }, "jwt"},
		{"bad trusted proxy", func(c *Config) { c.RateLimit.TrustedProxies = []string{"proxy.local"} }, "trusted proxy"},
		{"prod devnet", func(c *Config) { c.Environment = "prod"; c.Auth.JWTSecret = "x"; c.Market.Devnet = true }, "devnet"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("unexpected duration %s", d.Duration)
	}
	out, err := d.MarshalText()
	if err != nil || string(out) != "1m30s" {
		t.Fatalf("unexpected marshal %q %v", out, err)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("expected parse error")
	}
}
