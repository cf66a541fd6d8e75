package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"stablemarket/config"
	"stablemarket/core/events"
	"stablemarket/core/market"
	"stablemarket/observability"
	"stablemarket/observability/logging"
	telemetry "stablemarket/observability/otel"
	"stablemarket/services/marketd/history"
	"stablemarket/services/marketd/server"
	"stablemarket/storage"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./marketd.toml", "path to marketd configuration file (.toml or .yaml)")
	flag.Parse()

	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("marketd: load config: %v", err)
	}

	var sink *logging.FileSink
	if strings.TrimSpace(cfg.Logging.File) != "" {
		sink = &logging.FileSink{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
	}
	logger, closeLog := logging.SetupWithOptions(logging.Options{
		Service: "marketd",
		Env:     cfg.Environment,
		Level:   cfg.Logging.Level,
		File:    sink,
	})
	defer closeLog.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    "marketd",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("marketd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("marketd: open storage: %v", err)
	}
	defer db.Close()

	feed, agg, err := buildOracle(cfg, nil, nil)
	if err != nil {
		log.Fatalf("marketd: build oracle: %v", err)
	}

	metrics := observability.Market()
	emitters := events.Fanout{}
	serverOpts := []server.Option{server.WithLogger(logger), server.WithMetrics(metrics), server.WithFeedHealth(agg)}
	if cfg.History.Driver != "" {
		store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			log.Fatalf("marketd: open history (%s): %v", logging.MaskDSN(cfg.History.DSN), err)
		}
		defer store.Close()
		emitters = append(emitters, store)
		serverOpts = append(serverOpts, server.WithEventLog(store))
	}

	svc, err := market.New(db, feed, market.Config{
		Owner:              cfg.OwnerAddress(),
		Account:            cfg.AccountAddress(),
		Pair:               cfg.Market.Pair,
		SettlementDecimals: cfg.Market.SettlementDecimals,
		MaxPriceAge:        cfg.Market.MaxPriceAge.Duration,
		Devnet:             cfg.Market.Devnet,
		Paused:             cfg.Market.Paused,
	}, market.WithEmitter(emitters), market.WithLogger(logger), market.WithMetrics(metrics))
	if err != nil {
		log.Fatalf("marketd: deploy marketplace: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			TrustedProxies:    cfg.RateLimit.TrustedProxies,
		},
	}, svc, serverOpts...)
	if err != nil {
		log.Fatalf("marketd: configure server: %v", err)
	}

	logger.Info("marketplace deployed",
		"owner", svc.Owner().Hex(),
		"account", svc.Account().Hex(),
		"pair", svc.Pair(),
		"storage", cfg.Storage.Backend,
		"devnet", cfg.Market.Devnet,
		logging.MaskField("historyDsn", logging.MaskDSN(cfg.History.DSN)),
		logging.MaskField("jwtSecret", cfg.Auth.JWTSecret))
	if cfg.Auth.JWTSecret == config.DevJWTSecret {
		logger.Warn("using the built-in development JWT secret", "env", config.EnvJWTSecret)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("marketd: %v", err)
	}
	logger.Info("marketd stopped")
}
