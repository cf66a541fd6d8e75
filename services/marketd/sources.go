package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"stablemarket/config"
	"stablemarket/native/oracle"
)

// buildOracle assembles the configured price sources behind an aggregator
// and exposes it through the pair-string interface consumed by the market.
func buildOracle(cfg *config.Config, client oracle.HTTPDoer, now func() time.Time) (*oracle.Feed, *oracle.Aggregator, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if now == nil {
		now = time.Now
	}
	base, quote, err := oracle.ParsePair(cfg.Market.Pair)
	if err != nil {
		return nil, nil, err
	}
	agg := oracle.NewAggregator(cfg.Oracle.Priority, cfg.Oracle.MaxAge.Duration)
	agg.SetMaxDeviationBps(cfg.Oracle.MaxDeviationBps)
	agg.SetNowFunc(now)
	for _, src := range cfg.Oracle.Sources {
		built, err := buildSource(src, base, quote, client, now)
		if err != nil {
			return nil, nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		agg.Register(src.Name, built)
	}
	return oracle.NewFeed(agg), agg, nil
}

func buildSource(src config.Source, base, quote string, client oracle.HTTPDoer, now func() time.Time) (oracle.PriceOracle, error) {
	switch strings.ToLower(src.Type) {
	case config.SourceManual:
		manual := oracle.NewManualOracle()
		if src.Rate == "" {
			return manual, nil
		}
		rate, ok := new(big.Rat).SetString(strings.TrimSpace(src.Rate))
		if !ok || rate.Sign() <= 0 {
			return nil, fmt.Errorf("invalid rate %q", src.Rate)
		}
		// A configured rate is a standing quote and is always observed now.
		return oracle.Func(func(ctx context.Context, b, q string) (oracle.PriceQuote, error) {
			if !strings.EqualFold(b, base) || !strings.EqualFold(q, quote) {
				return manual.GetRate(ctx, b, q)
			}
			return oracle.PriceQuote{Rate: new(big.Rat).Set(rate), Timestamp: now(), Source: src.Name}, nil
		}), nil
	case config.SourceCoinGecko:
		return oracle.NewCoinGeckoOracle(client, src.Endpoint, src.APIKey, src.Assets), nil
	case config.SourceNowPayments:
		return oracle.NewNowPaymentsOracle(client, src.Endpoint, src.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", src.Type)
	}
}
