package main

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"stablemarket/config"
)

type stubDoer struct {
	body   string
	status int
}

func (s stubDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func TestBuildOracleFallsBackToManual(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := &config.Config{
		Market: config.MarketConfig{Pair: "ETH/USD"},
		Oracle: config.OracleConfig{
			MaxAge:   config.NewDuration(time.Minute),
			Priority: []string{"gecko", "fixed"},
			Sources: []config.Source{
				{Name: "gecko", Type: config.SourceCoinGecko, Endpoint: "http://gecko.invalid"},
				{Name: "fixed", Type: config.SourceManual, Rate: "2500"},
			},
		},
	}
	feed, agg, err := buildOracle(cfg, stubDoer{status: http.StatusBadGateway, body: "{}"}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("build oracle: %v", err)
	}
	price, ts, err := feed.GetPrice(context.Background(), "ETH/USD")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(big.NewRat(2500, 1)) != 0 {
		t.Fatalf("unexpected price %s", price.RatString())
	}
	if !ts.Equal(now) {
		t.Fatalf("manual rate should be observed now, got %s", ts)
	}
	if len(agg.Health()) == 0 {
		t.Fatalf("expected feed health to be reported")
	}
}

func TestBuildOracleRejectsBadPair(t *testing.T) {
	cfg := &config.Config{Market: config.MarketConfig{Pair: "ETHUSD"}}
	if _, _, err := buildOracle(cfg, nil, nil); err == nil {
		t.Fatalf("expected pair error")
	}
}

func TestBuildSourceUnknownType(t *testing.T) {
	if _, err := buildSource(config.Source{Name: "x", Type: "chainlink"}, "ETH", "USD", nil, time.Now); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}
