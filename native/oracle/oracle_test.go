package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stablemarket/native/marketplace"
)

var _ marketplace.PriceOracle = (*Feed)(nil)

func TestManualOracleProvidesQuotes(t *testing.T) {
	manual := NewManualOracle()
	now := time.Now().UTC()
	if err := manual.SetDecimal("ETH", "USD", "2000.5", now); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	quote, err := manual.GetRate(context.Background(), "eth", "usd")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.RateString(1) != "2000.5" {
		t.Fatalf("unexpected rate: %v", quote.Rate)
	}
	if !quote.Timestamp.Equal(now) {
		t.Fatalf("unexpected timestamp: %v", quote.Timestamp)
	}
	if err := manual.SetDecimal("ETH", "USD", "-1", now); err == nil {
		t.Fatalf("expected negative rate to be rejected")
	}
	if _, err := manual.GetRate(context.Background(), "BTC", "USD"); err == nil {
		t.Fatalf("expected missing quote error")
	}
}

func TestAggregatorStaleQuote(t *testing.T) {
	manual := NewManualOracle()
	agg := NewAggregator([]string{"manual"}, time.Second)
	agg.Register("manual", manual)
	if err := manual.SetDecimal("ETH", "USD", "20", time.Now().Add(-2*time.Second)); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if _, err := agg.GetRate(context.Background(), "ETH", "USD"); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote, got %v", err)
	}
}

func TestAggregatorPriorityFallback(t *testing.T) {
	manual := NewManualOracle()
	agg := NewAggregator([]string{"primary", "manual"}, 5*time.Minute)
	agg.Register("primary", Func(func(context.Context, string, string) (PriceQuote, error) {
		return PriceQuote{}, fmt.Errorf("primary down")
	}))
	agg.Register("manual", manual)
	if err := manual.SetDecimal("ETH", "USD", "1.25", time.Now()); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	quote, err := agg.GetRate(context.Background(), "ETH", "USD")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.Source != "manual" {
		t.Fatalf("expected manual source, got %s", quote.Source)
	}
	health := agg.Health()
	if len(health) != 1 || health[0].Pair != "ETH/USD" || health[0].Observations != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestAggregatorDeviationGuard(t *testing.T) {
	manual := NewManualOracle()
	agg := NewAggregator(nil, 0)
	agg.Register("manual", manual)
	agg.SetMaxDeviationBps(500)

	manual.Set("ETH", "USD", big.NewRat(100, 1), time.Now())
	if _, err := agg.GetRate(context.Background(), "ETH", "USD"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	manual.Set("ETH", "USD", big.NewRat(104, 1), time.Now())
	if _, err := agg.GetRate(context.Background(), "ETH", "USD"); err != nil {
		t.Fatalf("within band: %v", err)
	}
	manual.Set("ETH", "USD", big.NewRat(150, 1), time.Now())
	if _, err := agg.GetRate(context.Background(), "ETH", "USD"); !errors.Is(err, ErrDeviantQuote) {
		t.Fatalf("expected ErrDeviantQuote, got %v", err)
	}
}

func TestNowPaymentsOracle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("from"); got != "ETH" {
			t.Errorf("expected from=ETH, got %s", got)
		}
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("missing api key header")
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"rate": "2500.10", "timestamp": time.Now().Unix()})
	}))
	defer server.Close()
	o := NewNowPaymentsOracle(server.Client(), server.URL, "secret")
	quote, err := o.GetRate(context.Background(), "eth", "usd")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.RateString(2) != "2500.10" {
		t.Fatalf("unexpected rate: %v", quote.Rate)
	}
}

func TestCoinGeckoOracle(t *testing.T) {
	updated := time.Now().Add(-10 * time.Second).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "ethereum" {
			t.Errorf("expected ids=ethereum, got %s", got)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Errorf("expected vs_currencies=usd, got %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]map[string]interface{}{
			"ethereum": {"usd": 3150.25, "last_updated_at": updated},
		})
	}))
	defer server.Close()
	o := NewCoinGeckoOracle(server.Client(), server.URL, "", map[string]string{"ETH": "ethereum"})
	quote, err := o.GetRate(context.Background(), "ETH", "USD")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if quote.RateString(2) != "3150.25" {
		t.Fatalf("unexpected rate: %v", quote.Rate)
	}
	if quote.Timestamp.Unix() != updated {
		t.Fatalf("unexpected timestamp %v", quote.Timestamp)
	}
}

func TestCoinGeckoOracleStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()
	o := NewCoinGeckoOracle(server.Client(), server.URL, "", nil)
	if _, err := o.GetRate(context.Background(), "ETH", "USD"); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestFeed(t *testing.T) {
	manual := NewManualOracle()
	ts := time.Unix(1_700_000_000, 0)
	manual.Set("ETH", "USD", big.NewRat(20, 1), ts)
	feed := NewFeed(manual)
	rate, observed, err := feed.GetPrice(context.Background(), "eth/usd")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if rate.Cmp(big.NewRat(20, 1)) != 0 || !observed.Equal(ts) {
		t.Fatalf("unexpected quote %v %v", rate, observed)
	}
	if _, _, err := feed.GetPrice(context.Background(), "ETHUSD"); err == nil {
		t.Fatalf("expected invalid pair error")
	}
}
