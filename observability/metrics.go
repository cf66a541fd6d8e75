package observability

import (
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics exposes the Prometheus collectors tracking marketplace activity.
type MarketMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	volume     prometheus.Counter
	ledger     prometheus.Gauge
	quoteAge   prometheus.Gauge
	httpReqs   *prometheus.CounterVec
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics

	weiPerCoin = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
)

// Market returns the lazily-initialised marketplace metrics registry.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablemarket",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Marketplace operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stablemarket",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for marketplace operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			volume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stablemarket",
				Subsystem: "market",
				Name:      "sales_volume_coins_total",
				Help:      "Settlement currency received from completed sales, in whole coins.",
			}),
			ledger: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stablemarket",
				Subsystem: "market",
				Name:      "ledger_balance_coins",
				Help:      "Funds currently held for the marketplace owner, in whole coins.",
			}),
			quoteAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stablemarket",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age of the last oracle quote used to price a purchase.",
			}),
			httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablemarket",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP API requests segmented by route and status code.",
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.latency,
			marketRegistry.volume,
			marketRegistry.ledger,
			marketRegistry.quoteAge,
			marketRegistry.httpReqs,
		)
	})
	return marketRegistry
}

// ObserveOperation records the outcome and latency of a marketplace operation.
// outcome is a short classification such as "ok" or the error kind.
func (m *MarketMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if strings.TrimSpace(outcome) == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSale adds a completed sale to the volume counter.
func (m *MarketMetrics) RecordSale(paid *big.Int) {
	if m == nil || paid == nil || paid.Sign() <= 0 {
		return
	}
	m.volume.Add(toCoins(paid))
}

// SetLedgerBalance publishes the current ledger balance.
func (m *MarketMetrics) SetLedgerBalance(balance *big.Int) {
	if m == nil || balance == nil {
		return
	}
	m.ledger.Set(toCoins(balance))
}

// SetQuoteAge publishes the age of the last consumed oracle quote.
func (m *MarketMetrics) SetQuoteAge(age time.Duration) {
	if m == nil {
		return
	}
	if age < 0 {
		age = 0
	}
	m.quoteAge.Set(age.Seconds())
}

// ObserveHTTP records an HTTP request for the supplied route pattern.
func (m *MarketMetrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	if strings.TrimSpace(route) == "" {
		route = "unmatched"
	}
	m.httpReqs.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func toCoins(wei *big.Int) float64 {
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerCoin).Float64()
	return value
}
