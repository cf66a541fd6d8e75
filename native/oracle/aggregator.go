package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoFreshQuote indicates that no source produced a quote within the
	// configured freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrDeviantQuote indicates that a quote strayed too far from the rolling
	// median of recent observations.
	ErrDeviantQuote = errors.New("oracle: quote deviates from recent median")
)

const defaultSampleCap = 64

// FeedHealth captures metadata about the observations of a single pair.
type FeedHealth struct {
	Pair         string    `json:"pair"`
	Source       string    `json:"source"`
	LastObserved time.Time `json:"lastObserved"`
	Observations int       `json:"observations"`
}

// Aggregator consults a list of registered sources in priority order until a
// fresh, non-deviant quote is obtained.
type Aggregator struct {
	mu           sync.RWMutex
	priority     []string
	sources      map[string]PriceOracle
	maxAge       time.Duration
	maxDeviation uint32
	history      map[string][]PriceQuote
	sampleCap    int
	nowFn        func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority and
// freshness window.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority:  prio,
		sources:   make(map[string]PriceOracle),
		maxAge:    maxAge,
		history:   make(map[string][]PriceQuote),
		sampleCap: defaultSampleCap,
		nowFn:     time.Now,
	}
}

// SetMaxDeviationBps rejects quotes deviating from the rolling median by more
// than bps basis points. Zero disables the guard.
func (a *Aggregator) SetMaxDeviationBps(bps uint32) {
	a.mu.Lock()
	a.maxDeviation = bps
	a.mu.Unlock()
}

// SetNowFunc overrides the clock used for freshness checks.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// Register adds or replaces a source under the supplied identifier. Sources
// missing from the priority list are consulted last in registration order.
func (a *Aggregator) Register(name string, source PriceOracle) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || source == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetRate implements PriceOracle.
func (a *Aggregator) GetRate(ctx context.Context, base, quote string) (PriceQuote, error) {
	if a == nil {
		return PriceQuote{}, fmt.Errorf("oracle aggregator not configured")
	}
	baseSym := normaliseSymbol(base)
	quoteSym := normaliseSymbol(quote)
	if baseSym == "" || quoteSym == "" {
		return PriceQuote{}, fmt.Errorf("oracle: base and quote required")
	}

	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.nowFn()
	a.mu.RUnlock()

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[name]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		q, err := source.GetRate(ctx, baseSym, quoteSym)
		if err != nil {
			lastErr = fmt.Errorf("oracle %s: %w", name, err)
			continue
		}
		if q.Rate == nil || q.Rate.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle %s returned invalid rate", name)
			continue
		}
		if maxAge > 0 && (q.Timestamp.IsZero() || now.Sub(q.Timestamp) > maxAge) {
			lastErr = ErrNoFreshQuote
			continue
		}
		if err := a.checkDeviation(baseSym, quoteSym, q.Rate); err != nil {
			lastErr = fmt.Errorf("oracle %s: %w", name, err)
			continue
		}
		result := q.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		a.recordSample(baseSym, quoteSym, result)
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return PriceQuote{}, lastErr
}

func pairKey(base, quote string) string {
	return normaliseSymbol(base) + "/" + normaliseSymbol(quote)
}

func (a *Aggregator) checkDeviation(base, quote string, rate *big.Rat) error {
	a.mu.RLock()
	threshold := a.maxDeviation
	samples := a.history[pairKey(base, quote)]
	a.mu.RUnlock()
	if threshold == 0 || len(samples) == 0 {
		return nil
	}
	median := computeMedian(samples)
	if deviatesBeyondThreshold(rate, median, threshold) {
		return fmt.Errorf("%w: %s vs median %s", ErrDeviantQuote, rate.FloatString(8), median.FloatString(8))
	}
	return nil
}

func (a *Aggregator) recordSample(base, quote string, q PriceQuote) {
	key := pairKey(base, quote)
	a.mu.Lock()
	defer a.mu.Unlock()
	bucket := append(a.history[key], q.Clone())
	if len(bucket) > a.sampleCap {
		bucket = append([]PriceQuote{}, bucket[len(bucket)-a.sampleCap:]...)
	}
	a.history[key] = bucket
}

// Health reports the last observation for each tracked pair.
func (a *Aggregator) Health() []FeedHealth {
	a.mu.RLock()
	defer a.mu.RUnlock()
	feeds := make([]FeedHealth, 0, len(a.history))
	for key, samples := range a.history {
		if len(samples) == 0 {
			continue
		}
		last := samples[len(samples)-1]
		feeds = append(feeds, FeedHealth{
			Pair:         key,
			Source:       last.Source,
			LastObserved: last.Timestamp,
			Observations: len(samples),
		})
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Pair < feeds[j].Pair })
	return feeds
}

func computeMedian(samples []PriceQuote) *big.Rat {
	values := make([]*big.Rat, 0, len(samples))
	for _, sample := range samples {
		if sample.Rate != nil {
			values = append(values, sample.Rate)
		}
	}
	if len(values) == 0 {
		return nil
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Cmp(values[j]) < 0 })
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return new(big.Rat).Set(values[mid])
	}
	sum := new(big.Rat).Add(values[mid-1], values[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

func deviatesBeyondThreshold(spot, reference *big.Rat, thresholdBps uint32) bool {
	if spot == nil || reference == nil || reference.Sign() <= 0 {
		return false
	}
	diff := new(big.Rat).Sub(spot, reference)
	diff.Abs(diff)
	ratio := new(big.Rat).Quo(diff, reference)
	ratio.Mul(ratio, big.NewRat(10_000, 1))
	return ratio.Cmp(big.NewRat(int64(thresholdBps), 1)) > 0
}
