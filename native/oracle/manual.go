package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrQuoteNotSet is returned by ManualOracle for pairs nobody has priced.
var ErrQuoteNotSet = errors.New("oracle: manual quote not set")

// ManualOracle serves operator supplied quotes. Devnets and tests price
// through it, and production can register it as a last resort override.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualOracle returns an oracle with no quotes.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]PriceQuote)}
}

// SetDecimal parses rate as a decimal string such as "2000.5".
func (m *ManualOracle) SetDecimal(base, quote, rate string, ts time.Time) error {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return fmt.Errorf("manual oracle: invalid rate %q: %w", rate, err)
	}
	if !d.IsPositive() {
		return fmt.Errorf("manual oracle: rate must be positive")
	}
	if normaliseSymbol(base) == "" || normaliseSymbol(quote) == "" {
		return fmt.Errorf("manual oracle: base and quote required")
	}
	m.Set(base, quote, d.Rat(), ts)
	return nil
}

// Set stores rate for the pair, observed at ts. Nil rates and empty symbols
// are ignored.
func (m *ManualOracle) Set(base, quote string, rate *big.Rat, ts time.Time) {
	key := pairKey(base, quote)
	if rate == nil || normaliseSymbol(base) == "" || normaliseSymbol(quote) == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[key] = PriceQuote{Rate: new(big.Rat).Set(rate), Timestamp: ts, Source: "manual"}
}

// GetRate implements PriceOracle.
func (m *ManualOracle) GetRate(_ context.Context, base, quote string) (PriceQuote, error) {
	m.mu.RLock()
	stored, ok := m.quotes[pairKey(base, quote)]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s/%s", ErrQuoteNotSet, normaliseSymbol(base), normaliseSymbol(quote))
	}
	return stored.Clone(), nil
}
