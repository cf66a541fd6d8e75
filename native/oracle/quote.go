package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// PriceQuote captures an exchange rate for a specific currency pair along with
// the timestamp reported by the upstream source and the source identifier.
// Rate is expressed as units of quote currency per one unit of base.
type PriceQuote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// RateString renders the rate using the supplied precision.
func (q PriceQuote) RateString(precision int) string {
	if q.Rate == nil {
		return ""
	}
	if precision < 0 {
		precision = 18
	}
	return q.Rate.FloatString(precision)
}

// PriceOracle resolves an exchange rate for the provided base/quote pair.
type PriceOracle interface {
	GetRate(ctx context.Context, base, quote string) (PriceQuote, error)
}

// Func adapts a function to the PriceOracle interface.
type Func func(ctx context.Context, base, quote string) (PriceQuote, error)

// GetRate implements PriceOracle.
func (f Func) GetRate(ctx context.Context, base, quote string) (PriceQuote, error) {
	return f(ctx, base, quote)
}

// ParsePair splits a BASE/QUOTE pair identifier.
func ParsePair(pair string) (string, string, error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("oracle: invalid pair %q", pair)
	}
	base := normaliseSymbol(parts[0])
	quote := normaliseSymbol(parts[1])
	if base == "" || quote == "" {
		return "", "", fmt.Errorf("oracle: invalid pair %q", pair)
	}
	return base, quote, nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
