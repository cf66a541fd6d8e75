package oracle

import (
	"context"
	"math/big"
	"time"
)

// Feed exposes a PriceOracle through the pair-string interface consumed by
// the marketplace engine.
type Feed struct {
	source PriceOracle
}

// NewFeed wraps source.
func NewFeed(source PriceOracle) *Feed {
	return &Feed{source: source}
}

// GetPrice resolves pair ("ETH/USD") to the quote-per-base rate and its
// observation time.
func (f *Feed) GetPrice(ctx context.Context, pair string) (*big.Rat, time.Time, error) {
	base, quote, err := ParsePair(pair)
	if err != nil {
		return nil, time.Time{}, err
	}
	q, err := f.source.GetRate(ctx, base, quote)
	if err != nil {
		return nil, time.Time{}, err
	}
	return q.Rate, q.Timestamp, nil
}
