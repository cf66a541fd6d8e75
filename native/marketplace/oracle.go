package marketplace

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

const (
	// USDDecimals is the fixed-point precision of listing prices.
	USDDecimals = 18
	// DefaultSettlementDecimals matches the smallest unit of an EVM native coin.
	DefaultSettlementDecimals = 18
)

// PriceOracle resolves the USD price of one whole settlement coin for the
// supplied pair (e.g. "ETH/USD") together with the observation timestamp.
// Quote authenticity is the implementation's responsibility.
type PriceOracle interface {
	GetPrice(ctx context.Context, pair string) (price *big.Rat, timestamp time.Time, err error)
}

// PriceOracleFunc adapts a function to the PriceOracle interface.
type PriceOracleFunc func(ctx context.Context, pair string) (*big.Rat, time.Time, error)

// GetPrice implements PriceOracle.
func (f PriceOracleFunc) GetPrice(ctx context.Context, pair string) (*big.Rat, time.Time, error) {
	return f(ctx, pair)
}

// SettlementAmount converts an 18-decimal USD amount into settlement units
// given the USD price of one whole coin. The result is rounded up so a payment
// of exactly the returned amount never falls short of the USD price.
func SettlementAmount(usdAmount *big.Int, usdPerCoin *big.Rat, decimals uint8) (*big.Int, error) {
	if usdAmount == nil || usdAmount.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if usdPerCoin == nil || usdPerCoin.Sign() <= 0 {
		return nil, ErrInvalidQuote
	}
	num := new(big.Int).Mul(usdAmount, pow10(decimals))
	num.Mul(num, usdPerCoin.Denom())
	den := new(big.Int).Mul(pow10(USDDecimals), usdPerCoin.Num())
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// checkFreshness enforces the maximum quote age relative to now. A zero maxAge
// disables the check.
func checkFreshness(observed, now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	if observed.IsZero() {
		return fmt.Errorf("%w: quote has no timestamp", ErrStalePrice)
	}
	if age := now.Sub(observed); age > maxAge {
		return fmt.Errorf("%w: quote age %s exceeds %s", ErrStalePrice, age.Truncate(time.Second), maxAge)
	}
	return nil
}
