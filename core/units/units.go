// Package units converts between human-readable decimal amounts and the
// 18-decimal fixed-point integers used for USD prices and settlement amounts.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point precision shared by USD prices and wei.
const Decimals = 18

// Parse converts a decimal string such as "100.25" into an integer scaled by
// 10^decimals. Values with more fractional digits than decimals are rejected
// rather than rounded.
func Parse(value string, decimals int32) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("units: amount required")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("units: invalid amount %q: %w", value, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("units: %q has more than %d decimal places", value, decimals)
	}
	return scaled.BigInt(), nil
}

// ParseUSD parses a USD amount into its 18-decimal representation.
func ParseUSD(value string) (*big.Int, error) {
	return Parse(value, Decimals)
}

// ParseEther parses a settlement amount expressed in whole coins into wei.
func ParseEther(value string) (*big.Int, error) {
	return Parse(value, Decimals)
}

// ParseAmount accepts either a plain integer in the smallest unit or a
// decimal coin amount suffixed with the unit name (e.g. "1.5eth").
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if strings.HasSuffix(trimmed, "eth") {
		return ParseEther(strings.TrimSuffix(trimmed, "eth"))
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("units: invalid integer amount %q", value)
	}
	return amount, nil
}

// Format renders a fixed-point integer as a decimal string without trailing
// zeros.
func Format(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// FormatUSD renders an 18-decimal USD amount.
func FormatUSD(amount *big.Int) string { return Format(amount, Decimals) }

// FormatEther renders a wei amount in whole coins.
func FormatEther(amount *big.Int) string { return Format(amount, Decimals) }

// ApplyBuffer scales amount by (10000+bps)/10000, rounding down. It is used by
// clients to add headroom for price movement between quoting and buying.
func ApplyBuffer(amount *big.Int, bps uint32) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(10_000+bps)))
	return out.Quo(out, big.NewInt(10_000))
}
