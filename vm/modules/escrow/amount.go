package escrow

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/tolelom/dmachain/core"
)

// DefaultDecimals is the precision used when genesis does not set one.
const DefaultDecimals = 18

// FormatAmount renders base units as a human amount, e.g. 1500000000000000000
// with 18 decimals becomes "1.5".
func FormatAmount(amount *uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(core.OrZero(amount).ToBig(), -int32(decimals)).String()
}

// ParseAmount converts a human amount ("1.5") into base units. Amounts with
// more fractional digits than decimals, negatives and overflows are rejected.
func ParseAmount(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative: %w", s, core.ErrInvalidQuantity)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals: %w", s, decimals, core.ErrInvalidQuantity)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows: %w", s, core.ErrInvalidQuantity)
	}
	return v, nil
}
