package core

import (
	"fmt"

	"github.com/holiman/uint256"
)

// OrZero returns x, or a fresh zero when x is nil (absent JSON field).
func OrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

// IsZero treats nil as zero.
func IsZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}

// SafeAdd returns a+b or ErrInvalidQuantity on overflow.
func SafeAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(OrZero(a), OrZero(b))
	if overflow {
		return nil, fmt.Errorf("%s + %s overflows: %w", OrZero(a).Dec(), OrZero(b).Dec(), ErrInvalidQuantity)
	}
	return sum, nil
}

// SafeSub returns a-b or ErrInvalidQuantity on underflow.
func SafeSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(OrZero(a), OrZero(b))
	if underflow {
		return nil, fmt.Errorf("%s - %s underflows: %w", OrZero(a).Dec(), OrZero(b).Dec(), ErrInvalidQuantity)
	}
	return diff, nil
}

// SafeMulU64 returns a*n or ErrInvalidQuantity on overflow.
func SafeMulU64(a *uint256.Int, n uint64) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(OrZero(a), uint256.NewInt(n))
	if overflow {
		return nil, fmt.Errorf("%s * %d overflows: %w", OrZero(a).Dec(), n, ErrInvalidQuantity)
	}
	return prod, nil
}

// OffsetID returns base+i, the i-th id of a range rooted at base.
func OffsetID(base *uint256.Int, i uint64) (*uint256.Int, error) {
	return SafeAdd(base, uint256.NewInt(i))
}

// IDKey renders an id for use inside a state key.
func IDKey(id *uint256.Int) string {
	return OrZero(id).Dec()
}
