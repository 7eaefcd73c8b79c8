// Package u128 provides checked unsigned 128-bit arithmetic on top of
// holiman/uint256. Every result is bounded to [0, 2^128-1]; operations that
// would leave that range fail instead of wrapping or clamping.
package u128

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a result exceeds Max.
	ErrOverflow = errors.New("u128: arithmetic overflow")
	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("u128: arithmetic underflow")
	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("u128: division by zero")
)

// Max is the largest representable amount, 2^128-1.
var Max = new(uint256.Int).SetAllOne().Rsh(new(uint256.Int).SetAllOne(), 128)

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// From returns a fresh amount holding v.
func From(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// Parse reads a base-10 amount and checks it fits in 128 bits.
func Parse(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("u128: invalid amount %q: %w", s, err)
	}
	if v.Gt(Max) {
		return nil, fmt.Errorf("u128: amount %q: %w", s, ErrOverflow)
	}
	return v, nil
}

// Add returns a+b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow || sum.Gt(Max) {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, ErrUnderflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// Mul returns a*b.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow || product.Gt(Max) {
		return nil, ErrOverflow
	}
	return product, nil
}

// Div returns floor(a/b).
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// Copy returns an independent copy of v, treating nil as zero.
func Copy(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
