// Package pricing implements the constant-product formulas used by the pool.
// All functions are pure; arithmetic is checked 128-bit (see package u128).
package pricing

import (
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/holiman/uint256"
)

// SwapOutput returns how much of the destination asset a trade of input
// yields, keeping srcReserve*dstReserve constant after the trade:
//
//	output = dst - (src*dst) / (src+input)
//
// The result is always strictly below dstReserve when input > 0.
func SwapOutput(srcReserve, dstReserve, input *uint256.Int) (*uint256.Int, error) {
	k, err := u128.Mul(srcReserve, dstReserve)
	if err != nil {
		return nil, fmt.Errorf("swap output: reserve product: %w", err)
	}
	denominator, err := u128.Add(srcReserve, input)
	if err != nil {
		return nil, fmt.Errorf("swap output: new source reserve: %w", err)
	}
	portion, err := u128.Div(k, denominator)
	if err != nil {
		return nil, fmt.Errorf("swap output: %w", err)
	}
	output, err := u128.Sub(dstReserve, portion)
	if err != nil {
		return nil, fmt.Errorf("swap output: %w", err)
	}
	return output, nil
}

// LiquidityRatioCheck reports whether a top-up of (addA, addB) respects the
// current exchange rate. The rate is floor(reserveA/reserveB), so the check
// is biased in one direction only: addB may not exceed addA * rate.
// Empty reserves accept any contribution.
func LiquidityRatioCheck(reserveA, reserveB, addA, addB *uint256.Int) (bool, error) {
	if reserveA.IsZero() && reserveB.IsZero() {
		return true, nil
	}
	rate, err := u128.Div(reserveA, reserveB)
	if err != nil {
		return false, fmt.Errorf("liquidity ratio: exchange rate: %w", err)
	}
	bound, err := u128.Mul(addA, rate)
	if err != nil {
		return false, fmt.Errorf("liquidity ratio: bound: %w", err)
	}
	return !addB.Gt(bound), nil
}

// Quote describes a priced trade against a reserve snapshot.
type Quote struct {
	Input           *uint256.Int
	Output          *uint256.Int
	SrcReserve      *uint256.Int
	DstReserve      *uint256.Int
	SrcReserveAfter *uint256.Int
	DstReserveAfter *uint256.Int
}

// NewQuote prices input against the given reserves and records the
// reserves the trade would leave behind.
func NewQuote(srcReserve, dstReserve, input *uint256.Int) (*Quote, error) {
	output, err := SwapOutput(srcReserve, dstReserve, input)
	if err != nil {
		return nil, err
	}
	srcAfter, err := u128.Add(srcReserve, input)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	dstAfter, err := u128.Sub(dstReserve, output)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	return &Quote{
		Input:           u128.Copy(input),
		Output:          output,
		SrcReserve:      u128.Copy(srcReserve),
		DstReserve:      u128.Copy(dstReserve),
		SrcReserveAfter: srcAfter,
		DstReserveAfter: dstAfter,
	}, nil
}
