package erc20

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// BalanceOf reads the balance of account on token. Balances that do not fit
// in 128 bits are rejected.
func BalanceOf(ctx context.Context, client ethereum.ContractCaller, timeout time.Duration, token, account common.Address) (*uint256.Int, error) {
	v, err := callView(ctx, client, timeout, token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf on token %s has type %T", token.Hex(), v)
	}
	balance, overflow := uint256.FromBig(b)
	if overflow || balance.Gt(u128.Max) {
		return nil, fmt.Errorf("balance of %s on token %s: %w", account.Hex(), token.Hex(), u128.ErrOverflow)
	}
	return balance, nil
}

// NewBalances returns a function that reads the balance of one account on
// many tokens, with at most maxConcurrentCalls calls in flight. Results and
// errors are index-aligned with tokens. A non-positive limit means no limit.
func NewBalances(maxConcurrentCalls int, timeout time.Duration) func(ctx context.Context, client ethereum.ContractCaller, tokens []common.Address, account common.Address) (balances []*uint256.Int, errs []error) {
	return func(ctx context.Context, client ethereum.ContractCaller, tokens []common.Address, account common.Address) ([]*uint256.Int, []error) {
		if len(tokens) == 0 {
			return nil, nil
		}
		balances := make([]*uint256.Int, len(tokens))
		errs := make([]error, len(tokens))

		var g errgroup.Group
		if maxConcurrentCalls > 0 {
			g.SetLimit(maxConcurrentCalls)
		}
		for i, token := range tokens {
			i, token := i, token
			g.Go(func() error {
				if ctx.Err() != nil {
					errs[i] = ctx.Err()
					return nil
				}
				balances[i], errs[i] = BalanceOf(ctx, client, timeout, token, account)
				return nil
			})
		}
		_ = g.Wait()
		return balances, errs
	}
}
