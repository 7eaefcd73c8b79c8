package amm

import (
	"errors"
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/events"
	"github.com/Iwinswap/iwinswap-amm-pool/ledger"
	"github.com/Iwinswap/iwinswap-amm-pool/pricing"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AddLiquidity moves amountA of asset A and amountB of asset B from the
// caller's internal balances into the pool's reserves. Only the owner may
// call it, either directly or as the signer of the originating transaction.
//
// Asset identities must be passed in pool order. The first top-up of an
// empty pool accepts any amounts; later ones must satisfy the liquidity
// ratio check. Either both transfers are applied or neither is.
func (p *Pool) AddLiquidity(caller Caller, assetA common.Address, amountA *uint256.Int, assetB common.Address, amountB *uint256.Int) error {
	const op = "add_liquidity"
	contributor := caller.Predecessor

	var ev events.Event
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()

		la, lb := p.ledgers[0], p.ledgers[1]
		if assetA != la.Asset() || assetB != lb.Asset() {
			return &PreconditionError{
				Op:      op,
				Account: contributor,
				Details: fmt.Sprintf("got (%s, %s), pool holds (%s, %s)", assetA.Hex(), assetB.Hex(), la.Asset().Hex(), lb.Asset().Hex()),
				Err:     ErrAssetMismatch,
			}
		}
		if caller.Predecessor != p.owner && caller.Signer != p.owner {
			return &PreconditionError{Op: op, Account: contributor, Err: ErrUnauthorized}
		}
		if amountA == nil || amountB == nil || amountA.IsZero() || amountB.IsZero() {
			return &PreconditionError{Op: op, Account: contributor, Err: ErrZeroAmount}
		}
		if contributor == p.account {
			return &PreconditionError{Op: op, Account: contributor, Err: ErrSelfTransfer}
		}

		for _, side := range []struct {
			name   string
			l      *ledger.AssetLedger
			amount *uint256.Int
		}{{"A", la, amountA}, {"B", lb, amountB}} {
			avail, err := p.available(side.l, contributor)
			if err != nil {
				return &ArithmeticError{Op: op, Err: err}
			}
			if avail.Lt(side.amount) {
				return &PreconditionError{
					Op:      op,
					Account: contributor,
					Details: fmt.Sprintf("asset %s: available %s, required %s", side.name, avail.Dec(), side.amount.Dec()),
					Err:     ErrInsufficientBalance,
				}
			}
		}

		reserveA := la.BalanceOf(p.account)
		reserveB := lb.BalanceOf(p.account)
		ok, err := pricing.LiquidityRatioCheck(reserveA, reserveB, amountA, amountB)
		if err != nil {
			return &ArithmeticError{Op: op, Err: err}
		}
		if !ok {
			return &PreconditionError{
				Op:      op,
				Account: contributor,
				Details: fmt.Sprintf("reserves (%s, %s), offered (%s, %s)", reserveA.Dec(), reserveB.Dec(), amountA.Dec(), amountB.Dec()),
				Err:     ErrRatioCheckFailed,
			}
		}
		if _, err := u128.Add(reserveA, amountA); err != nil {
			return &ArithmeticError{Op: op, Err: err}
		}
		if _, err := u128.Add(reserveB, amountB); err != nil {
			return &ArithmeticError{Op: op, Err: err}
		}

		if err := la.Transfer(contributor, p.account, amountA); err != nil {
			return &ArithmeticError{Op: op, Err: err}
		}
		if err := lb.Transfer(contributor, p.account, amountB); err != nil {
			if rollbackErr := la.Transfer(p.account, contributor, amountA); rollbackErr != nil {
				return &ArithmeticError{Op: op, Err: fmt.Errorf("%w (rollback failed: %v)", err, rollbackErr)}
			}
			return &ArithmeticError{Op: op, Err: err}
		}

		p.updateGauges()
		ev = events.Event{
			Kind:      events.KindLiquidityAdded,
			Account:   contributor,
			AssetIn:   la.Asset(),
			AssetOut:  lb.Asset(),
			AmountIn:  u128.Copy(amountA),
			AmountOut: u128.Copy(amountB),
		}
		return nil
	}()

	p.outcome(op, err)
	if err != nil {
		var arith *ArithmeticError
		if errors.As(err, &arith) {
			p.errorHandler(err)
		}
		return err
	}

	p.logger.Info("Liquidity added", "system", p.systemName, "account", contributor.Hex(), "amountA", amountA.Dec(), "amountB", amountB.Dec())
	p.publish(ev)
	return nil
}
