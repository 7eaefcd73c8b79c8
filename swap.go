package amm

import (
	"errors"
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/events"
	"github.com/Iwinswap/iwinswap-amm-pool/pricing"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Swap trades amount of asset from for asset to at the constant-product
// price of the current reserves. It returns the amount credited to the caller.
func (p *Pool) Swap(caller Caller, from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	const op = "swap"
	trader := caller.Predecessor

	var quote *pricing.Quote
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()

		src, ok := p.ledgerFor(from)
		if !ok {
			return &PreconditionError{Op: op, Account: trader, Details: "from " + from.Hex(), Err: ErrUnknownAsset}
		}
		dst, ok := p.ledgerFor(to)
		if !ok {
			return &PreconditionError{Op: op, Account: trader, Details: "to " + to.Hex(), Err: ErrUnknownAsset}
		}
		if from == to {
			return &PreconditionError{Op: op, Account: trader, Err: ErrSameAsset}
		}
		if amount == nil || amount.IsZero() {
			return &PreconditionError{Op: op, Account: trader, Err: ErrZeroAmount}
		}
		if trader == p.account {
			return &PreconditionError{Op: op, Account: trader, Err: ErrSelfTransfer}
		}

		avail, err := p.available(src, trader)
		if err != nil {
			return &ArithmeticError{Op: op, Err: err}
		}
		if avail.Lt(amount) {
			return &PreconditionError{
				Op:      op,
				Account: trader,
				Details: fmt.Sprintf("available %s, required %s", avail.Dec(), amount.Dec()),
				Err:     ErrInsufficientBalance,
			}
		}

		srcReserve := src.BalanceOf(p.account)
		dstReserve := dst.BalanceOf(p.account)
		if srcReserve.IsZero() || dstReserve.IsZero() {
			return &PreconditionError{
				Op:      op,
				Account: trader,
				Details: fmt.Sprintf("reserves (%s, %s)", srcReserve.Dec(), dstReserve.Dec()),
				Err:     ErrZeroReserve,
			}
		}

		quote, err = pricing.NewQuote(srcReserve, dstReserve, amount)
		if err != nil {
			return &ArithmeticError{Op: op, Err: err}
		}
		if quote.Output.IsZero() {
			return &PreconditionError{Op: op, Account: trader, Details: "input " + amount.Dec(), Err: ErrInsufficientOutput}
		}
		if _, err := u128.Add(dst.BalanceOf(trader), quote.Output); err != nil {
			return &ArithmeticError{Op: op, Err: err}
		}

		if err := src.Transfer(trader, p.account, amount); err != nil {
			return &ArithmeticError{Op: op, Err: err}
		}
		dst.Register(trader)
		if err := dst.Transfer(p.account, trader, quote.Output); err != nil {
			if rollbackErr := src.Transfer(p.account, trader, amount); rollbackErr != nil {
				return &ArithmeticError{Op: op, Err: fmt.Errorf("%w (rollback failed: %v)", err, rollbackErr)}
			}
			return &ArithmeticError{Op: op, Err: err}
		}

		p.updateGauges()
		return nil
	}()

	p.outcome(op, err)
	if err != nil {
		var arith *ArithmeticError
		if errors.As(err, &arith) {
			p.errorHandler(err)
		}
		return nil, err
	}

	p.logger.Debug("Swap executed",
		"system", p.systemName,
		"account", trader.Hex(),
		"from", from.Hex(),
		"to", to.Hex(),
		"in", amount.Dec(),
		"out", quote.Output.Dec(),
	)
	p.publish(events.Event{
		Kind:      events.KindSwap,
		Account:   trader,
		AssetIn:   from,
		AssetOut:  to,
		AmountIn:  u128.Copy(amount),
		AmountOut: u128.Copy(quote.Output),
	})
	return u128.Copy(quote.Output), nil
}

// Quote prices a swap against the current reserves without executing it.
func (p *Pool) Quote(from, to common.Address, amount *uint256.Int) (*pricing.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	src, ok := p.ledgerFor(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, from.Hex())
	}
	dst, ok := p.ledgerFor(to)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, to.Hex())
	}
	if from == to {
		return nil, ErrSameAsset
	}
	srcReserve := src.BalanceOf(p.account)
	dstReserve := dst.BalanceOf(p.account)
	if srcReserve.IsZero() || dstReserve.IsZero() {
		return nil, ErrZeroReserve
	}
	return pricing.NewQuote(srcReserve, dstReserve, amount)
}
