package amm

import (
	"github.com/Iwinswap/iwinswap-amm-pool/events"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OnIncomingTransfer is invoked by an asset service after it moved amount of
// asset from sender to the pool account. It credits sender's internal
// balance and returns the part of amount that was not consumed, which the
// service refunds to sender.
//
// Transfers of assets the pool does not hold are returned in full, as are
// credits that would overflow. It never fails.
func (p *Pool) OnIncomingTransfer(asset, sender common.Address, amount *uint256.Int, msg string) *uint256.Int {
	const op = "deposit"
	if amount == nil {
		return u128.Zero()
	}

	var depositErr error
	supported := func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()

		l, ok := p.ledgerFor(asset)
		if !ok {
			return false
		}
		if depositErr = l.Deposit(sender, amount); depositErr == nil {
			p.updateGauges()
		}
		return true
	}()

	if !supported {
		p.logger.Warn("Returning transfer of unsupported asset", "system", p.systemName, "asset", asset.Hex(), "sender", sender.Hex(), "amount", amount.Dec())
		p.metrics.UnsupportedAssets.WithLabelValues().Inc()
		p.metrics.OperationsTotal.WithLabelValues(op, "returned").Inc()
		return u128.Copy(amount)
	}
	if depositErr != nil {
		err := &ArithmeticError{Op: op, Err: depositErr}
		p.outcome(op, err)
		p.errorHandler(err)
		return u128.Copy(amount)
	}

	p.outcome(op, nil)
	p.logger.Debug("Deposit credited", "system", p.systemName, "asset", asset.Hex(), "sender", sender.Hex(), "amount", amount.Dec(), "msg", msg)
	p.publish(events.Event{
		Kind:     events.KindDeposit,
		Account:  sender,
		AssetIn:  asset,
		AmountIn: u128.Copy(amount),
	})
	return u128.Zero()
}
