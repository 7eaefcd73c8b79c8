package amm

import (
	"context"
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/events"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PendingWithdrawal tracks a withdrawal whose external transfer has been
// issued. The internal balance is debited only when the transfer succeeds.
type PendingWithdrawal struct {
	RequestID uint64
	Asset     common.Address
	Account   common.Address
	Amount    *uint256.Int

	done chan struct{}
	err  error
}

func newPendingWithdrawal(op PendingOperation) *PendingWithdrawal {
	return &PendingWithdrawal{
		RequestID: op.RequestID,
		Asset:     op.Asset,
		Account:   op.Account,
		Amount:    u128.Copy(op.Amount),
		done:      make(chan struct{}),
	}
}

// Done is closed once the withdrawal has settled.
func (w *PendingWithdrawal) Done() <-chan struct{} {
	return w.done
}

// Err returns nil while the withdrawal is in flight, then its outcome.
func (w *PendingWithdrawal) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Wait blocks until the withdrawal settles or ctx is done.
func (w *PendingWithdrawal) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *PendingWithdrawal) resolve(err error) {
	w.err = err
	close(w.done)
}

// WithdrawAsset sends amount of asset from the pool's external account to
// the caller and debits the caller's internal balance once the asset service
// confirms the transfer. The caller must attach at least the configured
// transfer deposit, which is forwarded with the transfer.
//
// The returned error covers only the initial checks; the transfer outcome is
// reported through the PendingWithdrawal.
func (p *Pool) WithdrawAsset(ctx context.Context, caller Caller, asset common.Address, amount *uint256.Int) (*PendingWithdrawal, error) {
	const op = "withdraw"
	account := caller.Predecessor

	issued, err := func() (PendingOperation, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		l, ok := p.ledgerFor(asset)
		if !ok {
			return PendingOperation{}, &PreconditionError{Op: op, Account: account, Details: asset.Hex(), Err: ErrUnknownAsset}
		}
		if amount == nil || amount.IsZero() {
			return PendingOperation{}, &PreconditionError{Op: op, Account: account, Err: ErrZeroAmount}
		}
		if account == p.account {
			return PendingOperation{}, &PreconditionError{Op: op, Account: account, Err: ErrSelfTransfer}
		}
		if caller.Deposit == nil || caller.Deposit.Lt(p.transferDeposit) {
			attached := u128.Copy(caller.Deposit)
			return PendingOperation{}, &PreconditionError{
				Op:      op,
				Account: account,
				Details: fmt.Sprintf("attached %s, required %s", attached.Dec(), p.transferDeposit.Dec()),
				Err:     ErrDepositRequired,
			}
		}
		avail, err := p.available(l, account)
		if err != nil {
			return PendingOperation{}, &ArithmeticError{Op: op, Err: err}
		}
		if avail.Lt(amount) {
			return PendingOperation{}, &PreconditionError{
				Op:      op,
				Account: account,
				Details: fmt.Sprintf("available %s, requested %s", avail.Dec(), amount.Dec()),
				Err:     ErrInsufficientBalance,
			}
		}
		return p.begin(OpWithdraw, asset, account, amount)
	}()
	if err != nil {
		p.outcome(op, err)
		return nil, err
	}

	handle := newPendingWithdrawal(issued)
	p.metrics.OperationsTotal.WithLabelValues(op, "issued").Inc()
	p.logger.Debug("Withdrawal issued", "system", p.systemName, "request", issued.RequestID, "account", account.Hex(), "asset", asset.Hex(), "amount", amount.Dec())

	p.service.Transfer(ctx, TransferRequest{
		Asset:    asset,
		From:     p.account,
		Receiver: account,
		Amount:   u128.Copy(amount),
		Deposit:  u128.Copy(p.transferDeposit),
		Memo:     fmt.Sprintf("withdraw request %d", issued.RequestID),
	}, func(res Result[struct{}]) {
		p.completeWithdraw(issued, handle, res)
	})
	return handle, nil
}

// completeWithdraw applies the response of a withdrawal transfer. The
// balance is re-checked here because other operations ran while the
// transfer was in flight.
func (p *Pool) completeWithdraw(issued PendingOperation, handle *PendingWithdrawal, res Result[struct{}]) {
	const op = "withdraw"

	var result error
	settleErr := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()

		pendingOp, err := p.settle(issued)
		if err != nil {
			return err
		}

		switch {
		case res.Err != nil:
			result = &ExternalCallError{Op: op, RequestID: pendingOp.RequestID, Asset: pendingOp.Asset, Err: res.Err}
		default:
			l, _ := p.ledgerFor(pendingOp.Asset)
			if balance := l.BalanceOf(pendingOp.Account); balance.Lt(pendingOp.Amount) {
				result = &PreconditionError{
					Op:      op,
					Account: pendingOp.Account,
					Details: fmt.Sprintf("request %d confirmed externally but balance is %s, need %s", pendingOp.RequestID, balance.Dec(), pendingOp.Amount.Dec()),
					Err:     ErrInsufficientBalance,
				}
			} else if err := l.Withdraw(pendingOp.Account, pendingOp.Amount); err != nil {
				result = &ArithmeticError{Op: op, Err: err}
			} else {
				p.updateGauges()
			}
		}
		p.recordReceipt(pendingOp, result)
		return nil
	}()
	if settleErr != nil {
		p.errorHandler(settleErr)
		return
	}

	p.outcome(op, result)
	if result != nil {
		p.errorHandler(result)
		handle.resolve(result)
		return
	}

	p.logger.Info("Withdrawal settled", "system", p.systemName, "request", issued.RequestID, "account", issued.Account.Hex(), "asset", issued.Asset.Hex(), "amount", issued.Amount.Dec())
	p.publish(events.Event{
		Kind:     events.KindWithdraw,
		Account:  issued.Account,
		AssetIn:  issued.Asset,
		AmountIn: u128.Copy(issued.Amount),
	})
	handle.resolve(nil)
}
