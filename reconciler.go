package amm

import (
	"context"
	"time"

	"github.com/Iwinswap/iwinswap-amm-pool/ledger"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// driftConfirmDelay is how long a suspected drift is left to settle before
// the external balance is fetched again. An incoming transfer credits the
// pool account before the pool is notified, so a single read can race it.
var driftConfirmDelay = 100 * time.Millisecond

// startReconciler is a background process that periodically compares the
// internal ledgers with what the pool account actually holds externally.
func (p *Pool) startReconciler(ctx context.Context) {
	if p.resyncFrequency <= 0 {
		return
	}
	ticker := time.NewTicker(p.resyncFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.runReconciliation(ctx)
		case <-ctx.Done():
			p.logger.Info("AMM pool reconciler stopping due to context cancellation.", "system", p.systemName)
			return
		}
	}
}

// Reconcile runs one reconciliation cycle now. Drift and failed balance
// reads are reported through the error handler.
func (p *Pool) Reconcile(ctx context.Context) {
	p.runReconciliation(ctx)
}

// runReconciliation performs a single cycle. For each asset the ledger's
// total supply should equal the external balance of the pool account.
// Assets with withdrawals in flight are skipped, as are assets whose ledger
// changed while the external balance was being fetched. A mismatch is only
// reported when it is still there after driftConfirmDelay.
func (p *Pool) runReconciliation(ctx context.Context) {
	timer := prometheus.NewTimer(p.metrics.ReconciliationDuration.WithLabelValues())
	defer timer.ObserveDuration()

	for _, l := range p.ledgers {
		asset := l.Asset()

		p.mu.Lock()
		busy := hasPendingFor(OpWithdraw, asset, p.pending)
		before := l.TotalSupply()
		p.mu.Unlock()

		if busy {
			p.logger.Debug("Reconciler skipping asset with withdrawals in flight", "system", p.systemName, "asset", asset.Hex())
			continue
		}

		external, err := p.service.BalanceOf(ctx, asset, p.account)
		if err != nil {
			p.errorHandler(&ExternalCallError{Op: "balance_of", Asset: asset, Err: err})
			continue
		}

		p.mu.Lock()
		busy = hasPendingFor(OpWithdraw, asset, p.pending)
		after := l.TotalSupply()
		p.mu.Unlock()

		if busy || !before.Eq(after) || after.Eq(external) {
			continue
		}
		if err := p.confirmDrift(ctx, l, after); err != nil {
			p.errorHandler(err)
		}
	}
}

// confirmDrift waits for in-transit credits to land and checks the asset
// again. It returns a ReconcileError only if the ledger did not move and
// still disagrees with the external balance.
func (p *Pool) confirmDrift(ctx context.Context, l *ledger.AssetLedger, internal *uint256.Int) error {
	asset := l.Asset()
	select {
	case <-time.After(driftConfirmDelay):
	case <-ctx.Done():
		return nil
	}

	external, err := p.service.BalanceOf(ctx, asset, p.account)
	if err != nil {
		return &ExternalCallError{Op: "balance_of", Asset: asset, Err: err}
	}

	p.mu.Lock()
	busy := hasPendingFor(OpWithdraw, asset, p.pending)
	after := l.TotalSupply()
	p.mu.Unlock()

	if busy || !after.Eq(internal) || after.Eq(external) {
		p.logger.Debug("Reconciler drift settled", "system", p.systemName, "asset", asset.Hex())
		return nil
	}
	return &ReconcileError{Asset: asset, Internal: after, External: external}
}
