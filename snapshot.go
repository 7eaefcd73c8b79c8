package amm

import (
	"context"
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/ledger"
	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is a point-in-time copy of the pool's durable state. Calls in
// flight when it was taken are not part of it; their ledger effects had not
// been applied yet.
type Snapshot struct {
	Owner         common.Address
	Account       common.Address
	AssetA        common.Address
	AssetB        common.Address
	BalancesA     []ledger.Entry
	BalancesB     []ledger.Entry
	Metadata      map[common.Address]metadata.Metadata
	NextRequestID uint64
}

// Snapshot copies the current ledgers and metadata.
func (p *Pool) Snapshot() *Snapshot {
	var inFlight int
	snap := func() *Snapshot {
		p.mu.Lock()
		defer p.mu.Unlock()
		inFlight = countPending(OpWithdraw, p.pending)
		return &Snapshot{
			Owner:         p.owner,
			Account:       p.account,
			AssetA:        p.ledgers[0].Asset(),
			AssetB:        p.ledgers[1].Asset(),
			BalancesA:     p.ledgers[0].Entries(),
			BalancesB:     p.ledgers[1].Entries(),
			Metadata:      p.metadata.Entries(),
			NextRequestID: p.nextRequestID,
		}
	}()
	if inFlight > 0 {
		p.logger.Warn("Snapshot taken with withdrawals in flight", "system", p.systemName, "withdrawals", inFlight)
	}
	return snap
}

// Restore rebuilds a pool from snap and starts it like NewPool. Metadata
// is only requested for assets the snapshot has none for. The snapshot must
// describe the same owner, account and assets as cfg.
func Restore(ctx context.Context, cfg *Config, snap *Snapshot) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid amm pool configuration: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("restore: snapshot is nil")
	}
	if snap.Owner != cfg.Owner || snap.Account != cfg.Account {
		return nil, fmt.Errorf("restore: snapshot belongs to owner %s account %s", snap.Owner.Hex(), snap.Account.Hex())
	}
	if snap.AssetA != cfg.AssetA || snap.AssetB != cfg.AssetB {
		return nil, fmt.Errorf("restore: %w: snapshot holds (%s, %s)", ErrAssetMismatch, snap.AssetA.Hex(), snap.AssetB.Hex())
	}

	ledgerA, err := ledger.Restore(snap.AssetA, snap.BalancesA)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	ledgerB, err := ledger.Restore(snap.AssetB, snap.BalancesB)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	cache := metadata.NewCache()
	for asset, m := range snap.Metadata {
		if asset != snap.AssetA && asset != snap.AssetB {
			return nil, fmt.Errorf("restore: metadata for %w %s", ErrUnknownAsset, asset.Hex())
		}
		if err := cache.Set(asset, m); err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
	}

	pool, err := newPool(cfg, ledgerA, ledgerB, cache)
	if err != nil {
		return nil, err
	}
	pool.nextRequestID = snap.NextRequestID
	pool.start(ctx)
	return pool, nil
}
