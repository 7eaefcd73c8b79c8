package store

import (
	"fmt"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/ledger"
	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
)

// recordVersion is bumped whenever snapshotRecord changes incompatibly.
const recordVersion = 1

// balanceRecord is one ledger entry. Amounts are kept as decimal strings so
// the encoding does not depend on the in-memory integer representation.
type balanceRecord struct {
	Account string `codec:"account"`
	Balance string `codec:"balance"`
}

type snapshotRecord struct {
	Version       int                          `codec:"version"`
	Owner         string                       `codec:"owner"`
	Account       string                       `codec:"account"`
	AssetA        string                       `codec:"asset_a"`
	AssetB        string                       `codec:"asset_b"`
	BalancesA     []balanceRecord              `codec:"balances_a"`
	BalancesB     []balanceRecord              `codec:"balances_b"`
	Metadata      map[string]metadata.Metadata `codec:"metadata"`
	NextRequestID uint64                       `codec:"next_request_id"`
}

func toBalanceRecords(entries []ledger.Entry) []balanceRecord {
	out := make([]balanceRecord, len(entries))
	for i, e := range entries {
		out[i] = balanceRecord{Account: e.Account.Hex(), Balance: e.Balance.Dec()}
	}
	return out
}

func fromBalanceRecords(records []balanceRecord) ([]ledger.Entry, error) {
	out := make([]ledger.Entry, len(records))
	for i, r := range records {
		if !common.IsHexAddress(r.Account) {
			return nil, fmt.Errorf("invalid account %q", r.Account)
		}
		balance, err := u128.Parse(r.Balance)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", r.Account, err)
		}
		out[i] = ledger.Entry{Account: common.HexToAddress(r.Account), Balance: balance}
	}
	return out, nil
}

func toRecord(snap *amm.Snapshot) *snapshotRecord {
	meta := make(map[string]metadata.Metadata, len(snap.Metadata))
	for asset, m := range snap.Metadata {
		meta[asset.Hex()] = m
	}
	return &snapshotRecord{
		Version:       recordVersion,
		Owner:         snap.Owner.Hex(),
		Account:       snap.Account.Hex(),
		AssetA:        snap.AssetA.Hex(),
		AssetB:        snap.AssetB.Hex(),
		BalancesA:     toBalanceRecords(snap.BalancesA),
		BalancesB:     toBalanceRecords(snap.BalancesB),
		Metadata:      meta,
		NextRequestID: snap.NextRequestID,
	}
}

func fromRecord(rec *snapshotRecord) (*amm.Snapshot, error) {
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", rec.Version)
	}
	for _, addr := range []string{rec.Owner, rec.Account, rec.AssetA, rec.AssetB} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid address %q", addr)
		}
	}
	balancesA, err := fromBalanceRecords(rec.BalancesA)
	if err != nil {
		return nil, fmt.Errorf("asset A: %w", err)
	}
	balancesB, err := fromBalanceRecords(rec.BalancesB)
	if err != nil {
		return nil, fmt.Errorf("asset B: %w", err)
	}
	meta := make(map[common.Address]metadata.Metadata, len(rec.Metadata))
	for asset, m := range rec.Metadata {
		if !common.IsHexAddress(asset) {
			return nil, fmt.Errorf("invalid metadata asset %q", asset)
		}
		meta[common.HexToAddress(asset)] = m
	}
	return &amm.Snapshot{
		Owner:         common.HexToAddress(rec.Owner),
		Account:       common.HexToAddress(rec.Account),
		AssetA:        common.HexToAddress(rec.AssetA),
		AssetB:        common.HexToAddress(rec.AssetB),
		BalancesA:     balancesA,
		BalancesB:     balancesB,
		Metadata:      meta,
		NextRequestID: rec.NextRequestID,
	}, nil
}
