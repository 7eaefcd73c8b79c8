package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/events"
	"github.com/Iwinswap/iwinswap-amm-pool/fungible"
	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/Iwinswap/iwinswap-amm-pool/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const demoSupply = 1_000_000_000

func newDemoCommand(opts *rootOptions) *cobra.Command {
	var (
		trader string
		only   []string
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted session against simulated tokens",
		Long: `demo mints two simulated tokens to the pool owner, seeds the pool with
30 A and 6 B, lets a trader swap 1 B for A, withdraws the proceeds and tops
the pool up again. Rejected steps are part of the script. When store.dir is
set the final state is saved as store.snapshot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(trader) {
				return fmt.Errorf("--trader: invalid address %q", trader)
			}
			kinds := events.Kinds
			if len(only) > 0 {
				kinds = kinds[:0:0]
				for _, name := range only {
					k, err := events.ParseKind(name)
					if err != nil {
						return fmt.Errorf("--event: %w", err)
					}
					kinds = append(kinds, k)
				}
			}
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			d, err := newDemo(cmd.Context(), cfg.SystemName, logger, common.HexToAddress(trader), func(svc amm.AssetService, reg prometheus.Registerer, errorHandler amm.ErrorHandlerFunc) (*amm.Config, error) {
				return cfg.AMMConfig(svc, reg, errorHandler, logger)
			})
			if err != nil {
				return err
			}
			if err := d.run(cmd.Context()); err != nil {
				return err
			}
			d.report(cmd.OutOrStdout(), kinds)

			if cfg.Store.Dir == "" {
				return nil
			}
			s, err := store.Open(cfg.Store.Dir)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Save(cmd.Context(), cfg.Store.Snapshot, d.pool.Snapshot()); err != nil {
				return err
			}
			logger.Info("Snapshot saved", "dir", cfg.Store.Dir, "name", cfg.Store.Snapshot)
			return nil
		},
	}

	cmd.Flags().StringVar(&trader, "trader", "0x00000000000000000000000000000000000a11ce", "account that swaps and withdraws")
	cmd.Flags().StringSliceVar(&only, "event", nil, "event kinds to report (deposit, liquidity_added, swap, withdraw)")
	return cmd
}

type demo struct {
	svc    *fungible.Service
	pool   *amm.Pool
	owner  common.Address
	trader common.Address
	logger *slog.Logger
	events chan events.Event
}

type poolConfigFunc func(svc amm.AssetService, reg prometheus.Registerer, errorHandler amm.ErrorHandlerFunc) (*amm.Config, error)

func newDemo(ctx context.Context, systemName string, logger *slog.Logger, trader common.Address, poolConfig poolConfigFunc) (*demo, error) {
	svc := fungible.New()
	poolCfg, err := poolConfig(svc, prometheus.NewRegistry(), func(err error) {
		logger.Debug("Pool reported error", "system", systemName, "error", err)
	})
	if err != nil {
		return nil, err
	}
	if trader == poolCfg.Owner || trader == poolCfg.Account {
		return nil, errors.New("trader must differ from the pool owner and account")
	}

	for _, tok := range []struct {
		id   common.Address
		meta metadata.Metadata
	}{
		{poolCfg.AssetA, metadata.Metadata{Spec: metadata.SpecVersion, Name: "Token A", Symbol: "A$", Decimals: 10}},
		{poolCfg.AssetB, metadata.Metadata{Spec: metadata.SpecVersion, Name: "Token B", Symbol: "B$", Decimals: 10}},
	} {
		if err := svc.CreateToken(tok.id, tok.meta, poolCfg.Owner, uint256.NewInt(demoSupply)); err != nil {
			return nil, err
		}
	}

	pool, err := amm.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	svc.BindReceiver(poolCfg.Account, pool)

	d := &demo{
		svc:    svc,
		pool:   pool,
		owner:  poolCfg.Owner,
		trader: trader,
		logger: logger,
		events: make(chan events.Event, 64),
	}
	return d, nil
}

// step logs a scripted action. Steps marked rejected must fail.
func (d *demo) step(name string, rejected bool, err error) error {
	switch {
	case rejected && err == nil:
		return fmt.Errorf("%s: expected rejection, got success", name)
	case rejected:
		d.logger.Info("Step rejected as expected", "step", name, "reason", err)
		return nil
	case err != nil:
		return fmt.Errorf("%s: %w", name, err)
	default:
		d.logger.Info("Step done", "step", name)
		return nil
	}
}

func (d *demo) deposit(from, asset common.Address, amount uint64) error {
	_, err := d.svc.TransferCall(asset, from, d.pool.Account(), uint256.NewInt(amount), uint256.NewInt(1), "")
	return err
}

func (d *demo) run(ctx context.Context) error {
	sub := d.pool.SubscribeEvents(d.events)
	defer sub.Unsubscribe()

	a, b := d.pool.AssetA(), d.pool.AssetB()
	owner := amm.Direct(d.owner)
	trader := amm.Caller{Predecessor: d.trader, Signer: d.trader, Deposit: uint256.NewInt(1)}

	for _, asset := range []common.Address{a, b} {
		if err := d.svc.StorageDeposit(asset, d.trader); err != nil {
			return err
		}
	}
	if err := d.svc.TransferDirect(b, d.owner, d.trader, uint256.NewInt(10), uint256.NewInt(1)); err != nil {
		return err
	}

	steps := []struct {
		name     string
		rejected bool
		run      func() error
	}{
		{"add liquidity without deposits", true, func() error {
			return d.pool.AddLiquidity(owner, a, uint256.NewInt(30), b, uint256.NewInt(6))
		}},
		{"owner deposits 30 A", false, func() error { return d.deposit(d.owner, a, 30) }},
		{"owner deposits 6 B", false, func() error { return d.deposit(d.owner, b, 6) }},
		{"add liquidity 30 A / 6 B", false, func() error {
			return d.pool.AddLiquidity(owner, a, uint256.NewInt(30), b, uint256.NewInt(6))
		}},
		{"trader deposits 1 B", false, func() error { return d.deposit(d.trader, b, 1) }},
		{"swap more than deposited", true, func() error {
			_, err := d.pool.Swap(trader, b, a, uint256.NewInt(2))
			return err
		}},
		{"swap 1 B for A", false, func() error {
			_, err := d.pool.Swap(trader, b, a, uint256.NewInt(1))
			return err
		}},
		{"trader withdraws 5 A", false, func() error {
			handle, err := d.pool.WithdrawAsset(ctx, trader, a, uint256.NewInt(5))
			if err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return handle.Wait(waitCtx)
		}},
		{"owner deposits 10 A", false, func() error { return d.deposit(d.owner, a, 10) }},
		{"owner deposits 10 B", false, func() error { return d.deposit(d.owner, b, 10) }},
		{"add liquidity above the rate", true, func() error {
			return d.pool.AddLiquidity(owner, a, uint256.NewInt(1), b, uint256.NewInt(4))
		}},
		{"add liquidity 1 A / 3 B", false, func() error {
			return d.pool.AddLiquidity(owner, a, uint256.NewInt(1), b, uint256.NewInt(3))
		}},
		{"add liquidity from the trader", true, func() error {
			return d.pool.AddLiquidity(trader, a, uint256.NewInt(1), b, uint256.NewInt(1))
		}},
		{"add liquidity with swapped assets", true, func() error {
			return d.pool.AddLiquidity(owner, b, uint256.NewInt(1), a, uint256.NewInt(1))
		}},
	}
	for _, s := range steps {
		if err := d.step(s.name, s.rejected, s.run()); err != nil {
			return err
		}
	}
	return nil
}

// report writes reserves, participant balances and the events of the
// selected kinds.
func (d *demo) report(w io.Writer, kinds []events.Kind) {
	fmt.Fprintln(w, "reserves:")
	for _, asset := range []common.Address{d.pool.AssetA(), d.pool.AssetB()} {
		meta, err := d.pool.Metadata(asset)
		if err != nil {
			fmt.Fprintf(w, "  %s: metadata unavailable: %v\n", asset.Hex(), err)
			continue
		}
		reserve, _ := d.pool.Reserve(asset)
		fmt.Fprintf(w, "  %-3s %s (%s)\n", meta.Symbol, reserve.Dec(), meta.FormatAmount(reserve))
	}

	fmt.Fprintln(w, "internal balances:")
	for _, account := range []common.Address{d.owner, d.trader} {
		balA, _ := d.pool.BalanceOf(d.pool.AssetA(), account)
		balB, _ := d.pool.BalanceOf(d.pool.AssetB(), account)
		fmt.Fprintf(w, "  %s A=%s B=%s\n", account.Hex(), balA.Dec(), balB.Dec())
	}

	// Events are reported from their log encoding, grouped by kind.
	var logs []types.Log
drain:
	for {
		select {
		case ev := <-d.events:
			logs = append(logs, ev.ToLog(d.pool.Account()))
		default:
			break drain
		}
	}
	bloom := events.Bloom(logs)

	fmt.Fprintf(w, "events: %d logs, bloom %x\n", len(logs), crypto.Keccak256(bloom.Bytes())[:8])
	for _, kind := range kinds {
		topic := events.Event{Kind: kind}.Topic()
		if !events.InBloom(bloom, topic) {
			continue
		}
		for _, log := range events.Filter(logs, topic) {
			ev, err := events.FromLog(log)
			if err != nil {
				fmt.Fprintf(w, "  undecodable log: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "  %-16s %s in=%s out=%s\n", ev.Kind, ev.Account.Hex(), amountString(ev.AmountIn), amountString(ev.AmountOut))
		}
	}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "-"
	}
	return v.Dec()
}
