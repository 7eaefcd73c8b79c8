package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/erc20"
	"github.com/Iwinswap/iwinswap-amm-pool/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// errReadOnly rejects transfers from sessions that only read chain state.
var errReadOnly = errors.New("read-only session: transfers are disabled")

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var fromStore bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare pool ledgers with on-chain ERC-20 balances",
		Long: `reconcile attaches a read-only pool to the ERC-20 tokens named by
pool.asset_a and pool.asset_b and runs one reconciliation cycle. With
--from-store the ledgers are restored from store.snapshot first; otherwise
they are empty and any token the pool account holds shows up as drift.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Ethereum.RPCURL == "" {
				return errors.New("ethereum.rpc_url is not configured")
			}

			var snap *amm.Snapshot
			if fromStore {
				if cfg.Store.Dir == "" {
					return errors.New("store.dir is not configured")
				}
				s, err := store.Open(cfg.Store.Dir)
				if err != nil {
					return err
				}
				snap, err = s.Load(cmd.Context(), cfg.Store.Snapshot)
				s.Close()
				if err != nil {
					return err
				}
			}

			client, err := ethclient.DialContext(cmd.Context(), cfg.Ethereum.RPCURL)
			if err != nil {
				return fmt.Errorf("dial %s: %w", cfg.Ethereum.RPCURL, err)
			}
			defer client.Close()

			svc, err := erc20.NewService(&erc20.Config{
				Client: client,
				Submit: func(context.Context, common.Address, common.Address, []byte) error {
					return errReadOnly
				},
				Timeout: cfg.Ethereum.Timeout,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			var (
				mu       sync.Mutex
				reported []error
			)
			poolCfg, err := cfg.AMMConfig(svc, prometheus.NewRegistry(), func(err error) {
				mu.Lock()
				reported = append(reported, err)
				mu.Unlock()
			}, logger)
			if err != nil {
				return err
			}
			poolCfg.ResyncFrequency = 0

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			pool, err := attachPool(ctx, poolCfg, snap)
			if err != nil {
				return err
			}
			pool.Reconcile(ctx)

			assets := []common.Address{pool.AssetA(), pool.AssetB()}
			totals := make([]*uint256.Int, len(assets))
			for i, asset := range assets {
				if totals[i], err = pool.TotalSupply(asset); err != nil {
					return err
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if drifted := printReconcileReport(cmd.OutOrStdout(), assets, totals, reported); drifted > 0 {
				return fmt.Errorf("%d asset(s) drifted", drifted)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStore, "from-store", false, "restore the ledgers from store.snapshot before checking")
	return cmd
}

func attachPool(ctx context.Context, cfg *amm.Config, snap *amm.Snapshot) (*amm.Pool, error) {
	if snap == nil {
		return amm.NewPool(ctx, cfg)
	}
	return amm.Restore(ctx, cfg, snap)
}

// printReconcileReport writes one line per asset and returns how many
// drifted. Errors that are not about a balance read are listed after.
func printReconcileReport(w io.Writer, assets []common.Address, totals []*uint256.Int, reported []error) int {
	status := make(map[common.Address]string, len(assets))
	var drifted int
	var other []error
	for _, err := range reported {
		var reconcileErr *amm.ReconcileError
		var callErr *amm.ExternalCallError
		switch {
		case errors.As(err, &reconcileErr):
			status[reconcileErr.Asset] = fmt.Sprintf("drift (on-chain %s)", reconcileErr.External.Dec())
			drifted++
		case errors.As(err, &callErr) && callErr.Op == "balance_of":
			status[callErr.Asset] = fmt.Sprintf("unavailable: %v", callErr.Err)
		default:
			other = append(other, err)
		}
	}

	for i, asset := range assets {
		s, ok := status[asset]
		if !ok {
			s = "in sync"
		}
		fmt.Fprintf(w, "%s  ledger %s  %s\n", asset.Hex(), totals[i].Dec(), s)
	}
	for _, err := range other {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return drifted
}
