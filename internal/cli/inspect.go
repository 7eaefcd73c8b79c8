package cli

import (
	"errors"
	"fmt"
	"io"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/ledger"
	"github.com/Iwinswap/iwinswap-amm-pool/store"
	"github.com/spf13/cobra"
)

func newInspectCommand(opts *rootOptions) *cobra.Command {
	var (
		name string
		list bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a saved pool snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Store.Dir == "" {
				return errors.New("store.dir is not configured")
			}
			s, err := store.Open(cfg.Store.Dir)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if list {
				names, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(out, n)
				}
				return nil
			}

			if name == "" {
				name = cfg.Store.Snapshot
			}
			snap, err := s.Load(cmd.Context(), name)
			if err != nil {
				return err
			}
			printSnapshot(out, name, snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "snapshot to print (defaults to store.snapshot)")
	cmd.Flags().BoolVar(&list, "list", false, "list stored snapshot names")
	return cmd
}

func printSnapshot(w io.Writer, name string, snap *amm.Snapshot) {
	fmt.Fprintf(w, "snapshot %s\n", name)
	fmt.Fprintf(w, "  owner:           %s\n", snap.Owner.Hex())
	fmt.Fprintf(w, "  account:         %s\n", snap.Account.Hex())
	fmt.Fprintf(w, "  next request id: %d\n", snap.NextRequestID)

	for _, side := range []struct {
		label   string
		entries []ledger.Entry
	}{{"A", snap.BalancesA}, {"B", snap.BalancesB}} {
		asset := snap.AssetA
		if side.label == "B" {
			asset = snap.AssetB
		}
		symbol := "?"
		if m, ok := snap.Metadata[asset]; ok {
			symbol = m.Symbol
		}
		fmt.Fprintf(w, "  asset %s %s (%s)\n", side.label, asset.Hex(), symbol)
		for _, e := range side.entries {
			marker := ""
			if e.Account == snap.Account {
				marker = " reserve"
			}
			fmt.Fprintf(w, "    %s %s%s\n", e.Account.Hex(), e.Balance.Dec(), marker)
		}
	}
}
