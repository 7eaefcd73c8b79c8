package cli

import (
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/pricing"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/spf13/cobra"
)

func newQuoteCommand() *cobra.Command {
	var reserveIn, reserveOut, amount string

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a swap against the given reserves",
		Example: `  ammd quote --reserve-in 6 --reserve-out 30 --amount 1
  ammd quote --reserve-in 100 --reserve-out 20 --amount 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := u128.Parse(reserveIn)
			if err != nil {
				return fmt.Errorf("--reserve-in: %w", err)
			}
			dst, err := u128.Parse(reserveOut)
			if err != nil {
				return fmt.Errorf("--reserve-out: %w", err)
			}
			in, err := u128.Parse(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			if src.IsZero() || dst.IsZero() {
				return fmt.Errorf("reserves must be positive")
			}

			q, err := pricing.NewQuote(src, dst, in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "input:    %s\n", q.Input.Dec())
			fmt.Fprintf(out, "output:   %s\n", q.Output.Dec())
			fmt.Fprintf(out, "reserves: (%s, %s) -> (%s, %s)\n",
				q.SrcReserve.Dec(), q.DstReserve.Dec(), q.SrcReserveAfter.Dec(), q.DstReserveAfter.Dec())
			return nil
		},
	}

	cmd.Flags().StringVar(&reserveIn, "reserve-in", "", "reserve of the asset being sold")
	cmd.Flags().StringVar(&reserveOut, "reserve-out", "", "reserve of the asset being bought")
	cmd.Flags().StringVar(&amount, "amount", "", "amount being sold")
	for _, name := range []string{"reserve-in", "reserve-out", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
