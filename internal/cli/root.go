// Package cli holds the ammd command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Iwinswap/iwinswap-amm-pool/config"
	"github.com/spf13/cobra"
)

// rootOptions are the global flags shared by every subcommand.
type rootOptions struct {
	configFile string
	debug      bool
}

// NewRootCommand builds the ammd command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "ammd",
		Short: "ammd - two-asset constant-product pool engine",
		Long: `ammd runs a two-asset constant-product pool on top of an external
fungible-token service. Deposits arrive through transfer-and-call, swaps and
liquidity top-ups settle on internal ledgers, and withdrawals are debited
only after the external transfer is confirmed.`,
		Version:       "0.1.0-dev",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "conf", "", "configuration file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newDemoCommand(opts),
		newQuoteCommand(),
		newInspectCommand(opts),
		newTokenCommand(opts),
		newReconcileCommand(opts),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load reads the configuration and builds the logger it asks for.
func (o *rootOptions) load(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	if o.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}
