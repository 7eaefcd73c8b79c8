package cli

import (
	"errors"
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/erc20"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

const maxConcurrentTokenCalls = 4

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var holder string

	cmd := &cobra.Command{
		Use:   "token <address>...",
		Short: "Read ERC-20 metadata and balances over JSON-RPC",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens := make([]common.Address, len(args))
			for i, arg := range args {
				if !common.IsHexAddress(arg) {
					return fmt.Errorf("invalid token address %q", arg)
				}
				tokens[i] = common.HexToAddress(arg)
			}
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Ethereum.RPCURL == "" {
				return errors.New("ethereum.rpc_url is not configured")
			}
			account := common.HexToAddress(cfg.Pool.Account)
			if holder != "" {
				if !common.IsHexAddress(holder) {
					return fmt.Errorf("--holder: invalid address %q", holder)
				}
				account = common.HexToAddress(holder)
			}

			client, err := ethclient.DialContext(cmd.Context(), cfg.Ethereum.RPCURL)
			if err != nil {
				return fmt.Errorf("dial %s: %w", cfg.Ethereum.RPCURL, err)
			}
			defer client.Close()

			getBalances := erc20.NewBalances(maxConcurrentTokenCalls, cfg.Ethereum.Timeout)
			balances, errs := getBalances(cmd.Context(), client, tokens, account)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "holder: %s\n", account.Hex())
			for i, token := range tokens {
				meta, err := erc20.FetchMetadata(cmd.Context(), client, cfg.Ethereum.Timeout, token)
				if err != nil {
					logger.Warn("Token metadata unavailable", "token", token.Hex(), "error", err)
					fmt.Fprintf(out, "%s  metadata error: %v\n", token.Hex(), err)
					continue
				}
				if errs[i] != nil {
					fmt.Fprintf(out, "%s  %s (%s, %d decimals)  balance error: %v\n", token.Hex(), meta.Symbol, meta.Name, meta.Decimals, errs[i])
					continue
				}
				fmt.Fprintf(out, "%s  %s (%s, %d decimals)  %s\n", token.Hex(), meta.Symbol, meta.Name, meta.Decimals, meta.FormatAmount(balances[i]))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&holder, "holder", "", "account whose balances are read (defaults to pool.account)")
	return cmd
}
