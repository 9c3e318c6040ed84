package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"markethours/internal/api"
	"markethours/internal/pda"
)

// FundOptions holds flags for the fund command.
type FundOptions struct {
	*RootOptions
	To string
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FundOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fund <lamports>",
		Short: "Airdrop lamports to the reward vault or another address",
		Long: `Airdrop lamports to the reward vault, or to --to. Only works against a
server started with allow_airdrop.

Example:
  oracle-cli fund 100000000
  oracle-cli fund 1000000000 --to 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lamports, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || lamports == 0 {
				return fmt.Errorf("invalid lamports %q", args[0])
			}
			return opts.withClient(cmd, func(ctx context.Context, c *api.Client) error {
				to, err := opts.recipient(ctx, c)
				if err != nil {
					return err
				}
				rc, err := c.Airdrop(ctx, to, lamports)
				if err != nil {
					return err
				}
				return opts.output(cmd).receipt(rc)
			})
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "recipient (defaults to the reward vault)")

	return cmd
}

func (o *FundOptions) recipient(ctx context.Context, c *api.Client) (pda.Address, error) {
	if o.To != "" {
		addr, err := pda.ParseAddress(o.To)
		if err != nil {
			return pda.Address{}, fmt.Errorf("--to: %w", err)
		}
		return addr, nil
	}
	st, err := c.Status(ctx)
	if err != nil {
		return pda.Address{}, err
	}
	return st.RewardVault, nil
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the lamports held at an address (the identity by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				addr pda.Address
				err  error
			)
			if len(args) == 1 {
				addr, err = pda.ParseAddress(args[0])
			} else {
				addr, err = opts.identity()
			}
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *api.Client) error {
				bal, err := c.Balance(ctx, addr)
				if err != nil {
					return err
				}
				return opts.output(cmd).kv("address", addr, "lamports", bal)
			})
		},
	}
}
