package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"markethours/internal/api"
	"markethours/internal/pda"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Payer string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the oracle record",
		Long: `Create the oracle record. The identity signs; the payer (the identity by
default) funds rent for the record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := opts.identity()
			if err != nil {
				return err
			}
			var payer pda.Address
			if opts.Payer != "" {
				if payer, err = pda.ParseAddress(opts.Payer); err != nil {
					return fmt.Errorf("--payer: %w", err)
				}
			}
			return opts.withClient(cmd, func(ctx context.Context, c *api.Client) error {
				rc, err := c.CreateOracle(ctx, signer, payer)
				if err != nil {
					return err
				}
				return opts.output(cmd).receipt(rc)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Payer, "payer", "", "rent payer (defaults to the identity)")

	return cmd
}

// NewCrankCommand creates the crank command.
func NewCrankCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "crank",
		Short: "Refresh the oracle record from the market clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := opts.identity()
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *api.Client) error {
				rc, err := c.CrankOracle(ctx, signer)
				if err != nil {
					return err
				}
				return opts.output(cmd).receipt(rc)
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the oracle record, vault balance and clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *api.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				return opts.output(cmd).status(st)
			})
		},
	}
}

// NewClockCommand creates the clock command.
func NewClockCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clock",
		Short: "Show the server's market clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *api.Client) error {
				v, err := c.Clock(ctx)
				if err != nil {
					return err
				}
				return opts.output(cmd).clock(v)
			})
		},
	}
}

// NewBootstrapCommand creates the bootstrap command.
func NewBootstrapCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Print the derived addresses, create the oracle if needed, then crank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := opts.identity()
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *api.Client) error {
				return bootstrap(ctx, cmd, opts, c, signer)
			})
		},
	}
}

func bootstrap(ctx context.Context, cmd *cobra.Command, opts *RootOptions, c *api.Client, signer pda.Address) error {
	out := opts.output(cmd)
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if opts.Format == "text" {
		if err := out.kv("program", st.ProgramID, "oracle", st.Oracle, "reward vault", st.RewardVault); err != nil {
			return err
		}
	}

	if !st.Initialized {
		rc, err := c.CreateOracle(ctx, signer, pda.Address{})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("creating oracle: %w", err)
		}
		if rc != nil {
			if err := out.receipt(rc); err != nil {
				return err
			}
		}
	}

	rc, err := c.CrankOracle(ctx, signer)
	if err != nil {
		return fmt.Errorf("cranking oracle: %w", err)
	}
	return out.receipt(rc)
}
