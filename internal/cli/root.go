// Package cli implements the oracle-cli commands.
package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"markethours/internal/api"
	"markethours/internal/config"
	"markethours/internal/pda"
	"markethours/internal/reference"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Target   string
	Identity string
	Format   string // "json" | "text"
	Timeout  time.Duration

	cfg      *config.Config
	dialOpts []grpc.DialOption
	calendar reference.CalendarSource
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. cfg supplies flag defaults and the
// local storage paths used by archive.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	return newRootCommand(&RootOptions{cfg: cfg})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cfg := opts.cfg

	cmd := &cobra.Command{
		Use:   "oracle-cli",
		Short: "Operate the market-hours oracle",
		Long:  "Create, crank and inspect the market-hours oracle over its gRPC API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Target, "target", cfg.Cranker.Target, "oracle server gRPC address")
	cmd.PersistentFlags().StringVar(&opts.Identity, "identity", cfg.Cranker.Identity, "signer address")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", cfg.Cranker.Timeout, "per-request timeout")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewCrankCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewClockCommand(opts))
	cmd.AddCommand(NewFundCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewBootstrapCommand(opts))
	cmd.AddCommand(NewReceiptsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewCalendarCommand(opts))

	return cmd
}

func (o *RootOptions) dial() (*api.Client, error) {
	return api.Dial(o.Target, o.dialOpts...)
}

func (o *RootOptions) identity() (pda.Address, error) {
	if o.Identity == "" {
		return pda.Address{}, fmt.Errorf("--identity is required")
	}
	addr, err := pda.ParseAddress(o.Identity)
	if err != nil {
		return pda.Address{}, fmt.Errorf("--identity: %w", err)
	}
	return addr, nil
}

func (o *RootOptions) context(parent context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.Timeout)
}

func (o *RootOptions) output(cmd *cobra.Command) *output {
	return &output{format: o.Format, w: cmd.OutOrStdout()}
}

// withClient dials the target, runs fn with a request-scoped context and
// closes the connection.
func (o *RootOptions) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *api.Client) error) error {
	c, err := o.dial()
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := o.context(cmd.Context())
	defer cancel()
	return fn(ctx, c)
}
