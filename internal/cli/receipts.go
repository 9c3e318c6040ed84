package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"markethours/internal/api"
	"markethours/internal/domain"
	"markethours/internal/engine"
	"markethours/internal/oracle"
	"markethours/internal/pda"
	"markethours/internal/store"
	"markethours/internal/util"
)

// RangeOptions holds the time window shared by receipts and archive.
type RangeOptions struct {
	*RootOptions
	Start string
	End   string
	Limit int
}

func (o *RangeOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Start, "start", "", "window start, RFC3339 or YYYY-MM-DD (default 24h before end)")
	cmd.Flags().StringVar(&o.End, "end", "", "window end, RFC3339 or YYYY-MM-DD (default now)")
}

func (o *RangeOptions) window(now time.Time) (time.Time, time.Time, error) {
	end := now
	if o.End != "" {
		t, err := parseTime(o.End)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if o.Start != "" {
		t, err := parseTime(o.Start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
		}
		start = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// NewReceiptsCommand creates the receipts command.
func NewReceiptsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RangeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "List recorded calls, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := opts.window(time.Now())
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *api.Client) error {
				rs, err := c.Receipts(ctx, start, end, opts.Limit)
				if err != nil {
					return err
				}
				return opts.output(cmd).receipts(rs)
			})
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum receipts to list")

	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream receipts as the server records them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial()
			if err != nil {
				return err
			}
			defer c.Close()
			out := opts.output(cmd)
			err = c.WatchReceipts(cmd.Context(), func(rc domain.Receipt) error {
				return out.receipt(&rc)
			})
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

// ArchiveOptions holds flags for the archive command.
type ArchiveOptions struct {
	RangeOptions
	Ledger  string
	DataDir string
}

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RangeOptions: RangeOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy receipts from the local ledger into the Parquet archive",
		Long: `Copy receipts from the local SQLite ledger into date-partitioned Parquet
files under the data directory. Reads the ledger directly, so run it on the
server host.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := opts.window(time.Now())
			if err != nil {
				return err
			}
			n, err := archive(cmd.Context(), opts.Ledger, opts.DataDir, opts.cfg.Program.ProgramID, start, end)
			if err != nil {
				return err
			}
			return opts.output(cmd).kv("archived", n, "start", start.UTC().Format(time.RFC3339), "end", end.UTC().Format(time.RFC3339), "data_dir", opts.DataDir)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Ledger, "ledger", rootOpts.cfg.Storage.SQLitePath, "SQLite ledger path")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", rootOpts.cfg.Storage.DataDir, "Parquet archive root")

	return cmd
}

func archive(ctx context.Context, ledgerPath, dataDir, programID string, start, end time.Time) (int, error) {
	if _, err := os.Stat(ledgerPath); err != nil {
		return 0, fmt.Errorf("opening ledger: %w", err)
	}
	ledger, err := store.NewSQLiteStore(ledgerPath)
	if err != nil {
		return 0, err
	}
	defer ledger.Close()

	id, err := pda.ParseAddress(programID)
	if err != nil {
		return 0, fmt.Errorf("program id: %w", err)
	}
	svc, err := oracle.NewService(engine.NewEngine(id, ledger, engine.SystemClock{}, util.Discard()), util.Discard())
	if err != nil {
		return 0, err
	}
	return svc.Archive(ctx, store.NewParquetStore(dataDir), start, end)
}
