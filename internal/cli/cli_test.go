package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markethours/internal/api"
	"markethours/internal/config"
	"markethours/internal/domain"
	"markethours/internal/engine"
	"markethours/internal/metrics"
	"markethours/internal/oracle"
	"markethours/internal/pda"
	"markethours/internal/program"
	"markethours/internal/reference"
	"markethours/internal/store"
	"markethours/internal/util"
)

const alice = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

var mondayOpen = time.Date(2024, 1, 1, 14, 35, 0, 0, time.UTC)

func newService(t *testing.T, cfg *config.Config, now time.Time) (*oracle.Service, *api.Hub, *metrics.Collector, func()) {
	t.Helper()
	ledger, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	require.NoError(t, err)

	e := engine.NewEngine(pda.MustParseAddress(cfg.Program.ProgramID), ledger, engine.NewManualClock(now.Unix()), util.Discard())
	hub := api.NewHub()
	collector := metrics.NewCollector()
	e.Observe(hub)
	e.Observe(collector)
	svc, err := oracle.NewService(e, util.Discard())
	require.NoError(t, err)
	return svc, hub, collector, func() { ledger.Close() }
}

// startServer runs a full oracle server on loopback listeners and points the
// returned config at it.
func startServer(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(dir, "archive")
	cfg.Storage.SQLitePath = filepath.Join(dir, "ledger.db")
	cfg.Server.AllowAirdrop = true
	cfg.Server.AirdropPerMinute = 0
	cfg.Cranker.Identity = alice
	cfg.Cranker.Timeout = 5 * time.Second

	svc, hub, collector, closeLedger := newService(t, cfg, mondayOpen)
	srv := api.NewServer(cfg, svc, hub, collector, util.Discard())

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Cranker.Target = grpcLn.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, httpLn, grpcLn) }()
	t.Cleanup(func() {
		cancel()
		<-done
		closeLedger()
	})
	return cfg
}

func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(cfg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(config.Default())
	for _, name := range []string{"create", "crank", "status", "clock", "fund", "balance", "bootstrap", "receipts", "watch", "archive", "calendar"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Cranker.Identity = alice
	cmd := NewRootCommand(cfg)

	target := cmd.PersistentFlags().Lookup("target")
	require.NotNil(t, target)
	assert.Equal(t, "127.0.0.1:9090", target.DefValue)

	identity := cmd.PersistentFlags().Lookup("identity")
	require.NotNil(t, identity)
	assert.Equal(t, alice, identity.DefValue)

	_, err := run(t, cfg, "status", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestCrankRequiresIdentity(t *testing.T) {
	_, err := run(t, config.Default(), "crank")
	assert.ErrorContains(t, err, "--identity is required")

	_, err = run(t, config.Default(), "crank", "--identity", "0OIl")
	assert.ErrorContains(t, err, "--identity")
}

func TestFundRejectsBadAmount(t *testing.T) {
	_, err := run(t, config.Default(), "fund", "lots")
	assert.ErrorContains(t, err, "invalid lamports")
	_, err = run(t, config.Default(), "fund", "0")
	assert.ErrorContains(t, err, "invalid lamports")
}

func TestBootstrapAgainstServer(t *testing.T) {
	cfg := startServer(t)

	_, err := run(t, cfg, "fund", "1000000000", "--to", alice)
	require.NoError(t, err)
	out, err := run(t, cfg, "fund", "30000000")
	require.NoError(t, err)
	assert.Contains(t, out, "airdrop")

	out, err = run(t, cfg, "bootstrap")
	require.NoError(t, err)
	assert.Contains(t, out, "reward vault")
	assert.Contains(t, out, "create_oracle")
	assert.Contains(t, out, "crank_oracle")
	assert.Contains(t, out, "reward:    10000000 lamports")

	out, err = run(t, cfg, "status", "--format", "json")
	require.NoError(t, err)
	var st oracle.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.True(t, st.Initialized)
	assert.Equal(t, domain.Approved, st.Record.Transfer)
	assert.Equal(t, 30_000_000-program.RewardLamports, st.VaultBalance)

	// A second bootstrap skips create and cranks again.
	out, err = run(t, cfg, "bootstrap", "--format", "json")
	require.NoError(t, err)
	assert.NotContains(t, out, "create_oracle")

	out, err = run(t, cfg, "balance", st.RewardVault.String(), "--format", "json")
	require.NoError(t, err)
	var bal struct {
		Lamports uint64 `json:"lamports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	assert.Equal(t, 30_000_000-2*program.RewardLamports, bal.Lamports)

	out, err = run(t, cfg, "clock")
	require.NoError(t, err)
	assert.Contains(t, out, "open:        true")

	out, err = run(t, cfg, "receipts", "--format", "json")
	require.NoError(t, err)
	var rs []domain.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &rs))
	assert.Len(t, rs, 5)
}

func TestCreateTwiceFails(t *testing.T) {
	cfg := startServer(t)
	_, err := run(t, cfg, "fund", "1000000000", "--to", alice)
	require.NoError(t, err)
	_, err = run(t, cfg, "create")
	require.NoError(t, err)
	_, err = run(t, cfg, "create")
	assert.Error(t, err)
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(dir, "ledger.db")
	cfg.Storage.DataDir = filepath.Join(dir, "archive")

	svc, _, _, closeLedger := newService(t, cfg, mondayOpen)
	_, err := svc.Airdrop(context.Background(), pda.MustParseAddress(alice), 5)
	require.NoError(t, err)
	_, err = svc.FundVault(context.Background(), 7)
	require.NoError(t, err)
	closeLedger()

	out, err := run(t, cfg, "archive", "--format", "json")
	require.NoError(t, err)
	var res struct {
		Archived int `json:"archived"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Archived)

	archived, err := store.NewParquetStore(cfg.Storage.DataDir).ReadReceipts(context.Background(),
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	_, err = run(t, cfg, "archive", "--ledger", filepath.Join(dir, "missing.db"))
	assert.ErrorContains(t, err, "opening ledger")

	_, err = run(t, cfg, "archive", "--start", "2024-02-01", "--end", "2024-01-01")
	assert.ErrorContains(t, err, "not before")
}

func TestCalendarRejectsBadDays(t *testing.T) {
	_, err := run(t, config.Default(), "calendar", "--days", "0")
	assert.ErrorContains(t, err, "--days")
}

type fakeCalendar struct {
	sessions []reference.Session
}

func (f fakeCalendar) Sessions(context.Context, time.Time, time.Time) ([]reference.Session, error) {
	return f.sessions, nil
}

func TestCalendar(t *testing.T) {
	holidayWeek := fakeCalendar{sessions: []reference.Session{
		{Date: "2024-12-23", Open: time.Date(2024, 12, 23, 14, 30, 0, 0, time.UTC), Close: time.Date(2024, 12, 23, 21, 0, 0, 0, time.UTC)},
		{Date: "2024-12-24", Open: time.Date(2024, 12, 24, 14, 30, 0, 0, time.UTC), Close: time.Date(2024, 12, 24, 18, 0, 0, 0, time.UTC)},
	}}

	cmd := newRootCommand(&RootOptions{cfg: config.Default(), calendar: holidayWeek})
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"calendar", "--start", "2024-12-23", "--days", "3", "--format", "json"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var diffs []reference.DayDiff
	require.NoError(t, json.Unmarshal(buf.Bytes(), &diffs))
	require.Len(t, diffs, 2)
	assert.Equal(t, "early close", diffs[0].Reason)
	assert.Equal(t, "exchange holiday", diffs[1].Reason)
}
