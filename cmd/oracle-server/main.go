package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"markethours/internal/api"
	"markethours/internal/config"
	"markethours/internal/engine"
	"markethours/internal/metrics"
	"markethours/internal/oracle"
	"markethours/internal/pda"
	"markethours/internal/reference"
	"markethours/internal/store"
	"markethours/internal/util"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating ledger dir: %v", err)
	}
	ledger, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer ledger.Close()

	var clock engine.Clock = engine.SystemClock{}
	if cfg.Program.ClockSource == "alpaca" {
		clock = reference.Clock{Source: reference.NewAlpacaClock(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)}
	}

	programID, err := pda.ParseAddress(cfg.Program.ProgramID)
	if err != nil {
		log.Fatalf("program id: %v", err)
	}
	e := engine.NewEngine(programID, ledger, clock, logger)

	hub := api.NewHub()
	collector := metrics.NewCollector()
	e.Observe(hub)
	e.Observe(collector)

	svc, err := oracle.NewService(e, logger)
	if err != nil {
		log.Fatalf("initializing oracle: %v", err)
	}
	vault := svc.Addresses().RewardVault
	collector.RegisterVaultBalance(func() float64 {
		bal, err := svc.Balance(context.Background(), vault)
		if err != nil {
			return 0
		}
		return float64(bal)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("oracle-server starting",
		"http", cfg.HTTPAddr(),
		"grpc", cfg.GRPCAddr(),
		"program_id", programID.String(),
		"oracle", svc.Addresses().Oracle.String(),
		"reward_vault", vault.String(),
		"clock", cfg.Program.ClockSource,
	)
	srv := api.NewServer(cfg, svc, hub, collector, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("oracle-server stopped")
}
