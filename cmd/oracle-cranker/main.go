package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"markethours/internal/api"
	"markethours/internal/config"
	"markethours/internal/cranker"
	"markethours/internal/pda"
	"markethours/internal/reference"
	"markethours/internal/util"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	identity, err := pda.ParseAddress(cfg.Cranker.Identity)
	if err != nil {
		log.Fatalf("cranker identity: %v", err)
	}

	client, err := api.Dial(cfg.Cranker.Target)
	if err != nil {
		log.Fatalf("dialing oracle server: %v", err)
	}
	defer client.Close()

	var drift cranker.DriftChecker
	if cfg.Cranker.CheckDrift {
		src := reference.NewAlpacaClock(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		drift = reference.NewChecker(src, logger)
	}

	c, err := cranker.New(client, identity, cfg.Cranker, drift, logger)
	if err != nil {
		log.Fatalf("creating cranker: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("oracle-cranker starting", "target", cfg.Cranker.Target, "identity", identity.String())
	if err := c.Run(ctx); err != nil {
		log.Fatalf("cranker error: %v", err)
	}
}
