package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"markethours/internal/cli"
	"markethours/internal/config"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCommand(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
