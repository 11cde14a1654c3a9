package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bank-ledger/bank_ledger/internal/config"
	"github.com/bank-ledger/bank_ledger/internal/infra"
	"github.com/bank-ledger/bank_ledger/internal/logging"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [command] [args]")
		fmt.Fprintln(os.Stderr, "commands: up, down, status, redo, version")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	command := args[0]
	logger.Info("running migration", "command", command)
	if err := infra.RunMigrations(ctx, cfg.DatabaseURL, command, args[1:]...); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration finished", "command", command)
}
