package main

import (
	"context"
	"errors"
	"os"
	"time"

	"familybudget/internal/cli"
	"familybudget/internal/client"
	"familybudget/internal/console"
	"familybudget/internal/log"
	"familybudget/internal/store"
)

func main() {
	cli.LoadEnvFile()

	// stdout belongs to the console; logs go to stderr and stay quiet by default.
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger := cli.SetupLogger(level, log.ComponentApp, os.Stderr)

	cfg := cli.LoadAndValidateConfig(logger, nil)

	api, err := client.New(cfg.RelayURL, client.WithTimeout(cfg.BackendTimeout+5*time.Second), client.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create client", log.FieldError, err, "relay", cfg.RelayURL)
		os.Exit(1)
	}

	st := store.New(api, store.WithListQuery(cfg.ListLimit, cfg.ListSort), store.WithLogger(logger))
	defer st.Close()

	ctx, cancel := cli.ShutdownContext(context.Background(), logger)
	defer cancel()

	opts := []console.Option{console.WithLogger(logger)}
	if fd := int(os.Stdin.Fd()); console.IsTerminal(fd) {
		opts = append(opts, console.WithPasswordReader(console.TerminalPassword(fd, os.Stdout)))
	}

	con := console.New(st, api, os.Stdin, os.Stdout, opts...)
	if err := con.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Console stopped", log.FieldError, err)
		st.Close()
		os.Exit(1)
	}
}
