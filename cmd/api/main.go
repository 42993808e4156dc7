package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tally/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer cleanup()

	slog.Info("tally started")
	if err := app.Run(ctx); err != nil {
		return err
	}
	slog.Info("tally stopped")
	return nil
}
