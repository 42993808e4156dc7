package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tally/internal/config"
	"tally/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run ./cmd/migrate [command] [args]")
		fmt.Println("Commands: up, down, status, redo, version")
		os.Exit(1)
	}

	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	log.Printf("Starting migration: %s (%s)", command, cfg.StorageDriver)

	switch cfg.StorageDriver {
	case config.StoragePostgres:
		err = repository.MigratePostgres(ctx, cfg.DSN(), command, args[1:]...)
	case config.StorageSQLite:
		err = repository.MigrateSQLite(ctx, cfg.SQLitePath, command, args[1:]...)
	}
	if err != nil {
		log.Fatalf("Migration error: %v", err)
	}

	fmt.Println("Migration finished successfully")
}
