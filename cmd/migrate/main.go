package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"function-ticketing-platform/internal/config"
	"function-ticketing-platform/internal/database"
	"function-ticketing-platform/internal/logging"
)

func main() {
	var (
		statusFlag = pflag.Bool("status", false, "Show migration status")
		upFlag     = pflag.Bool("up", false, "Run pending migrations")
	)
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Server.Env)

	ctx := context.Background()
	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	switch {
	case *statusFlag:
		if err := db.PrintMigrationStatus(ctx, os.Stdout); err != nil {
			logger.Error("failed to get migration status", "error", err)
			os.Exit(1)
		}
	case *upFlag:
		if err := db.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		fmt.Println("All migrations completed successfully!")
	default:
		fmt.Println("Usage:")
		fmt.Println("  migrate --status   # Show migration status")
		fmt.Println("  migrate --up       # Run pending migrations")
		os.Exit(1)
	}
}
