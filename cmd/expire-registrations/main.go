package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"function-ticketing-platform/internal/config"
	"function-ticketing-platform/internal/database"
	"function-ticketing-platform/internal/logging"
	"function-ticketing-platform/internal/repositories"
	"function-ticketing-platform/internal/services"
)

func main() {
	olderThan := pflag.Duration("older-than", 2*time.Hour, "Cancel pending registrations created before this age")
	pflag.Parse()

	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be positive")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Server.Env)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	finalizer := services.NewFinalizer(repositories.NewRegistrationRepository(db.DB), nil, logger)
	n, err := finalizer.ExpirePending(ctx, *olderThan)
	if err != nil {
		logger.Error("expiry failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Expired %d pending registrations older than %s\n", n, *olderThan)
}
