package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"function-ticketing-platform/internal/config"
	"function-ticketing-platform/internal/logging"
	"function-ticketing-platform/internal/services"
)

type recordLister interface {
	ListRecords(ctx context.Context, day time.Time) ([]string, error)
}

func main() {
	var (
		setup = pflag.Bool("setup", false, "Create the R2 bucket if it does not exist")
		day   = pflag.String("date", time.Now().UTC().Format("2006-01-02"), "List reconciliation records for this day (YYYY-MM-DD)")
	)
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Server.Env)
	ctx := context.Background()

	date, err := time.Parse("2006-01-02", *day)
	if err != nil {
		logger.Error("invalid date", "date", *day, "error", err)
		os.Exit(1)
	}

	var lister recordLister
	r2, err := services.NewR2Archive(ctx, cfg.R2)
	if err != nil {
		fmt.Printf("R2 not configured (%v), reading local archive %s\n", err, cfg.R2.LocalDir)
		lister = services.NewLocalArchive(cfg.R2.LocalDir)
	} else {
		if *setup {
			if err := r2.EnsureBucket(ctx); err != nil {
				logger.Error("bucket setup failed", "error", err)
				os.Exit(1)
			}
			fmt.Printf("Bucket %s is ready\n", cfg.R2.BucketName)
		} else if err := r2.CheckBucket(ctx); err != nil {
			logger.Error("bucket check failed", "error", err)
			os.Exit(1)
		}
		lister = r2
	}

	keys, err := lister.ListRecords(ctx, date)
	if err != nil {
		logger.Error("failed to list records", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Reconciliation records for %s: %d\n", date.Format("2006-01-02"), len(keys))
	for _, key := range keys {
		fmt.Printf("  %s\n", key)
	}
}
