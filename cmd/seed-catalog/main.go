package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"function-ticketing-platform/internal/config"
	"function-ticketing-platform/internal/database"
	"function-ticketing-platform/internal/logging"
	"function-ticketing-platform/internal/repositories"
)

func main() {
	file := pflag.StringP("file", "f", "cmd/seed-catalog/catalog.example.yaml", "Catalog YAML to load")
	dryRun := pflag.Bool("dry-run", false, "Validate the file without writing to the database")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Server.Env)

	catalog, err := repositories.LoadCatalogFile(*file)
	if err != nil {
		logger.Error("invalid catalog file", "file", *file, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Catalog %s: %d functions, %d items, %d packages\n",
		*file, len(catalog.Functions), len(catalog.Items), len(catalog.Packages))

	if *dryRun {
		return
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repositories.SeedCatalog(ctx, repositories.NewCatalogRepository(db.DB), catalog); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Catalog seeded successfully!")
}
