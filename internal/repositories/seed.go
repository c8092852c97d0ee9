package repositories

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"function-ticketing-platform/internal/models"
)

// CatalogFile is the YAML document accepted by the catalog seeder
type CatalogFile struct {
	Functions []models.Function      `yaml:"functions"`
	Items     []*models.CatalogItem `yaml:"items"`
	Packages  []*models.CatalogItem `yaml:"packages"`
}

// CatalogWriter is implemented by the SQL and in-memory catalogs
type CatalogWriter interface {
	UpsertFunction(ctx context.Context, fn *models.Function) error
	UpsertCatalogItem(ctx context.Context, item *models.CatalogItem) error
}

// LoadCatalogFile reads and validates a catalog seed file
func LoadCatalogFile(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalogFile(data)
}

// ParseCatalogFile decodes a catalog seed document. Packages are marked as
// packages whatever the document says, and every include must name an item
// of the same function.
func ParseCatalogFile(data []byte) (*CatalogFile, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	functions := make(map[string]bool, len(file.Functions))
	for _, fn := range file.Functions {
		if fn.ID == "" || fn.Name == "" {
			return nil, fmt.Errorf("function %q needs an id and a name", fn.ID)
		}
		functions[fn.ID] = true
	}

	items := make(map[string]string, len(file.Items))
	for _, item := range file.Items {
		item.IsPackage = false
		if err := validateSeedItem(item, functions); err != nil {
			return nil, err
		}
		items[item.ID] = item.FunctionID
	}

	for _, pkg := range file.Packages {
		pkg.IsPackage = true
		if err := validateSeedItem(pkg, functions); err != nil {
			return nil, err
		}
		for _, included := range pkg.Includes {
			if fn, ok := items[included]; !ok || fn != pkg.FunctionID {
				return nil, fmt.Errorf("package %q includes unknown item %q", pkg.ID, included)
			}
		}
	}

	return &file, nil
}

func validateSeedItem(item *models.CatalogItem, functions map[string]bool) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("catalog item %q: %w", item.ID, err)
	}
	if len(functions) > 0 && !functions[item.FunctionID] {
		return fmt.Errorf("catalog item %q references unknown function %q", item.ID, item.FunctionID)
	}
	return nil
}

// SeedCatalog upserts functions, then items, then packages
func SeedCatalog(ctx context.Context, w CatalogWriter, file *CatalogFile) error {
	for i := range file.Functions {
		if err := w.UpsertFunction(ctx, &file.Functions[i]); err != nil {
			return fmt.Errorf("failed to seed function %q: %w", file.Functions[i].ID, err)
		}
	}
	for _, item := range file.Items {
		if err := w.UpsertCatalogItem(ctx, item); err != nil {
			return fmt.Errorf("failed to seed catalog item %q: %w", item.ID, err)
		}
	}
	for _, pkg := range file.Packages {
		if err := w.UpsertCatalogItem(ctx, pkg); err != nil {
			return fmt.Errorf("failed to seed package %q: %w", pkg.ID, err)
		}
	}
	return nil
}
