package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"function-ticketing-platform/internal/models"
)

// CatalogRepository reads authoritative prices and stock for catalog items
// and packages.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const catalogColumns = `id, function_id, name, description, price, quantity, sold, is_package, square_catalog_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogItem(row rowScanner) (*models.CatalogItem, error) {
	item := &models.CatalogItem{}
	err := row.Scan(
		&item.ID,
		&item.FunctionID,
		&item.Name,
		&item.Description,
		&item.Price,
		&item.Quantity,
		&item.Sold,
		&item.IsPackage,
		&item.ProviderCatalogID,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetCatalogItem retrieves a non-package catalog item. A missing row returns
// models.ErrCatalogItemNotFound; any other failure is returned wrapped and
// must not be read as "not found".
func (r *CatalogRepository) GetCatalogItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	query := `SELECT ` + catalogColumns + ` FROM catalog_items WHERE id = $1 AND NOT is_package`

	item, err := scanCatalogItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("catalog item %s: %w", id, models.ErrCatalogItemNotFound)
		}
		return nil, fmt.Errorf("failed to get catalog item: %w", err)
	}

	return item, nil
}

// GetPackage retrieves a package with its includes in position order
func (r *CatalogRepository) GetPackage(ctx context.Context, id string) (*models.CatalogItem, error) {
	query := `SELECT ` + catalogColumns + ` FROM catalog_items WHERE id = $1 AND is_package`

	item, err := scanCatalogItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("package %s: %w", id, models.ErrPackageNotFound)
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}

	includes, err := r.loadIncludes(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	item.Includes = includes[id]

	return item, nil
}

// ListCatalogItems returns all non-package items of a function
func (r *CatalogRepository) ListCatalogItems(ctx context.Context, functionID string) ([]*models.CatalogItem, error) {
	return r.list(ctx, functionID, false)
}

// ListPackages returns all packages of a function with their includes
func (r *CatalogRepository) ListPackages(ctx context.Context, functionID string) ([]*models.CatalogItem, error) {
	packages, err := r.list(ctx, functionID, true)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(packages))
	for _, p := range packages {
		ids = append(ids, p.ID)
	}

	includes, err := r.loadIncludes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range packages {
		p.Includes = includes[p.ID]
	}

	return packages, nil
}

func (r *CatalogRepository) list(ctx context.Context, functionID string, packages bool) ([]*models.CatalogItem, error) {
	query := `SELECT ` + catalogColumns + ` FROM catalog_items WHERE function_id = $1 AND is_package = $2 ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, functionID, packages)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog items: %w", err)
	}
	defer rows.Close()

	var items []*models.CatalogItem
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog items: %w", err)
	}

	return items, nil
}

func (r *CatalogRepository) loadIncludes(ctx context.Context, packageIDs []string) (map[string][]string, error) {
	includes := make(map[string][]string, len(packageIDs))
	if len(packageIDs) == 0 {
		return includes, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT package_id, item_id
		FROM package_includes
		WHERE package_id = ANY($1)
		ORDER BY package_id, position`, pq.Array(packageIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load package includes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var packageID, itemID string
		if err := rows.Scan(&packageID, &itemID); err != nil {
			return nil, fmt.Errorf("failed to scan package include: %w", err)
		}
		includes[packageID] = append(includes[packageID], itemID)
	}

	return includes, rows.Err()
}

// GetAvailableQuantity returns quantity minus sold, floored at zero
func (r *CatalogRepository) GetAvailableQuantity(ctx context.Context, id string) (int, error) {
	var available int
	err := r.db.QueryRowContext(ctx,
		`SELECT GREATEST(quantity - sold, 0) FROM catalog_items WHERE id = $1`, id,
	).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("catalog item %s: %w", id, models.ErrCatalogItemNotFound)
		}
		return 0, fmt.Errorf("failed to get available quantity: %w", err)
	}

	return available, nil
}

// UpsertFunction creates or updates a function
func (r *CatalogRepository) UpsertFunction(ctx context.Context, fn *models.Function) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO functions (id, name, slug, start_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug, start_date = EXCLUDED.start_date`,
		fn.ID, fn.Name, fn.Slug, fn.StartDate)
	if err != nil {
		return fmt.Errorf("failed to upsert function: %w", err)
	}
	return nil
}

// UpsertCatalogItem creates or updates an item and replaces its includes.
// Sold counts are never overwritten.
func (r *CatalogRepository) UpsertCatalogItem(ctx context.Context, item *models.CatalogItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO catalog_items (id, function_id, name, description, price, quantity, is_package, square_catalog_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			function_id = EXCLUDED.function_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			is_package = EXCLUDED.is_package,
			square_catalog_id = EXCLUDED.square_catalog_id`,
		item.ID, item.FunctionID, item.Name, item.Description, item.Price,
		item.Quantity, item.IsPackage, item.ProviderCatalogID)
	if err != nil {
		return fmt.Errorf("failed to upsert catalog item: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM package_includes WHERE package_id = $1`, item.ID); err != nil {
		return fmt.Errorf("failed to clear package includes: %w", err)
	}

	for position, includedID := range item.Includes {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO package_includes (package_id, item_id, position) VALUES ($1, $2, $3)`,
			item.ID, includedID, position)
		if err != nil {
			return fmt.Errorf("failed to insert package include %s: %w", includedID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog item: %w", err)
	}

	return nil
}

// soldCounts loads the units a registration's tickets sell, keyed by catalog
// record and sorted by id so concurrent transactions lock rows in one order.
func soldCounts(ctx context.Context, tx *sql.Tx, registrationID string) (map[string]int, []string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT catalog_item_id, package_id
		FROM tickets
		WHERE registration_id = $1`, registrationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.CatalogItemID, &t.PackageID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating tickets: %w", err)
	}

	counts := models.SoldCounts(tickets)
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return counts, ids, nil
}

// commitSold increments sold counts for the tickets of a registration,
// including one unit per purchase of an expanded package. The update only
// applies when enough stock remains, so concurrent checkouts for the last
// unit cannot both commit.
func commitSold(ctx context.Context, tx *sql.Tx, registrationID string) error {
	counts, ids, err := soldCounts(ctx, tx, registrationID)
	if err != nil {
		return err
	}

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE catalog_items
			SET sold = sold + $2
			WHERE id = $1 AND quantity - sold >= $2`, id, counts[id])
		if err != nil {
			return fmt.Errorf("failed to commit sold count: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			var name string
			var available int
			err := tx.QueryRowContext(ctx,
				`SELECT name, GREATEST(quantity - sold, 0) FROM catalog_items WHERE id = $1`, id,
			).Scan(&name, &available)
			if err != nil {
				return fmt.Errorf("failed to read stock for %s: %w", id, err)
			}
			return models.NewInsufficientInventoryError(name, counts[id], available)
		}
	}

	return nil
}

// releaseSold gives back the units commitSold took for a registration
func releaseSold(ctx context.Context, tx *sql.Tx, registrationID string) error {
	counts, ids, err := soldCounts(ctx, tx, registrationID)
	if err != nil {
		return err
	}

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE catalog_items
			SET sold = GREATEST(sold - $2, 0)
			WHERE id = $1`, id, counts[id])
		if err != nil {
			return fmt.Errorf("failed to release sold count: %w", err)
		}
	}

	return nil
}
