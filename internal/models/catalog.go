package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Function is a Masonic function (an event with one or more ticketed parts).
type Function struct {
	ID        string    `json:"id" db:"id" yaml:"id"`
	Name      string    `json:"name" db:"name" yaml:"name"`
	Slug      string    `json:"slug" db:"slug" yaml:"slug"`
	StartDate time.Time `json:"start_date" db:"start_date" yaml:"start_date"`
	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"-"`
}

// CatalogItem is an authoritative priced unit: an event ticket or a package.
// A package with no includes is sold as itself.
type CatalogItem struct {
	ID                string          `json:"id" db:"id" yaml:"id"`
	FunctionID        string          `json:"function_id" db:"function_id" yaml:"function_id"`
	Name              string          `json:"name" db:"name" yaml:"name"`
	Description       string          `json:"description" db:"description" yaml:"description"`
	Price             decimal.Decimal `json:"price" db:"price" yaml:"price"`
	Quantity          int             `json:"quantity" db:"quantity" yaml:"quantity"`
	Sold              int             `json:"sold" db:"sold" yaml:"-"`
	IsPackage         bool            `json:"is_package" db:"is_package" yaml:"is_package"`
	Includes          []string        `json:"includes,omitempty" yaml:"includes"`
	ProviderCatalogID string          `json:"provider_catalog_id,omitempty" db:"provider_catalog_id" yaml:"provider_catalog_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at" yaml:"-"`
}

// Validate validates the catalog item data
func (c *CatalogItem) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("catalog item id is required")
	}

	if strings.TrimSpace(c.Name) == "" {
		return errors.New("catalog item name is required")
	}

	if len(c.Name) > 200 {
		return errors.New("catalog item name must be less than 200 characters")
	}

	if c.Price.IsNegative() {
		return errors.New("catalog item price cannot be negative")
	}

	if c.Quantity < 0 {
		return errors.New("catalog item quantity cannot be negative")
	}

	if !c.IsPackage && len(c.Includes) > 0 {
		return errors.New("only packages can include other catalog items")
	}

	seen := make(map[string]bool, len(c.Includes))
	for _, id := range c.Includes {
		if id == c.ID {
			return errors.New("a package cannot include itself")
		}
		if seen[id] {
			return errors.New("package includes must not repeat")
		}
		seen[id] = true
	}

	return nil
}

// IsAtomic returns true if the item is not expanded into other items
func (c *CatalogItem) IsAtomic() bool {
	return len(c.Includes) == 0
}

// Available returns the number of units left to sell
func (c *CatalogItem) Available() int {
	available := c.Quantity - c.Sold
	if available < 0 {
		return 0
	}
	return available
}

// IsSoldOut returns true if all units are sold
func (c *CatalogItem) IsSoldOut() bool {
	return c.Sold >= c.Quantity
}

// CatalogIndex maps catalog ids to items for lookups during price resolution.
type CatalogIndex map[string]*CatalogItem

// NewCatalogIndex builds an index from a list of items. Later duplicates win.
func NewCatalogIndex(items []*CatalogItem) CatalogIndex {
	index := make(CatalogIndex, len(items))
	for _, item := range items {
		if item != nil {
			index[item.ID] = item
		}
	}
	return index
}

// Lookup returns the item with the given id.
func (idx CatalogIndex) Lookup(id string) (*CatalogItem, bool) {
	item, ok := idx[id]
	return item, ok
}
