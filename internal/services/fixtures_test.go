package services

import (
	"github.com/shopspring/decimal"

	"function-ticketing-platform/internal/logging"
	"function-ticketing-platform/internal/models"
	"function-ticketing-platform/internal/repositories"
)

const testFunctionID = "grand-installation-2026"

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testCatalogItems() []*models.CatalogItem {
	return []*models.CatalogItem{
		{ID: "banquet", FunctionID: testFunctionID, Name: "Grand Banquet", Price: price("150"), Quantity: 100, ProviderCatalogID: "SQ-BANQUET"},
		{ID: "ceremony", FunctionID: testFunctionID, Name: "Installation Ceremony", Price: price("85"), Quantity: 100},
		{ID: "brunch", FunctionID: testFunctionID, Name: "Farewell Brunch", Price: price("45"), Quantity: 100, Sold: 70},
	}
}

func testPackages() []*models.CatalogItem {
	return []*models.CatalogItem{
		{ID: "full-package", FunctionID: testFunctionID, Name: "Full Package", Price: price("220"), Quantity: 50, IsPackage: true, Includes: []string{"banquet", "ceremony"}},
		{ID: "lodge-table", FunctionID: testFunctionID, Name: "Lodge Table", Price: price("180"), Quantity: 20, IsPackage: true},
	}
}

func testIndexes() (models.CatalogIndex, models.CatalogIndex) {
	return models.NewCatalogIndex(testCatalogItems()), models.NewCatalogIndex(testPackages())
}

func newTestCatalog() *repositories.MemoryCatalog {
	return repositories.NewMemoryCatalog(append(testCatalogItems(), testPackages()...)...)
}

var discardLogger = logging.Discard()
