package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"function-ticketing-platform/internal/models"
)

func TestExpandSelections_PackageWithIncludes(t *testing.T) {
	catalog, packages := testIndexes()

	items := ExpandSelections([]models.CartSelection{
		{ID: "full-package", AttendeeID: "a1", IsPackage: true, Price: price("0")},
	}, catalog, packages)

	require.Len(t, items, 2)
	assert.Equal(t, "banquet", items[0].CatalogItemID)
	assert.Equal(t, "ceremony", items[1].CatalogItemID)
	for _, item := range items {
		assert.True(t, item.IsFromPackage)
		assert.Equal(t, "full-package", item.PackageID)
		assert.Equal(t, "Full Package", item.PackageName)
		assert.Equal(t, "a1", item.AttendeeID)
		assert.Equal(t, "full-package", item.SelectionID)
		assert.True(t, item.IsVerified())
	}
	assert.True(t, items[0].Price.Equal(price("150")))
	assert.True(t, items[1].Price.Equal(price("85")))
	assert.True(t, models.SumPrices(items).Equal(price("235")))
	assert.NotEqual(t, items[0].ID, items[1].ID)
}

func TestExpandSelections_AtomicPackage(t *testing.T) {
	catalog, packages := testIndexes()

	items := ExpandSelections([]models.CartSelection{
		{ID: "lodge-table", AttendeeID: "a1", IsPackage: true},
	}, catalog, packages)

	require.Len(t, items, 1)
	assert.False(t, items[0].IsFromPackage)
	assert.True(t, items[0].IsPackage)
	assert.Equal(t, "lodge-table", items[0].CatalogItemID)
	assert.True(t, items[0].Price.Equal(price("180")))
}

func TestExpandSelections_KeepsInputOrder(t *testing.T) {
	catalog, packages := testIndexes()

	items := ExpandSelections([]models.CartSelection{
		{ID: "brunch", AttendeeID: "a1"},
		{ID: "a2-full-package", AttendeeID: "a2", IsPackage: true},
		{ID: "lodge-table", AttendeeID: "a3", IsPackage: true},
	}, catalog, packages)

	var ids []string
	for _, item := range items {
		ids = append(ids, item.AttendeeID+":"+item.CatalogItemID)
	}
	assert.Equal(t, []string{"a1:brunch", "a2:banquet", "a2:ceremony", "a3:lodge-table"}, ids)
}

func TestExpandSelections_Fallbacks(t *testing.T) {
	catalog, packages := testIndexes()
	packages["broken-package"] = &models.CatalogItem{
		ID: "broken-package", Name: "Broken", Price: price("99"), IsPackage: true,
		Includes: []string{"banquet", "retired-item"},
	}

	t.Run("unknown package", func(t *testing.T) {
		items := ExpandSelections([]models.CartSelection{
			{ID: "mystery-package", AttendeeID: "a1", IsPackage: true, Price: price("30")},
		}, catalog, packages)

		require.Len(t, items, 1)
		assert.False(t, items[0].IsVerified())
		assert.True(t, items[0].Price.Equal(price("30")))
	})

	t.Run("missing included item", func(t *testing.T) {
		items := ExpandSelections([]models.CartSelection{
			{ID: "broken-package", AttendeeID: "a1", IsPackage: true, Price: price("99")},
		}, catalog, packages)

		require.Len(t, items, 2)
		assert.True(t, items[0].IsVerified())
		assert.False(t, items[1].IsVerified())
		assert.True(t, items[1].Price.IsZero())
		assert.Len(t, UnverifiedItems(items), 1)
	})
}
