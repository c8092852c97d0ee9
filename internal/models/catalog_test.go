package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    CatalogItem
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid ticket",
			item: CatalogItem{ID: "banquet", Name: "Grand Banquet", Price: decimal.NewFromInt(150), Quantity: 100},
		},
		{
			name: "valid package",
			item: CatalogItem{ID: "gala", Name: "Gala Package", Price: decimal.NewFromInt(220), IsPackage: true, Includes: []string{"banquet", "ceremony"}},
		},
		{
			name:    "missing id",
			item:    CatalogItem{Name: "Grand Banquet"},
			wantErr: true,
			errMsg:  "catalog item id is required",
		},
		{
			name:    "missing name",
			item:    CatalogItem{ID: "banquet", Name: "  "},
			wantErr: true,
			errMsg:  "catalog item name is required",
		},
		{
			name:    "negative price",
			item:    CatalogItem{ID: "banquet", Name: "Grand Banquet", Price: decimal.NewFromInt(-1)},
			wantErr: true,
			errMsg:  "catalog item price cannot be negative",
		},
		{
			name:    "includes on non package",
			item:    CatalogItem{ID: "banquet", Name: "Grand Banquet", Includes: []string{"ceremony"}},
			wantErr: true,
			errMsg:  "only packages can include other catalog items",
		},
		{
			name:    "package includes itself",
			item:    CatalogItem{ID: "gala", Name: "Gala", IsPackage: true, Includes: []string{"gala"}},
			wantErr: true,
			errMsg:  "a package cannot include itself",
		},
		{
			name:    "repeated include",
			item:    CatalogItem{ID: "gala", Name: "Gala", IsPackage: true, Includes: []string{"banquet", "banquet"}},
			wantErr: true,
			errMsg:  "package includes must not repeat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.errMsg, err.Error())
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCatalogItem_Available(t *testing.T) {
	item := &CatalogItem{Quantity: 30, Sold: 10}
	assert.Equal(t, 20, item.Available())
	assert.False(t, item.IsSoldOut())

	item.Sold = 35
	assert.Equal(t, 0, item.Available())
	assert.True(t, item.IsSoldOut())
}

func TestCatalogIndex_Lookup(t *testing.T) {
	index := NewCatalogIndex([]*CatalogItem{
		{ID: "banquet", Name: "Grand Banquet"},
		nil,
		{ID: "ceremony", Name: "Installation Ceremony"},
	})

	item, ok := index.Lookup("ceremony")
	require.True(t, ok)
	assert.Equal(t, "Installation Ceremony", item.Name)

	_, ok = index.Lookup("missing")
	assert.False(t, ok)
	assert.Len(t, index, 2)
}

func TestCartSelection_CatalogRef(t *testing.T) {
	const attendeeUUID = "5f0b7c1e-8a3d-4a51-9c1b-2f1e0d6c7a11"
	const itemUUID = "d2a4c6e8-1b3d-4f5a-8c7e-9a0b1c2d3e4f"

	tests := []struct {
		name      string
		selection CartSelection
		want      string
	}{
		{
			name:      "structured reference wins",
			selection: CartSelection{ID: "anything", AttendeeID: "att-1", CatalogItemID: "banquet"},
			want:      "banquet",
		},
		{
			name:      "bare id",
			selection: CartSelection{ID: "banquet", AttendeeID: "att-1"},
			want:      "banquet",
		},
		{
			name:      "composite id with simple attendee id",
			selection: CartSelection{ID: "att-1-banquet", AttendeeID: "att-1"},
			want:      "banquet",
		},
		{
			name:      "composite id built from uuids",
			selection: CartSelection{ID: attendeeUUID + "-" + itemUUID, AttendeeID: attendeeUUID},
			want:      itemUUID,
		},
		{
			name:      "bare uuid is never split",
			selection: CartSelection{ID: itemUUID, AttendeeID: attendeeUUID},
			want:      itemUUID,
		},
		{
			name:      "prefix of another attendee is kept",
			selection: CartSelection{ID: "att-2-banquet", AttendeeID: "att-1"},
			want:      "att-2-banquet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.selection.CatalogRef())
		})
	}
}

func TestLineItems_SumAndGroup(t *testing.T) {
	items := []ResolvedLineItem{
		{ID: "1", AttendeeID: "a", Price: decimal.NewFromInt(150), PriceSource: PriceFromCatalog},
		{ID: "2", AttendeeID: "b", Price: decimal.NewFromInt(85), PriceSource: PriceFromClient},
		{ID: "3", AttendeeID: "a", Price: decimal.RequireFromString("12.50"), PriceSource: PriceFromCatalog},
	}

	assert.True(t, SumPrices(items).Equal(decimal.RequireFromString("247.50")))
	assert.True(t, SumPrices(nil).IsZero())

	grouped := GroupByAttendee(items)
	require.Len(t, grouped["a"], 2)
	assert.Equal(t, "1", grouped["a"][0].ID)
	assert.Equal(t, "3", grouped["a"][1].ID)

	assert.True(t, items[0].IsVerified())
	assert.False(t, items[1].IsVerified())
}
