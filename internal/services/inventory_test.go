package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"function-ticketing-platform/internal/models"
)

// MockCatalogSource is a mock implementation of CatalogSource
type MockCatalogSource struct {
	mock.Mock
}

func (m *MockCatalogSource) GetCatalogItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CatalogItem), args.Error(1)
}

func (m *MockCatalogSource) GetPackage(ctx context.Context, id string) (*models.CatalogItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CatalogItem), args.Error(1)
}

func (m *MockCatalogSource) ListCatalogItems(ctx context.Context, functionID string) ([]*models.CatalogItem, error) {
	args := m.Called(ctx, functionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CatalogItem), args.Error(1)
}

func (m *MockCatalogSource) ListPackages(ctx context.Context, functionID string) ([]*models.CatalogItem, error) {
	args := m.Called(ctx, functionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CatalogItem), args.Error(1)
}

func (m *MockCatalogSource) GetAvailableQuantity(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func TestInventoryGuard_CheckInventory(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setup     func(m *MockCatalogSource)
		itemID    string
		requested int
		wantKind  models.ErrorKind
		wantErr   bool
		wantMsg   string
	}{
		{
			name: "enough stock",
			setup: func(m *MockCatalogSource) {
				m.On("GetAvailableQuantity", ctx, "banquet").Return(30, nil)
			},
			itemID:    "banquet",
			requested: 30,
		},
		{
			name: "insufficient stock names the item",
			setup: func(m *MockCatalogSource) {
				m.On("GetAvailableQuantity", ctx, "banquet").Return(30, nil)
				m.On("GetCatalogItem", ctx, "banquet").Return(&models.CatalogItem{ID: "banquet", Name: "Grand Banquet"}, nil)
			},
			itemID:    "banquet",
			requested: 50,
			wantErr:   true,
			wantKind:  models.KindInsufficientInventory,
			wantMsg:   "Grand Banquet is sold out (requested: 50, available: 30)",
		},
		{
			name:      "missing catalog id",
			setup:     func(m *MockCatalogSource) {},
			itemID:    "",
			requested: 1,
			wantErr:   true,
			wantKind:  models.KindMissingCatalogReference,
		},
		{
			name: "unknown catalog id",
			setup: func(m *MockCatalogSource) {
				m.On("GetAvailableQuantity", ctx, "ghost").
					Return(0, fmt.Errorf("catalog item ghost: %w", models.ErrCatalogItemNotFound))
			},
			itemID:    "ghost",
			requested: 1,
			wantErr:   true,
			wantKind:  models.KindMissingCatalogReference,
		},
		{
			name: "lookup failure is not a missing reference",
			setup: func(m *MockCatalogSource) {
				m.On("GetAvailableQuantity", ctx, "banquet").Return(0, errors.New("connection reset"))
			},
			itemID:    "banquet",
			requested: 1,
			wantErr:   true,
			wantKind:  models.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := new(MockCatalogSource)
			tt.setup(catalog)

			err := NewInventoryGuard(catalog).CheckInventory(ctx, tt.itemID, tt.requested)
			if !tt.wantErr {
				assert.NoError(t, err)
				catalog.AssertExpectations(t)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.wantKind, models.KindOf(err))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
			catalog.AssertExpectations(t)
		})
	}
}

func TestInventoryGuard_CheckOrderSumsQuantities(t *testing.T) {
	guard := NewInventoryGuard(newTestCatalog())

	order := &models.Order{LineItems: []models.OrderLineItem{
		{CatalogItemID: "brunch", Name: "Farewell Brunch", Quantity: 20, UnitPrice: price("45")},
		{CatalogItemID: "banquet", Name: "Grand Banquet", Quantity: 1, UnitPrice: price("150")},
		{CatalogItemID: "brunch", Name: "Farewell Brunch", Quantity: 11, UnitPrice: price("45")},
	}}

	err := guard.CheckOrder(context.Background(), order)
	require.Error(t, err)
	assert.Equal(t, models.KindInsufficientInventory, models.KindOf(err))
	assert.Contains(t, err.Error(), "Farewell Brunch is sold out (requested: 31, available: 30)")

	order.LineItems[2].Quantity = 10
	assert.NoError(t, guard.CheckOrder(context.Background(), order))
}

func TestInventoryGuard_CheckOrderCapsPackagePurchases(t *testing.T) {
	guard := NewInventoryGuard(newTestCatalog())

	order := &models.Order{
		LineItems: []models.OrderLineItem{
			{CatalogItemID: "banquet", Name: "Grand Banquet", Quantity: 51, UnitPrice: price("150")},
			{CatalogItemID: "ceremony", Name: "Installation Ceremony", Quantity: 51, UnitPrice: price("85")},
		},
		Packages: map[string]int{"full-package": 51},
	}

	err := guard.CheckOrder(context.Background(), order)
	require.Error(t, err)
	assert.Equal(t, models.KindInsufficientInventory, models.KindOf(err))
	assert.Contains(t, err.Error(), "Full Package is sold out (requested: 51, available: 50)")

	order.Packages["full-package"] = 50
	assert.NoError(t, guard.CheckOrder(context.Background(), order))
}
