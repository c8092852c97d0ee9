package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"function-ticketing-platform/internal/models"
	"function-ticketing-platform/internal/repositories"
)

func newDraft(t *testing.T, selections ...models.CartSelection) *models.RegistrationDraft {
	t.Helper()
	catalog, packages := testIndexes()

	attendee := models.Attendee{ID: uuid.NewString(), Kind: models.AttendeePrimary, FirstName: "John", LastName: "Smith"}
	for i := range selections {
		selections[i].AttendeeID = attendee.ID
	}
	items := ExpandSelections(selections, catalog, packages)

	return &models.RegistrationDraft{
		FunctionID: testFunctionID,
		Type:       models.RegistrationIndividual,
		Contact:    models.Contact{FirstName: "John", LastName: "Smith", Email: "john@example.org"},
		Subtotal:   models.SumPrices(items),
		Attendees:  []models.Attendee{attendee},
		LineItems:  items,
	}
}

func TestFinalizer_CreateDraft(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryRegistrationStore(newTestCatalog())
	finalizer := NewFinalizer(store, models.DefaultConfirmationPrefixes, discardLogger)

	id, err := finalizer.CreateDraft(ctx, newDraft(t,
		models.CartSelection{CatalogItemID: "banquet"},
		models.CartSelection{CatalogItemID: "full-package", IsPackage: true},
	))
	require.NoError(t, err)

	reg, err := finalizer.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, reg.IsPending())
	assert.Nil(t, reg.ConfirmationNumber)
	require.Len(t, reg.Attendees, 1)
	require.Len(t, reg.Tickets, 3)
	assert.Equal(t, "full-package", reg.Tickets[1].PackageID)
	assert.True(t, reg.Tickets[2].PricePaid.Equal(price("85")))
}

func TestFinalizer_CreateDraftRejectsUnverifiedItems(t *testing.T) {
	store := repositories.NewMemoryRegistrationStore(newTestCatalog())
	finalizer := NewFinalizer(store, models.DefaultConfirmationPrefixes, discardLogger)

	_, err := finalizer.CreateDraft(context.Background(), newDraft(t,
		models.CartSelection{CatalogItemID: "ghost", Price: price("1")},
	))
	require.Error(t, err)
	assert.Equal(t, models.KindMissingCatalogReference, models.KindOf(err))
}

func TestFinalizer_CompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	catalog := newTestCatalog()
	store := repositories.NewMemoryRegistrationStore(catalog)
	finalizer := NewFinalizer(store, models.DefaultConfirmationPrefixes, discardLogger)

	id, err := finalizer.CreateDraft(ctx, newDraft(t, models.CartSelection{CatalogItemID: "banquet"}))
	require.NoError(t, err)

	amounts := models.CompletionAmounts{Subtotal: price("150"), Total: price("156.67")}

	// Webhook and synchronous confirmation racing on the same payment.
	var wg sync.WaitGroup
	completions := make([]*Completion, 2)
	errs := make([]error, 2)
	for i := range completions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			completions[i], errs[i] = finalizer.Complete(ctx, id, "PAY-1", amounts)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, completions[0].Applied, completions[1].Applied, "exactly one call applies")
	assert.Equal(t, completions[0].ConfirmationNumber, completions[1].ConfirmationNumber)
	assert.True(t, models.MatchesConfirmationPrefix(completions[0].ConfirmationNumber, "IND"))

	again, err := finalizer.Complete(ctx, id, "PAY-1", amounts)
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, completions[0].ConfirmationNumber, again.ConfirmationNumber)

	reg, err := finalizer.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, reg.IsCompleted())
	assert.Len(t, reg.Tickets, 1)
	assert.Len(t, store.Events(), 1)

	available, err := catalog.GetAvailableQuantity(ctx, "banquet")
	require.NoError(t, err)
	assert.Equal(t, 99, available, "sold count committed once")
}

func TestFinalizer_CompleteRequiresPaymentID(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryRegistrationStore(newTestCatalog())
	finalizer := NewFinalizer(store, models.DefaultConfirmationPrefixes, discardLogger)

	id, err := finalizer.CreateDraft(ctx, newDraft(t, models.CartSelection{CatalogItemID: "banquet"}))
	require.NoError(t, err)

	_, err = finalizer.Complete(ctx, id, "", models.CompletionAmounts{})
	require.Error(t, err)

	reg, err := finalizer.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, reg.IsCompleted())
}

func TestFinalizer_UnknownRegistration(t *testing.T) {
	finalizer := NewFinalizer(repositories.NewMemoryRegistrationStore(nil), nil, discardLogger)

	_, err := finalizer.Complete(context.Background(), uuid.NewString(), "PAY-1", models.CompletionAmounts{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRegistrationNotFound)
}
