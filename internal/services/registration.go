package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"function-ticketing-platform/internal/models"
)

// Completion is the outcome of completing a registration
type Completion struct {
	RegistrationID     string
	ConfirmationNumber string
	// Applied is false when an earlier call already completed the registration
	Applied bool
}

// Finalizer persists registrations and owns the transition to completed
type Finalizer struct {
	store    RegistrationStore
	prefixes models.ConfirmationPrefixes
	logger   *slog.Logger
}

// NewFinalizer creates a registration finalizer
func NewFinalizer(store RegistrationStore, prefixes models.ConfirmationPrefixes, logger *slog.Logger) *Finalizer {
	return &Finalizer{store: store, prefixes: prefixes, logger: logger}
}

// CreateDraft persists an unpaid registration with its attendees and one
// ticket per line item. Only catalog-priced items can be persisted.
func (f *Finalizer) CreateDraft(ctx context.Context, draft *models.RegistrationDraft) (string, error) {
	for _, item := range draft.LineItems {
		if !item.IsVerified() {
			return "", models.NewMissingCatalogReferenceError(item.SelectionID, item.CatalogItemID)
		}
	}

	id, err := f.store.CreateRegistration(ctx, draft)
	if err != nil {
		return "", models.NewPersistenceError("failed to create registration", err)
	}

	attendees := make([]models.Attendee, len(draft.Attendees))
	for i, a := range draft.Attendees {
		a.RegistrationID = id
		attendees[i] = a
	}
	if err := f.store.CreateAttendees(ctx, id, attendees); err != nil {
		return "", models.NewPersistenceError("failed to create attendees", err)
	}

	tickets := make([]models.Ticket, 0, len(draft.LineItems))
	for _, item := range draft.LineItems {
		tickets = append(tickets, models.Ticket{
			ID:             uuid.NewString(),
			RegistrationID: id,
			AttendeeID:     item.AttendeeID,
			CatalogItemID:  item.CatalogItemID,
			PackageID:      item.PackageID,
			PricePaid:      item.Price,
		})
	}
	if err := f.store.CreateTickets(ctx, id, tickets); err != nil {
		return "", models.NewPersistenceError("failed to create tickets", err)
	}

	f.logger.Info("registration draft created",
		"registration_id", id,
		"registration_type", draft.Type,
		"attendees", len(attendees),
		"tickets", len(tickets),
	)
	return id, nil
}

// Complete marks the registration completed for paymentID and assigns its
// confirmation number. Repeated calls are no-ops that return the number
// assigned by the first one.
func (f *Finalizer) Complete(ctx context.Context, id, paymentID string, amounts models.CompletionAmounts) (*Completion, error) {
	reg, err := f.store.GetRegistration(ctx, id)
	if err != nil {
		return nil, f.storeError("failed to load registration", err)
	}
	if reg.IsRefunded() {
		return nil, models.NewConflictError("registration payment was refunded")
	}

	applied, err := f.store.MarkCompleted(ctx, id, paymentID, amounts)
	if err != nil {
		return nil, f.storeError("failed to complete registration", err)
	}

	prefix := f.prefixes.Prefix(reg.Type)
	number, err := f.store.AssignConfirmationNumber(ctx, id, func() string {
		return models.GenerateConfirmationNumber(prefix)
	})
	if err != nil {
		return nil, f.storeError("failed to assign confirmation number", err)
	}

	if applied {
		f.logger.Info("registration completed",
			"registration_id", id,
			"payment_id", paymentID,
			"confirmation_number", number,
		)
	} else {
		f.logger.Info("registration already completed",
			"registration_id", id,
			"payment_id", paymentID,
		)
	}

	return &Completion{RegistrationID: id, ConfirmationNumber: number, Applied: applied}, nil
}

// Fail marks an unpaid registration failed
func (f *Finalizer) Fail(ctx context.Context, id string) error {
	if err := f.store.MarkFailed(ctx, id); err != nil {
		return models.NewPersistenceError("failed to mark registration failed", err)
	}
	return nil
}

// Refunded marks a registration whose captured payment was given back so
// that no later notification can complete it
func (f *Finalizer) Refunded(ctx context.Context, id, paymentID string) error {
	if err := f.store.MarkRefunded(ctx, id, paymentID); err != nil {
		return f.storeError("failed to mark registration refunded", err)
	}
	return nil
}

// Get returns a registration by id
func (f *Finalizer) Get(ctx context.Context, id string) (*models.Registration, error) {
	reg, err := f.store.GetRegistration(ctx, id)
	if err != nil {
		return nil, f.storeError("failed to get registration", err)
	}
	return reg, nil
}

// ExpirePending cancels unpaid registrations older than olderThan
func (f *Finalizer) ExpirePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := f.store.ExpirePending(ctx, olderThan)
	if err != nil {
		return 0, models.NewPersistenceError("failed to expire pending registrations", err)
	}
	if n > 0 {
		f.logger.Info("expired pending registrations", "count", n, "older_than", olderThan)
	}
	return n, nil
}

// storeError keeps typed errors and not-found sentinels intact and wraps
// everything else as a persistence failure.
func (f *Finalizer) storeError(message string, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) || errors.Is(err, models.ErrRegistrationNotFound) {
		return fmt.Errorf("%s: %w", message, err)
	}
	return models.NewPersistenceError(message, err)
}
