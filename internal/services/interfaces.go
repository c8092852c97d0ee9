package services

import (
	"context"
	"time"

	"function-ticketing-platform/internal/models"
)

// CatalogSource is the authoritative source of prices and stock
type CatalogSource interface {
	GetCatalogItem(ctx context.Context, id string) (*models.CatalogItem, error)
	GetPackage(ctx context.Context, id string) (*models.CatalogItem, error)
	ListCatalogItems(ctx context.Context, functionID string) ([]*models.CatalogItem, error)
	ListPackages(ctx context.Context, functionID string) ([]*models.CatalogItem, error)
	GetAvailableQuantity(ctx context.Context, id string) (int, error)
}

// RegistrationStore persists registrations and guards their completion
type RegistrationStore interface {
	CreateRegistration(ctx context.Context, draft *models.RegistrationDraft) (string, error)
	CreateAttendees(ctx context.Context, registrationID string, attendees []models.Attendee) error
	CreateTickets(ctx context.Context, registrationID string, tickets []models.Ticket) error
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	FindByProviderOrderID(ctx context.Context, orderID string) (*models.Registration, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Registration, error)
	SetProviderRefs(ctx context.Context, id, customerID, orderID string) error
	MarkFailed(ctx context.Context, id string) error
	MarkRefunded(ctx context.Context, id, paymentID string) error
	MarkCompleted(ctx context.Context, id, paymentID string, amounts models.CompletionAmounts) (bool, error)
	AssignConfirmationNumber(ctx context.Context, id string, generate func() string) (string, error)
	ExpirePending(ctx context.Context, olderThan time.Duration) (int64, error)
}

// OutboxStore leases domain events for delivery
type OutboxStore interface {
	LockEvents(ctx context.Context, batchSize int, lease time.Duration) ([]models.OutboxEvent, error)
	MarkEventsSent(ctx context.Context, ids []int64) error
	MarkEventFailed(ctx context.Context, id int64, errMsg string, retryAfter time.Duration) error
}

// RegistrationServiceInterface is what the HTTP layer needs from the orchestrator
type RegistrationServiceInterface interface {
	Register(ctx context.Context, req *RegistrationRequest) (*RegistrationResult, error)
	CompleteFromWebhook(ctx context.Context, notice PaymentNotice) (*Completion, error)
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
}

// EventDeduplicator records provider notification ids so each is handled once
type EventDeduplicator interface {
	// Seen records eventID and reports whether it had already been recorded
	Seen(ctx context.Context, eventID string) (bool, error)
	// Release forgets eventID so a redelivery is processed again
	Release(ctx context.Context, eventID string) error
}
