package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus tracks delivery of a domain event
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSent       OutboxStatus = "sent"
	OutboxFailed     OutboxStatus = "failed"
)

const (
	AggregateRegistration = "registration"

	EventRegistrationCompleted = "registration.completed"
)

// OutboxEvent is a domain event written in the same transaction as the state
// change it describes and relayed to the broker later.
type OutboxEvent struct {
	ID            int64        `json:"id" db:"id"`
	AggregateType string       `json:"aggregate_type" db:"aggregate_type"`
	AggregateID   string       `json:"aggregate_id" db:"aggregate_id"`
	Type          string       `json:"event_type" db:"event_type"`
	Payload       []byte       `json:"payload" db:"payload"`
	Status        OutboxStatus `json:"status" db:"status"`
	Attempts      int          `json:"attempts" db:"attempts"`
	LastError     string       `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// RegistrationCompletedPayload is the body of a registration.completed event.
// Downstream consumers send confirmation emails and tickets from it.
type RegistrationCompletedPayload struct {
	RegistrationID     string           `json:"registrationId"`
	FunctionID         string           `json:"functionId"`
	RegistrationType   RegistrationType `json:"registrationType"`
	ConfirmationNumber string           `json:"confirmationNumber"`
	PaymentID          string           `json:"paymentId"`
	ContactEmail       string           `json:"contactEmail"`
	TotalAmountPaid    string           `json:"totalAmountPaid"`
	CompletedAt        time.Time        `json:"completedAt"`
}

// NewRegistrationCompletedEvent builds the outbox event for a completed
// registration that has just received its confirmation number.
func NewRegistrationCompletedEvent(reg *Registration, completedAt time.Time) (*OutboxEvent, error) {
	payload, err := json.Marshal(RegistrationCompletedPayload{
		RegistrationID:     reg.ID,
		FunctionID:         reg.FunctionID,
		RegistrationType:   reg.Type,
		ConfirmationNumber: reg.GetConfirmationNumber(),
		PaymentID:          reg.PaymentID,
		ContactEmail:       reg.ContactEmail,
		TotalAmountPaid:    reg.TotalAmountPaid.StringFixed(2),
		CompletedAt:        completedAt.UTC(),
	})
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		AggregateType: AggregateRegistration,
		AggregateID:   reg.ID,
		Type:          EventRegistrationCompleted,
		Payload:       payload,
		Status:        OutboxPending,
		CreatedAt:     completedAt,
	}, nil
}
