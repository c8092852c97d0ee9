package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistrationCompletedEvent(t *testing.T) {
	number := "IND-123456AB"
	reg := &Registration{
		ID:                 "reg-1",
		FunctionID:         "fn-1",
		Type:               RegistrationIndividual,
		ConfirmationNumber: &number,
		PaymentID:          "pay_1",
		ContactEmail:       "jane@example.com",
		TotalAmountPaid:    decimal.RequireFromString("158.6"),
	}
	completedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	event, err := NewRegistrationCompletedEvent(reg, completedAt)
	require.NoError(t, err)

	assert.Equal(t, EventRegistrationCompleted, event.Type)
	assert.Equal(t, "reg-1", event.AggregateID)
	assert.Equal(t, OutboxPending, event.Status)

	var payload RegistrationCompletedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "IND-123456AB", payload.ConfirmationNumber)
	assert.Equal(t, "158.60", payload.TotalAmountPaid)
	assert.Equal(t, completedAt, payload.CompletedAt)
}
