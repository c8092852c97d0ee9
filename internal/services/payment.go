package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"function-ticketing-platform/internal/models"
)

// PaymentProvider is the payment gateway the orchestrator drives. Every
// write carries an idempotency key so a retried call is applied once.
type PaymentProvider interface {
	Name() string
	CreateCustomer(ctx context.Context, contact models.Contact, idempotencyKey string) (string, error)
	CreateOrder(ctx context.Context, order *models.Order) (string, error)
	CapturePayment(ctx context.Context, req CaptureRequest) (*PaymentResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	AttachMetadata(ctx context.Context, orderID string, metadata map[string]string) error
}

// CaptureRequest charges a payment source for an order
type CaptureRequest struct {
	IdempotencyKey string
	OrderID        string
	CustomerID     string
	SourceID       string
	Amount         decimal.Decimal
	Currency       string
	ReferenceID    string
	BuyerEmail     string
}

// PaymentResult represents the result of a payment capture
type PaymentResult struct {
	PaymentID   string
	OrderID     string
	Status      string
	Amount      decimal.Decimal
	ReceiptURL  string
	ProcessedAt time.Time
}

// RefundRequest refunds all or part of a captured payment
type RefundRequest struct {
	IdempotencyKey string
	PaymentID      string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
}

// RefundResult represents the result of a refund
type RefundResult struct {
	RefundID    string
	PaymentID   string
	Status      string
	Amount      decimal.Decimal
	ProcessedAt time.Time
}
