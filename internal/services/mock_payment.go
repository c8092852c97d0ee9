package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"function-ticketing-platform/internal/models"
)

// Payment steps that can be scripted to fail on the mock provider
const (
	StepCreateCustomer = "create_customer"
	StepCreateOrder    = "create_order"
	StepCapture        = "capture"
	StepRefund         = "refund"
	StepAttachMetadata = "attach_metadata"
)

// MockPaymentService is an in-process payment provider used when no Square
// credentials are configured, and by tests. Ids are deterministic and
// failures can be scripted per step.
type MockPaymentService struct {
	mu       sync.Mutex
	logger   *slog.Logger
	failures map[string][]error
	calls    []string
	seq      int

	Orders   map[string]*models.Order
	Captures []CaptureRequest
	Refunds  []RefundRequest
	Metadata map[string]map[string]string

	// idempotency keys already applied, mapped to the id they produced
	applied map[string]string
}

// NewMockPaymentService creates a mock payment provider
func NewMockPaymentService(logger *slog.Logger) *MockPaymentService {
	return &MockPaymentService{
		logger:   logger,
		failures: make(map[string][]error),
		Orders:   make(map[string]*models.Order),
		Metadata: make(map[string]map[string]string),
		applied:  make(map[string]string),
	}
}

func (s *MockPaymentService) Name() string {
	return "mock"
}

// FailNext queues errors returned by the next calls of step, in order
func (s *MockPaymentService) FailNext(step string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[step] = append(s.failures[step], errs...)
}

// Calls returns the steps called so far
func (s *MockPaymentService) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many times step was called
func (s *MockPaymentService) CallCount(step string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == step {
			n++
		}
	}
	return n
}

// begin records a call and pops a scripted failure. Callers hold s.mu.
func (s *MockPaymentService) begin(step string) error {
	s.calls = append(s.calls, step)
	if queued := s.failures[step]; len(queued) > 0 {
		s.failures[step] = queued[1:]
		return queued[0]
	}
	return nil
}

func (s *MockPaymentService) nextID(prefix, idempotencyKey string) string {
	if id, ok := s.applied[prefix+idempotencyKey]; ok && idempotencyKey != "" {
		return id
	}
	s.seq++
	id := fmt.Sprintf("mock_%s_%04d", prefix, s.seq)
	if idempotencyKey != "" {
		s.applied[prefix+idempotencyKey] = id
	}
	return id
}

func (s *MockPaymentService) CreateCustomer(ctx context.Context, contact models.Contact, idempotencyKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(StepCreateCustomer); err != nil {
		return "", err
	}
	return s.nextID("cust", idempotencyKey), nil
}

func (s *MockPaymentService) CreateOrder(ctx context.Context, order *models.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(StepCreateOrder); err != nil {
		return "", err
	}
	id := s.nextID("order", order.IdempotencyKey)
	copied := *order
	s.Orders[id] = &copied
	return id, nil
}

func (s *MockPaymentService) CapturePayment(ctx context.Context, req CaptureRequest) (*PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(StepCapture); err != nil {
		return nil, err
	}
	s.Captures = append(s.Captures, req)

	if s.logger != nil {
		s.logger.Info("mock payment captured",
			"order_id", req.OrderID,
			"amount", req.Amount.StringFixed(2),
			"currency", req.Currency,
		)
	}

	return &PaymentResult{
		PaymentID:   s.nextID("pay", req.IdempotencyKey),
		OrderID:     req.OrderID,
		Status:      "COMPLETED",
		Amount:      req.Amount,
		ProcessedAt: time.Now(),
	}, nil
}

func (s *MockPaymentService) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(StepRefund); err != nil {
		return nil, err
	}
	s.Refunds = append(s.Refunds, req)

	return &RefundResult{
		RefundID:    s.nextID("refund", req.IdempotencyKey),
		PaymentID:   req.PaymentID,
		Status:      "PENDING",
		Amount:      req.Amount,
		ProcessedAt: time.Now(),
	}, nil
}

func (s *MockPaymentService) AttachMetadata(ctx context.Context, orderID string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(StepAttachMetadata); err != nil {
		return err
	}
	s.Metadata[orderID] = models.FilterMetadata(metadata)
	return nil
}
