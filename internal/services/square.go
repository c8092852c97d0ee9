package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"function-ticketing-platform/internal/config"
	"function-ticketing-platform/internal/models"
)

const (
	squareSandboxURL    = "https://connect.squareupsandbox.com"
	squareProductionURL = "https://connect.squareup.com"
)

// SquareService handles payments via the Square API
type SquareService struct {
	config   config.SquareConfig
	currency string
	client   *http.Client
	baseURL  string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSquareService creates a new Square payment service
func NewSquareService(cfg config.SquareConfig, payment config.PaymentConfig, logger *slog.Logger) *SquareService {
	baseURL := squareSandboxURL
	if cfg.Environment == "production" {
		baseURL = squareProductionURL
	}

	timeout := payment.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &SquareService{
		config:   cfg,
		currency: payment.Currency,
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  baseURL,
		timeout:  timeout,
		logger:   logger.With("provider", "square"),
	}
}

func (s *SquareService) Name() string {
	return "square"
}

// Money is an amount in the currency's smallest unit
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (s *SquareService) money(amount decimal.Decimal, currency string) Money {
	if currency == "" {
		currency = s.currency
	}
	return Money{Amount: models.ToMinorUnits(amount), Currency: currency}
}

// SquareError is one entry of a Square error response
type SquareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

func (e SquareError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("square %s: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("square %s", e.Code)
}

type squareErrorResponse struct {
	Errors []SquareError `json:"errors"`
}

type squareCustomerRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	GivenName      string `json:"given_name"`
	FamilyName     string `json:"family_name"`
	EmailAddress   string `json:"email_address"`
	PhoneNumber    string `json:"phone_number,omitempty"`
}

type squareCustomerResponse struct {
	Customer struct {
		ID string `json:"id"`
	} `json:"customer"`
}

// CreateCustomer creates a Square customer for the billing contact
func (s *SquareService) CreateCustomer(ctx context.Context, contact models.Contact, idempotencyKey string) (string, error) {
	req := squareCustomerRequest{
		IdempotencyKey: idempotencyKey,
		GivenName:      contact.FirstName,
		FamilyName:     contact.LastName,
		EmailAddress:   contact.Email,
		PhoneNumber:    contact.Phone,
	}

	var resp squareCustomerResponse
	if err := s.do(ctx, http.MethodPost, "/v2/customers", req, &resp); err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return resp.Customer.ID, nil
}

type squareLineItem struct {
	Name            string `json:"name"`
	Quantity        string `json:"quantity"`
	CatalogObjectID string `json:"catalog_object_id,omitempty"`
	BasePriceMoney  Money  `json:"base_price_money"`
	Note            string `json:"note,omitempty"`
}

type squareServiceCharge struct {
	Name             string `json:"name"`
	AmountMoney      Money  `json:"amount_money"`
	CalculationPhase string `json:"calculation_phase"`
}

type squareOrder struct {
	ID             string                `json:"id,omitempty"`
	Version        int64                 `json:"version,omitempty"`
	LocationID     string                `json:"location_id"`
	CustomerID     string                `json:"customer_id,omitempty"`
	ReferenceID    string                `json:"reference_id,omitempty"`
	LineItems      []squareLineItem      `json:"line_items,omitempty"`
	ServiceCharges []squareServiceCharge `json:"service_charges,omitempty"`
	Metadata       map[string]string     `json:"metadata,omitempty"`
}

type squareOrderRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	Order          squareOrder `json:"order"`
}

type squareOrderResponse struct {
	Order squareOrder `json:"order"`
}

// CreateOrder creates a Square order. Fees are added as a service charge so
// the captured amount matches the order total.
func (s *SquareService) CreateOrder(ctx context.Context, order *models.Order) (string, error) {
	locationID := order.LocationID
	if locationID == "" {
		locationID = s.config.LocationID
	}

	sq := squareOrder{
		LocationID:  locationID,
		CustomerID:  order.CustomerID,
		ReferenceID: order.ReferenceID,
		Metadata:    models.FilterMetadata(order.Metadata),
	}
	for _, li := range order.LineItems {
		sq.LineItems = append(sq.LineItems, squareLineItem{
			Name:            li.Name,
			Quantity:        fmt.Sprintf("%d", li.Quantity),
			CatalogObjectID: li.ProviderCatalogID,
			BasePriceMoney:  s.money(li.UnitPrice, ""),
			Note:            li.Note,
		})
	}
	if order.Fee.IsPositive() {
		sq.ServiceCharges = []squareServiceCharge{{
			Name:             "Booking fee",
			AmountMoney:      s.money(order.Fee, ""),
			CalculationPhase: "TOTAL_PHASE",
		}}
	}

	var resp squareOrderResponse
	err := s.do(ctx, http.MethodPost, "/v2/orders", squareOrderRequest{IdempotencyKey: order.IdempotencyKey, Order: sq}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to create order: %w", err)
	}
	return resp.Order.ID, nil
}

type squarePaymentRequest struct {
	IdempotencyKey    string `json:"idempotency_key"`
	SourceID          string `json:"source_id"`
	AmountMoney       Money  `json:"amount_money"`
	OrderID           string `json:"order_id,omitempty"`
	CustomerID        string `json:"customer_id,omitempty"`
	LocationID        string `json:"location_id,omitempty"`
	ReferenceID       string `json:"reference_id,omitempty"`
	BuyerEmailAddress string `json:"buyer_email_address,omitempty"`
	Autocomplete      bool   `json:"autocomplete"`
}

type squarePayment struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	OrderID       string `json:"order_id"`
	ReceiptURL    string `json:"receipt_url"`
	AmountMoney   Money  `json:"amount_money"`
	RefundedMoney *Money `json:"refunded_money,omitempty"`
}

// refunded reports whether any part of the payment was given back. Square
// keeps a refunded payment COMPLETED.
func (p *squarePayment) refunded() bool {
	return p.RefundedMoney != nil && p.RefundedMoney.Amount > 0
}

type squarePaymentResponse struct {
	Payment squarePayment `json:"payment"`
}

// CapturePayment charges the payment source and completes the payment
func (s *SquareService) CapturePayment(ctx context.Context, req CaptureRequest) (*PaymentResult, error) {
	body := squarePaymentRequest{
		IdempotencyKey:    req.IdempotencyKey,
		SourceID:          req.SourceID,
		AmountMoney:       s.money(req.Amount, req.Currency),
		OrderID:           req.OrderID,
		CustomerID:        req.CustomerID,
		LocationID:        s.config.LocationID,
		ReferenceID:       req.ReferenceID,
		BuyerEmailAddress: req.BuyerEmail,
		Autocomplete:      true,
	}

	var resp squarePaymentResponse
	if err := s.do(ctx, http.MethodPost, "/v2/payments", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to capture payment: %w", err)
	}

	switch resp.Payment.Status {
	case "COMPLETED", "APPROVED":
	default:
		return nil, models.NewPaymentDeclinedError(
			fmt.Sprintf("payment %s returned status %s", resp.Payment.ID, resp.Payment.Status), nil)
	}

	return &PaymentResult{
		PaymentID:   resp.Payment.ID,
		OrderID:     resp.Payment.OrderID,
		Status:      resp.Payment.Status,
		Amount:      models.FromMinorUnits(resp.Payment.AmountMoney.Amount),
		ReceiptURL:  resp.Payment.ReceiptURL,
		ProcessedAt: time.Now(),
	}, nil
}

type squareRefundRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	PaymentID      string `json:"payment_id"`
	AmountMoney    Money  `json:"amount_money"`
	Reason         string `json:"reason,omitempty"`
}

type squareRefundResponse struct {
	Refund struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		PaymentID   string `json:"payment_id"`
		AmountMoney Money  `json:"amount_money"`
	} `json:"refund"`
}

// Refund refunds a captured payment
func (s *SquareService) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := squareRefundRequest{
		IdempotencyKey: req.IdempotencyKey,
		PaymentID:      req.PaymentID,
		AmountMoney:    s.money(req.Amount, req.Currency),
		Reason:         req.Reason,
	}

	var resp squareRefundResponse
	if err := s.do(ctx, http.MethodPost, "/v2/refunds", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}

	return &RefundResult{
		RefundID:    resp.Refund.ID,
		PaymentID:   resp.Refund.PaymentID,
		Status:      resp.Refund.Status,
		Amount:      models.FromMinorUnits(resp.Refund.AmountMoney.Amount),
		ProcessedAt: time.Now(),
	}, nil
}

// AttachMetadata merges metadata into an existing order. Square requires the
// current order version for updates.
func (s *SquareService) AttachMetadata(ctx context.Context, orderID string, metadata map[string]string) error {
	var current squareOrderResponse
	if err := s.do(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, &current); err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}

	merged := make(map[string]string, len(current.Order.Metadata)+len(metadata))
	for k, v := range current.Order.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}

	update := squareOrderRequest{
		IdempotencyKey: uuid.NewString(),
		Order: squareOrder{
			LocationID: current.Order.LocationID,
			Version:    current.Order.Version,
			Metadata:   models.FilterMetadata(merged),
		},
	}
	if err := s.do(ctx, http.MethodPut, "/v2/orders/"+orderID, update, nil); err != nil {
		return fmt.Errorf("failed to update order metadata: %w", err)
	}
	return nil
}

// do sends one request with its own deadline and maps failures to payment
// error kinds.
func (s *SquareService) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return models.NewInternalError("failed to marshal square request", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return models.NewInternalError("failed to create square request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.AccessToken)
	req.Header.Set("Square-Version", s.config.APIVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("square request failed", "method", method, "path", path, "error", err)
		return models.NewPaymentTransientError("payment provider unreachable", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.NewPaymentTransientError("failed to read square response", err)
	}

	s.logger.Debug("square request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifySquareError(resp.StatusCode, bodyBytes)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return models.NewInternalError("failed to decode square response", err)
	}
	return nil
}

// classifySquareError maps a Square error response to a payment error kind.
// Rate limits, timeouts and server errors are transient; everything else is
// terminal.
func classifySquareError(statusCode int, body []byte) error {
	var parsed squareErrorResponse
	var cause error
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		errs := make([]error, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			errs = append(errs, e)
		}
		cause = errors.Join(errs...)
	} else {
		cause = fmt.Errorf("API error (status %d): %s", statusCode, strings.TrimSpace(string(body)))
	}

	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		return models.NewPaymentTransientError(fmt.Sprintf("payment provider returned %d", statusCode), cause)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return models.NewInternalError("payment provider rejected credentials", cause)
	default:
		return models.NewPaymentDeclinedError(declineMessage(parsed.Errors), cause)
	}
}

func declineMessage(errs []SquareError) string {
	for _, e := range errs {
		switch e.Code {
		case "CARD_DECLINED", "GENERIC_DECLINE":
			return "card declined"
		case "INSUFFICIENT_FUNDS":
			return "insufficient funds"
		case "CVV_FAILURE":
			return "card security code was rejected"
		case "ADDRESS_VERIFICATION_FAILURE":
			return "card address verification failed"
		case "INVALID_EXPIRATION", "EXPIRATION_FAILURE":
			return "card has expired or has an invalid expiration date"
		}
	}
	return "payment was rejected by the provider"
}

// VerifyWebhookSignature verifies a Square webhook signature: base64
// HMAC-SHA256 over the notification URL followed by the raw body.
func (s *SquareService) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifySquareSignature(s.config.WebhookSignatureKey, s.config.WebhookURL, payload, signature)
}

// VerifySquareSignature checks signature against key, url and payload
func VerifySquareSignature(key, url string, payload []byte, signature string) bool {
	if key == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(url))
	mac.Write(payload)
	expectedSignature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// SquareWebhookEvent is the envelope of a Square webhook notification
type SquareWebhookEvent struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Payment *squarePayment `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// ParsePaymentNotice decodes a payment webhook. It reports false for event
// types, payment statuses and refunded payments that do not complete a
// registration.
func ParsePaymentNotice(body []byte) (PaymentNotice, bool, error) {
	var event SquareWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return PaymentNotice{}, false, fmt.Errorf("failed to decode webhook: %w", err)
	}

	if event.Type != "payment.updated" && event.Type != "payment.created" {
		return PaymentNotice{EventID: event.EventID}, false, nil
	}

	payment := event.Data.Object.Payment
	if payment == nil {
		return PaymentNotice{}, false, errors.New("payment webhook has no payment object")
	}

	notice := PaymentNotice{
		EventID:   event.EventID,
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Amount:    models.FromMinorUnits(payment.AmountMoney.Amount),
	}
	return notice, payment.Status == "COMPLETED" && !payment.refunded(), nil
}
