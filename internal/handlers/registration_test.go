package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"function-ticketing-platform/internal/logging"
	"function-ticketing-platform/internal/middleware"
	"function-ticketing-platform/internal/models"
	"function-ticketing-platform/internal/services"
)

// MockRegistrationService is a mock implementation of RegistrationServiceInterface
type MockRegistrationService struct {
	mock.Mock
}

func (m *MockRegistrationService) Register(ctx context.Context, req *services.RegistrationRequest) (*services.RegistrationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RegistrationResult), args.Error(1)
}

func (m *MockRegistrationService) CompleteFromWebhook(ctx context.Context, notice services.PaymentNotice) (*services.Completion, error) {
	args := m.Called(ctx, notice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Completion), args.Error(1)
}

func (m *MockRegistrationService) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Registration), args.Error(1)
}

const validRegistrationBody = `{
	"functionId": "grand-installation-2026",
	"registrationType": "individual",
	"billingDetails": {"firstName": "John", "lastName": "Smith", "email": "john@example.org"},
	"attendees": [{"id": "att-1", "kind": "primary", "firstName": "John", "lastName": "Smith"}],
	"tickets": [{"id": "att-1-banquet", "attendeeId": "att-1", "isPackage": false, "price": 0}],
	"paymentSourceId": "cnon:card-nonce-ok"
}`

func newRegistrationRouter(service services.RegistrationServiceInterface) http.Handler {
	h := NewRegistrationHandler(service, logging.Discard())
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Post("/api/registrations", h.CreateRegistration)
	r.Get("/api/registrations/{id}", h.GetRegistration)
	return r
}

func postRegistration(t *testing.T, router http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/registrations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded), rr.Body.String())
	return rr, decoded
}

func TestCreateRegistration_Success(t *testing.T) {
	service := new(MockRegistrationService)
	service.On("Register", mock.Anything, mock.MatchedBy(func(req *services.RegistrationRequest) bool {
		return req.RegistrationType == models.RegistrationIndividual &&
			len(req.Selections) == 1 &&
			req.Selections[0].CatalogRef() == "banquet"
	})).Return(&services.RegistrationResult{
		RegistrationID:     "reg-1",
		ConfirmationNumber: "IND-123456AB",
		PaymentID:          "PAY-1",
		Fees: services.FeeBreakdown{
			Subtotal:    decimal.RequireFromString("150"),
			PlatformFee: decimal.RequireFromString("3"),
			ProviderFee: decimal.RequireFromString("3.67"),
			Total:       decimal.RequireFromString("156.67"),
		},
		State: services.StateDone,
	}, nil)

	rr, body := postRegistration(t, newRegistrationRouter(service), validRegistrationBody)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "reg-1", body["registrationId"])
	assert.Equal(t, "IND-123456AB", body["confirmationNumber"])
	assert.Equal(t, "156.67", body["totalAmount"])
	assert.Equal(t, "3.00", body["platformFee"])
	service.AssertExpectations(t)
}

func TestCreateRegistration_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantErrorType string
		wantMessage   string
	}{
		{
			name:          "validation",
			err:           models.NewValidationError("billing email is required"),
			wantStatus:    http.StatusBadRequest,
			wantErrorType: "VALIDATION_ERROR",
			wantMessage:   "billing email is required",
		},
		{
			name:          "missing catalog reference",
			err:           models.NewMissingCatalogReferenceError("sel-1", "ghost"),
			wantStatus:    http.StatusBadRequest,
			wantErrorType: "MISSING_CATALOG_REFERENCE",
			wantMessage:   `selection "sel-1" references unknown catalog item "ghost"`,
		},
		{
			name:          "inventory",
			err:           models.NewInsufficientInventoryError("Grand Banquet", 50, 30),
			wantStatus:    http.StatusBadRequest,
			wantErrorType: "INVENTORY_UNAVAILABLE",
			wantMessage:   "Grand Banquet is sold out (requested: 50, available: 30)",
		},
		{
			name:          "declined",
			err:           models.NewPaymentDeclinedError("card declined", errors.New("CARD_DECLINED")),
			wantStatus:    http.StatusPaymentRequired,
			wantErrorType: "PAYMENT_FAILED",
			wantMessage:   "card declined",
		},
		{
			name:          "provider unavailable",
			err:           models.NewPaymentTransientError("square unavailable", nil),
			wantStatus:    http.StatusBadGateway,
			wantErrorType: "PAYMENT_FAILED",
		},
		{
			name:          "conflict",
			err:           models.NewConflictError("registration is not completed"),
			wantStatus:    http.StatusConflict,
			wantErrorType: "CONFLICT",
		},
		{
			name:          "persistence hides details",
			err:           models.NewPersistenceError("failed to create tickets", errors.New("pq: connection refused")),
			wantStatus:    http.StatusInternalServerError,
			wantErrorType: "SERVER_ERROR",
			wantMessage:   "An unexpected error occurred. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockRegistrationService)
			service.On("Register", mock.Anything, mock.Anything).Return(nil, tt.err)

			rr, body := postRegistration(t, newRegistrationRouter(service), validRegistrationBody)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantErrorType, body["errorType"])
			assert.Equal(t, false, body["success"])
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, body["error"])
			}
		})
	}
}

func TestCreateRegistration_RejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `registration please`},
		{name: "unknown field", body: strings.Replace(validRegistrationBody, `"paymentSourceId"`, `"registrationId": "client-chosen", "paymentSourceId"`, 1)},
		{name: "trailing document", body: validRegistrationBody + `{}`},
		{name: "wrong type", body: `{"functionId": 42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockRegistrationService)

			rr, body := postRegistration(t, newRegistrationRouter(service), tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "VALIDATION_ERROR", body["errorType"])
			service.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
		})
	}
}

func TestGetRegistration(t *testing.T) {
	confirmation := "IND-123456AB"
	service := new(MockRegistrationService)
	service.On("GetRegistration", mock.Anything, "reg-1").Return(&models.Registration{
		ID:                 "reg-1",
		FunctionID:         "grand-installation-2026",
		Type:               models.RegistrationIndividual,
		Status:             models.RegistrationCompleted,
		PaymentStatus:      models.PaymentCompleted,
		ConfirmationNumber: &confirmation,
		TotalAmountPaid:    decimal.RequireFromString("156.67"),
		Tickets:            []models.Ticket{{ID: "t-1"}},
	}, nil)
	service.On("GetRegistration", mock.Anything, "missing").Return(nil, models.ErrRegistrationNotFound)

	router := newRegistrationRouter(service)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/registrations/reg-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body RegistrationStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, models.RegistrationCompleted, body.Status)
	assert.Equal(t, confirmation, *body.ConfirmationNumber)
	assert.Equal(t, "156.67", body.TotalAmountPaid)
	assert.Equal(t, 1, body.Tickets)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/registrations/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		wantStatus int
		wantDB     string
	}{
		{name: "memory mode", wantStatus: http.StatusOK, wantDB: "memory"},
		{name: "database up", db: stubPinger{}, wantStatus: http.StatusOK, wantDB: "ok"},
		{name: "database down", db: stubPinger{err: errors.New("refused")}, wantStatus: http.StatusServiceUnavailable, wantDB: "unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewHealthHandler(tt.db, "test").Health(rr, httptest.NewRequest("GET", "/health", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			var body healthResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDB, body.Database)
		})
	}
}
