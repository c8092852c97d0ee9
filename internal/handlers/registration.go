package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"function-ticketing-platform/internal/middleware"
	"function-ticketing-platform/internal/models"
	"function-ticketing-platform/internal/services"
)

const maxRequestBody = 1 << 20

var tracer = otel.Tracer("function-ticketing-platform/handlers")

// RegistrationHandler serves the checkout API
type RegistrationHandler struct {
	service services.RegistrationServiceInterface
	logger  *slog.Logger
}

// NewRegistrationHandler creates a new registration handler
func NewRegistrationHandler(service services.RegistrationServiceInterface, logger *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		service: service,
		logger:  logger,
	}
}

// RegistrationResponse is returned for a completed registration
type RegistrationResponse struct {
	Success            bool   `json:"success"`
	RegistrationID     string `json:"registrationId"`
	ConfirmationNumber string `json:"confirmationNumber"`
	PaymentID          string `json:"paymentId,omitempty"`
	Subtotal           string `json:"subtotal"`
	PlatformFee        string `json:"platformFee"`
	ProviderFee        string `json:"providerFee"`
	TotalAmount        string `json:"totalAmount"`
}

// RegistrationStatusResponse describes a stored registration
type RegistrationStatusResponse struct {
	Success            bool                      `json:"success"`
	RegistrationID     string                    `json:"registrationId"`
	FunctionID         string                    `json:"functionId"`
	RegistrationType   models.RegistrationType   `json:"registrationType"`
	Status             models.RegistrationStatus `json:"status"`
	PaymentStatus      models.PaymentStatus      `json:"paymentStatus"`
	ConfirmationNumber *string                   `json:"confirmationNumber"`
	TotalAmountPaid    string                    `json:"totalAmountPaid"`
	Attendees          int                       `json:"attendees"`
	Tickets            int                       `json:"tickets"`
}

// CreateRegistration handles POST /api/registrations
func (h *RegistrationHandler) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "http.create_registration")
	defer span.End()

	var req services.RegistrationRequest
	if err := decodeStrict(w, r, &req); err != nil {
		h.logger.Info("rejected registration payload", "error", err, "request_id", middleware.GetRequestID(ctx))
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	span.SetAttributes(attribute.String("registration_type", string(req.RegistrationType)))

	result, err := h.service.Register(ctx, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegistrationResponse{
		Success:            true,
		RegistrationID:     result.RegistrationID,
		ConfirmationNumber: result.ConfirmationNumber,
		PaymentID:          result.PaymentID,
		Subtotal:           result.Fees.Subtotal.StringFixed(2),
		PlatformFee:        result.Fees.PlatformFee.StringFixed(2),
		ProviderFee:        result.Fees.ProviderFee.StringFixed(2),
		TotalAmount:        result.Fees.Total.StringFixed(2),
	})
}

// GetRegistration handles GET /api/registrations/{id}
func (h *RegistrationHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Registration id is required")
		return
	}

	reg, err := h.service.GetRegistration(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RegistrationStatusResponse{
		Success:            true,
		RegistrationID:     reg.ID,
		FunctionID:         reg.FunctionID,
		RegistrationType:   reg.Type,
		Status:             reg.Status,
		PaymentStatus:      reg.PaymentStatus,
		ConfirmationNumber: reg.ConfirmationNumber,
		TotalAmountPaid:    reg.TotalAmountPaid.StringFixed(2),
		Attendees:          len(reg.Attendees),
		Tickets:            len(reg.Tickets),
	})
}

// StatusFor maps an error to its HTTP status and errorType
func StatusFor(err error) (int, string) {
	if errors.Is(err, models.ErrRegistrationNotFound) {
		return http.StatusNotFound, "NOT_FOUND"
	}

	switch models.KindOf(err) {
	case models.KindValidation, models.KindPriceIntegrity:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case models.KindMissingCatalogReference:
		return http.StatusBadRequest, "MISSING_CATALOG_REFERENCE"
	case models.KindInsufficientInventory:
		return http.StatusBadRequest, "INVENTORY_UNAVAILABLE"
	case models.KindPaymentDeclined:
		return http.StatusPaymentRequired, "PAYMENT_FAILED"
	case models.KindPaymentTransient:
		return http.StatusBadGateway, "PAYMENT_FAILED"
	case models.KindConflict:
		return http.StatusConflict, "CONFLICT"
	default:
		return http.StatusInternalServerError, "SERVER_ERROR"
	}
}

func (h *RegistrationHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, errorType := StatusFor(err)

	message := "An unexpected error occurred. Please try again."
	var appErr *models.AppError
	switch {
	case status == http.StatusNotFound:
		message = "Registration not found"
	case status == http.StatusBadGateway:
		message = "The payment provider is unavailable. Please try again."
	case status < http.StatusInternalServerError && errors.As(err, &appErr):
		message = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("registration request failed",
			"error", err,
			"error_kind", models.KindOf(err).String(),
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
	middleware.WriteError(w, r, status, errorType, message)
}

// decodeStrict decodes a single JSON document and rejects unknown fields
func decodeStrict(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
