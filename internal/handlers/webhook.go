package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"function-ticketing-platform/internal/middleware"
	"function-ticketing-platform/internal/models"
	"function-ticketing-platform/internal/services"
)

// SquareSignatureHeader carries the webhook HMAC
const SquareSignatureHeader = "X-Square-Hmacsha256-Signature"

// SignatureVerifier checks a webhook body against its signature header
type SignatureVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// WebhookHandler receives payment provider notifications
type WebhookHandler struct {
	service  services.RegistrationServiceInterface
	verifier SignatureVerifier
	dedup    services.EventDeduplicator
	metrics  *services.Metrics
	logger   *slog.Logger
}

// NewWebhookHandler creates a webhook handler. A nil verifier accepts
// unsigned notifications and is only wired in development.
func NewWebhookHandler(service services.RegistrationServiceInterface, verifier SignatureVerifier, dedup services.EventDeduplicator, metrics *services.Metrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:  service,
		verifier: verifier,
		dedup:    dedup,
		metrics:  metrics,
		logger:   logger,
	}
}

// WebhookResponse acknowledges a notification
type WebhookResponse struct {
	Received           bool   `json:"received"`
	Ignored            bool   `json:"ignored,omitempty"`
	Reason             string `json:"reason,omitempty"`
	RegistrationID     string `json:"registrationId,omitempty"`
	ConfirmationNumber string `json:"confirmationNumber,omitempty"`
}

// SquareWebhook handles POST /api/webhooks/square
func (h *WebhookHandler) SquareWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "http.square_webhook")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.record("rejected")
		middleware.WriteError(w, r, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Webhook body too large")
		return
	}

	if h.verifier != nil && !h.verifier.VerifyWebhookSignature(body, r.Header.Get(SquareSignatureHeader)) {
		h.record("invalid_signature")
		h.logger.Warn("webhook signature verification failed", "request_id", middleware.GetRequestID(ctx))
		middleware.WriteError(w, r, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid webhook signature")
		return
	}

	notice, completed, err := services.ParsePaymentNotice(body)
	if err != nil {
		h.record("rejected")
		middleware.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid webhook payload")
		return
	}
	if !completed {
		h.record("ignored")
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Ignored: true, Reason: "not a completed payment"})
		return
	}
	span.SetAttributes(
		attribute.String("event_id", notice.EventID),
		attribute.String("payment_id", notice.PaymentID),
	)

	if notice.EventID != "" && h.dedup != nil {
		seen, err := h.dedup.Seen(ctx, notice.EventID)
		if err != nil {
			h.record("failed")
			h.logger.Error("webhook deduplication failed", "event_id", notice.EventID, "error", err)
			middleware.WriteError(w, r, http.StatusInternalServerError, "SERVER_ERROR", "Failed to process webhook")
			return
		}
		if seen {
			h.record("duplicate")
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Ignored: true, Reason: "duplicate event"})
			return
		}
	}

	completion, err := h.service.CompleteFromWebhook(ctx, notice)
	if err != nil {
		if errors.Is(err, models.ErrRegistrationNotFound) {
			h.record("unknown_registration")
			h.logger.Warn("webhook for unknown registration",
				"event_id", notice.EventID,
				"order_id", notice.OrderID,
				"payment_id", notice.PaymentID,
			)
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Ignored: true, Reason: "unknown registration"})
			return
		}

		// Let the provider redeliver.
		if notice.EventID != "" && h.dedup != nil {
			if releaseErr := h.dedup.Release(ctx, notice.EventID); releaseErr != nil {
				h.logger.Error("failed to release webhook event", "event_id", notice.EventID, "error", releaseErr)
			}
		}
		h.record("failed")
		h.logger.Error("webhook completion failed",
			"event_id", notice.EventID,
			"payment_id", notice.PaymentID,
			"error_kind", models.KindOf(err).String(),
			"error", err,
		)
		status, errorType := StatusFor(err)
		if status < http.StatusInternalServerError {
			// Retrying will not change the outcome.
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Ignored: true, Reason: errorType})
			return
		}
		middleware.WriteError(w, r, status, errorType, "Failed to process webhook")
		return
	}

	if completion.Applied {
		h.record("completed")
	} else {
		h.record("already_completed")
	}
	writeJSON(w, http.StatusOK, WebhookResponse{
		Received:           true,
		RegistrationID:     completion.RegistrationID,
		ConfirmationNumber: completion.ConfirmationNumber,
	})
}

func (h *WebhookHandler) record(result string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(result).Inc()
	}
}
