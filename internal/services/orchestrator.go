package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"function-ticketing-platform/internal/models"
)

// RegistrationState is a step of one registration attempt
type RegistrationState string

const (
	StateInit             RegistrationState = "INIT"
	StateCustomerCreated  RegistrationState = "CUSTOMER_CREATED"
	StateOrderCreated     RegistrationState = "ORDER_CREATED"
	StateInventoryOK      RegistrationState = "INVENTORY_OK"
	StatePaymentCaptured  RegistrationState = "PAYMENT_CAPTURED"
	StateMetadataAttached RegistrationState = "METADATA_ATTACHED"
	StateDone             RegistrationState = "DONE"
	StateFailed           RegistrationState = "FAILED"
)

// AttendeeInput is an attendee as sent by the client. ID is only used to
// link selections and partners; the server assigns its own ids.
type AttendeeInput struct {
	ID        string              `json:"id"`
	Kind      models.AttendeeKind `json:"kind"`
	Title     string              `json:"title,omitempty"`
	FirstName string              `json:"firstName"`
	LastName  string              `json:"lastName"`
	Email     string              `json:"email,omitempty"`
	PartnerOf string              `json:"partnerOf,omitempty"`
}

// RegistrationRequest is a validated checkout request
type RegistrationRequest struct {
	FunctionID       string                  `json:"functionId"`
	RegistrationType models.RegistrationType `json:"registrationType"`
	Contact          models.Contact          `json:"billingDetails"`
	Lodge            *models.LodgeDetails    `json:"lodgeDetails,omitempty"`
	Attendees        []AttendeeInput         `json:"attendees"`
	Selections       []models.CartSelection  `json:"tickets"`
	PaymentSourceID  string                  `json:"paymentSourceId"`
	Metadata         map[string]string       `json:"metadata,omitempty"`
}

// Validate checks the request shape before any lookup or external call
func (r *RegistrationRequest) Validate() error {
	if strings.TrimSpace(r.FunctionID) == "" {
		return models.NewValidationError("function id is required")
	}
	if !r.RegistrationType.IsValid() {
		return models.NewValidationError(fmt.Sprintf("unsupported registration type %q", r.RegistrationType))
	}
	if err := r.Contact.Validate(); err != nil {
		return models.NewValidationError(err.Error())
	}
	if strings.TrimSpace(r.PaymentSourceID) == "" {
		return models.NewValidationError("payment source is required")
	}
	if len(r.Attendees) == 0 {
		return models.NewValidationError("at least one attendee is required")
	}
	if len(r.Selections) == 0 {
		return models.NewValidationError("at least one ticket selection is required")
	}

	ids := make(map[string]bool, len(r.Attendees))
	primaries := 0
	for i, a := range r.Attendees {
		if a.ID == "" {
			return models.NewValidationError(fmt.Sprintf("attendee %d is missing an id", i))
		}
		if ids[a.ID] {
			return models.NewValidationError(fmt.Sprintf("attendee id %q is repeated", a.ID))
		}
		ids[a.ID] = true
		if strings.TrimSpace(a.FirstName) == "" || strings.TrimSpace(a.LastName) == "" {
			return models.NewValidationError(fmt.Sprintf("attendee %d first and last name are required", i))
		}
		switch a.Kind {
		case models.AttendeePrimary:
			primaries++
		case models.AttendeeAdditional, "":
		default:
			return models.NewValidationError(fmt.Sprintf("attendee %d has unknown kind %q", i, a.Kind))
		}
	}
	if primaries > 1 {
		return models.NewValidationError("only one primary attendee is allowed")
	}
	for _, a := range r.Attendees {
		if a.PartnerOf != "" && (!ids[a.PartnerOf] || a.PartnerOf == a.ID) {
			return models.NewValidationError(fmt.Sprintf("attendee %q is a partner of an unknown attendee", a.ID))
		}
	}

	hasPackage := false
	for i, sel := range r.Selections {
		if !ids[sel.AttendeeID] {
			return models.NewValidationError(fmt.Sprintf("ticket %d is not assigned to a known attendee", i))
		}
		if sel.ID == "" && sel.CatalogItemID == "" {
			return models.NewValidationError(fmt.Sprintf("ticket %d has no catalog reference", i))
		}
		hasPackage = hasPackage || sel.IsPackage
	}

	if r.RegistrationType == models.RegistrationLodge {
		if r.Lodge == nil {
			return models.NewValidationError("lodge details are required for lodge registrations")
		}
		if err := r.Lodge.Validate(); err != nil {
			return models.NewValidationError(err.Error())
		}
		if !hasPackage {
			return models.NewValidationError("lodge registrations must select at least one package")
		}
	}

	return nil
}

// RegistrationResult is returned for a completed registration
type RegistrationResult struct {
	RegistrationID     string
	ConfirmationNumber string
	PaymentID          string
	Fees               FeeBreakdown
	State              RegistrationState
}

// PaymentNotice is a provider notification that a payment completed
type PaymentNotice struct {
	EventID   string
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
}

// OrchestratorDeps wires the orchestrator's collaborators
type OrchestratorDeps struct {
	Catalog   CatalogSource
	Provider  PaymentProvider
	Finalizer *Finalizer
	Inventory *InventoryGuard
	Builder   *OrderBuilder
	Fees      *FeeCalculator
	Retry     RetryPolicy
	Archive   ReconciliationArchive
	Metrics   *Metrics
	Logger    *slog.Logger
	Currency  string
}

// Orchestrator runs a registration from cart to confirmation number
type Orchestrator struct {
	catalog   CatalogSource
	provider  PaymentProvider
	finalizer *Finalizer
	inventory *InventoryGuard
	builder   *OrderBuilder
	fees      *FeeCalculator
	retry     RetryPolicy
	archive   ReconciliationArchive
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	currency  string
}

// NewOrchestrator creates a payment orchestrator
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		catalog:   deps.Catalog,
		provider:  deps.Provider,
		finalizer: deps.Finalizer,
		inventory: deps.Inventory,
		builder:   deps.Builder,
		fees:      deps.Fees,
		retry:     deps.Retry,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		tracer:    otel.Tracer("function-ticketing-platform/registration"),
		currency:  deps.Currency,
	}
	if o.metrics != nil && o.retry.OnRetry == nil {
		o.retry.OnRetry = func(op string, attempt int, err error) {
			o.metrics.ProviderRetries.WithLabelValues(op).Inc()
			o.logger.Warn("retrying payment provider call", "step", op, "attempt", attempt, "error", err)
		}
	}
	return o
}

// attempt tracks one registration through the state machine
type attempt struct {
	state          RegistrationState
	registrationID string
	customerID     string
	orderID        string
	paymentID      string
	amount         decimal.Decimal
}

func (o *Orchestrator) advance(ctx context.Context, a *attempt, next RegistrationState) {
	a.state = next
	trace.SpanFromContext(ctx).AddEvent("state", trace.WithAttributes(attribute.String("state", string(next))))
	o.logger.Debug("registration state", "registration_id", a.registrationID, "state", next)
}

// Register validates, prices, persists and pays for a registration. Nothing
// is sent to the payment provider until every selection is priced from the
// catalog and stock is available.
func (o *Orchestrator) Register(ctx context.Context, req *RegistrationRequest) (*RegistrationResult, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "registration.register",
		trace.WithAttributes(
			attribute.String("function_id", req.FunctionID),
			attribute.String("registration_type", string(req.RegistrationType)),
		))
	defer span.End()

	result, err := o.register(ctx, req)

	outcome := "completed"
	if err != nil {
		outcome = models.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if o.metrics != nil {
		o.metrics.Registrations.WithLabelValues(string(req.RegistrationType), outcome).Inc()
		o.metrics.Duration.WithLabelValues(string(req.RegistrationType)).
			Observe(float64(time.Since(start).Milliseconds()))
	}
	return result, err
}

func (o *Orchestrator) register(ctx context.Context, req *RegistrationRequest) (*RegistrationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	catalogItems, err := o.catalog.ListCatalogItems(ctx, req.FunctionID)
	if err != nil {
		return nil, models.NewInternalError("failed to load catalog items", err)
	}
	packages, err := o.catalog.ListPackages(ctx, req.FunctionID)
	if err != nil {
		return nil, models.NewInternalError("failed to load packages", err)
	}

	attendees, selections := serverAttendees(req)

	items := ExpandSelections(selections, models.NewCatalogIndex(catalogItems), models.NewCatalogIndex(packages))
	if unverified := UnverifiedItems(items); len(unverified) > 0 {
		for _, item := range unverified {
			o.logger.Warn("price integrity warning: selection priced from client",
				"selection_id", item.SelectionID,
				"catalog_item_id", item.CatalogItemID,
				"client_price", item.Price.String(),
			)
			if o.metrics != nil {
				o.metrics.PriceFallbacks.Inc()
			}
		}
		return nil, models.NewMissingCatalogReferenceError(unverified[0].SelectionID, unverified[0].CatalogItemID)
	}

	pricing := ValidatePricing(items)
	if err := pricing.Err(); err != nil {
		return nil, err
	}
	fees := o.fees.Calculate(pricing.TotalValue)

	metadata := baseMetadata(req)
	byAttendee := models.GroupByAttendee(items)
	input := OrderInput{
		RegistrationType:    req.RegistrationType,
		Attendees:           attendees,
		LineItemsByAttendee: byAttendee,
		Contact:             req.Contact,
		Metadata:            metadata,
		Fee:                 fees.FeeTotal(),
	}

	// Check stock on the locally built order before anything is persisted.
	preview, err := o.builder.BuildOrder(input)
	if err != nil {
		return nil, err
	}
	if err := o.inventory.CheckOrder(ctx, preview); err != nil {
		return nil, err
	}

	regID, err := o.finalizer.CreateDraft(ctx, &models.RegistrationDraft{
		FunctionID:  req.FunctionID,
		Type:        req.RegistrationType,
		Contact:     req.Contact,
		Subtotal:    fees.Subtotal,
		PlatformFee: fees.PlatformFee,
		ProviderFee: fees.ProviderFee,
		Total:       fees.Total,
		Metadata:    metadata,
		Attendees:   attendees,
		LineItems:   items,
	})
	if err != nil {
		return nil, err
	}

	a := &attempt{state: StateInit, registrationID: regID}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("registration_id", regID))

	customerKey := uuid.NewString()
	err = o.step(ctx, StepCreateCustomer, func(ctx context.Context) error {
		id, err := o.provider.CreateCustomer(ctx, req.Contact, customerKey)
		a.customerID = id
		return err
	})
	if err != nil {
		return nil, o.fail(ctx, a, err)
	}
	o.advance(ctx, a, StateCustomerCreated)

	input.RegistrationID = regID
	input.CustomerID = a.customerID
	order, err := o.builder.BuildOrder(input)
	if err != nil {
		return nil, o.fail(ctx, a, err)
	}

	err = o.step(ctx, StepCreateOrder, func(ctx context.Context) error {
		id, err := o.provider.CreateOrder(ctx, order)
		a.orderID = id
		return err
	})
	if err != nil {
		return nil, o.fail(ctx, a, err)
	}
	if err := o.finalizer.store.SetProviderRefs(ctx, regID, a.customerID, a.orderID); err != nil {
		return nil, o.fail(ctx, a, models.NewPersistenceError("failed to record provider order", err))
	}
	o.advance(ctx, a, StateOrderCreated)

	if err := o.inventory.CheckOrder(ctx, order); err != nil {
		return nil, o.fail(ctx, a, err)
	}
	o.advance(ctx, a, StateInventoryOK)

	a.amount = order.Total()
	captureKey := uuid.NewString()
	var payment *PaymentResult
	err = o.step(ctx, StepCapture, func(ctx context.Context) error {
		var err error
		payment, err = o.provider.CapturePayment(ctx, CaptureRequest{
			IdempotencyKey: captureKey,
			OrderID:        a.orderID,
			CustomerID:     a.customerID,
			SourceID:       req.PaymentSourceID,
			Amount:         a.amount,
			Currency:       o.currency,
			ReferenceID:    regID,
			BuyerEmail:     req.Contact.Email,
		})
		return err
	})
	if err != nil {
		return nil, o.fail(ctx, a, err)
	}
	a.paymentID = payment.PaymentID
	o.advance(ctx, a, StatePaymentCaptured)

	// The payment is irreversible from here; later failures are compensated
	// and the caller's cancellation no longer applies.
	ctx = context.WithoutCancel(ctx)

	err = o.step(ctx, StepAttachMetadata, func(ctx context.Context) error {
		return o.provider.AttachMetadata(ctx, a.orderID, order.Metadata)
	})
	if err != nil {
		o.compensate(ctx, a, req, err)
		return nil, err
	}
	o.advance(ctx, a, StateMetadataAttached)

	completion, err := o.finalizer.Complete(ctx, regID, a.paymentID, models.CompletionAmounts{
		Subtotal:    fees.Subtotal,
		PlatformFee: fees.PlatformFee,
		ProviderFee: fees.ProviderFee,
		Total:       a.amount,
	})
	if err != nil {
		o.compensate(ctx, a, req, err)
		if models.KindOf(err) == models.KindInsufficientInventory {
			return nil, err
		}
		return nil, models.NewPersistenceError("payment captured but the registration could not be completed", err)
	}
	o.advance(ctx, a, StateDone)

	return &RegistrationResult{
		RegistrationID:     regID,
		ConfirmationNumber: completion.ConfirmationNumber,
		PaymentID:          a.paymentID,
		Fees:               fees,
		State:              a.state,
	}, nil
}

// step runs one provider call in its own span with the retry policy
func (o *Orchestrator) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "payment."+name,
		trace.WithAttributes(attribute.String("provider", o.provider.Name())))
	defer span.End()

	err := o.retry.Do(ctx, name, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// fail handles a failure before capture: nothing to undo, so the
// registration is only marked failed.
func (o *Orchestrator) fail(ctx context.Context, a *attempt, cause error) error {
	o.logger.Warn("registration failed",
		"registration_id", a.registrationID,
		"state", a.state,
		"error_kind", models.KindOf(cause).String(),
		"error", cause,
	)
	o.advance(ctx, a, StateFailed)

	if err := o.finalizer.Fail(context.WithoutCancel(ctx), a.registrationID); err != nil {
		o.logger.Error("failed to mark registration failed", "registration_id", a.registrationID, "error", err)
	}
	return cause
}

// compensate refunds a captured payment after a later failure. When the
// refund fails, or the failure means a charge may exist without a completed
// registration, a reconciliation record is archived.
func (o *Orchestrator) compensate(ctx context.Context, a *attempt, req *RegistrationRequest, cause error) {
	stage := a.state
	o.logger.Error("compensating captured payment",
		"registration_id", a.registrationID,
		"payment_id", a.paymentID,
		"state", stage,
		"error", cause,
	)
	o.advance(ctx, a, StateFailed)

	refundKey := uuid.NewString()
	var refundErr error
	err := o.step(ctx, StepRefund, func(ctx context.Context) error {
		_, err := o.provider.Refund(ctx, RefundRequest{
			IdempotencyKey: refundKey,
			PaymentID:      a.paymentID,
			Amount:         a.amount,
			Currency:       o.currency,
			Reason:         "registration could not be completed",
		})
		return err
	})
	result := "refunded"
	if err != nil {
		refundErr = err
		result = "failed"
		o.logger.Error("compensating refund failed",
			"registration_id", a.registrationID,
			"payment_id", a.paymentID,
			"error", err,
		)
	}
	if o.metrics != nil {
		o.metrics.Refunds.WithLabelValues(result).Inc()
	}

	if refundErr != nil || models.KindOf(cause) == models.KindPersistence || errors.Is(cause, models.ErrRegistrationNotFound) {
		o.archiveRecord(ctx, a, req, string(stage), cause, refundErr)
	}

	if refundErr == nil {
		if err := o.finalizer.Refunded(ctx, a.registrationID, a.paymentID); err != nil {
			o.logger.Error("failed to mark registration refunded", "registration_id", a.registrationID, "error", err)
		}
		return
	}
	if err := o.finalizer.Fail(ctx, a.registrationID); err != nil {
		o.logger.Error("failed to mark registration failed", "registration_id", a.registrationID, "error", err)
	}
}

func (o *Orchestrator) archiveRecord(ctx context.Context, a *attempt, req *RegistrationRequest, stage string, cause, refundErr error) {
	if o.archive == nil {
		return
	}

	record := &ReconciliationRecord{
		RegistrationID: a.registrationID,
		Provider:       o.provider.Name(),
		OrderID:        a.orderID,
		PaymentID:      a.paymentID,
		Amount:         a.amount,
		Currency:       o.currency,
		Stage:          stage,
		Cause:          cause.Error(),
		RecordedAt:     time.Now().UTC(),
	}
	if req != nil {
		record.FunctionID = req.FunctionID
		record.ContactEmail = req.Contact.Email
	}
	if refundErr != nil {
		record.RefundError = refundErr.Error()
	}

	key, err := o.archive.Archive(ctx, record)
	if err != nil {
		o.logger.Error("failed to archive reconciliation record",
			"registration_id", a.registrationID,
			"payment_id", a.paymentID,
			"error", err,
		)
		return
	}
	o.logger.Warn("reconciliation record archived", "registration_id", a.registrationID, "key", key)
}

// CompleteFromWebhook completes the registration behind a provider payment
// notification. It is idempotent with the synchronous path.
func (o *Orchestrator) CompleteFromWebhook(ctx context.Context, notice PaymentNotice) (*Completion, error) {
	ctx, span := o.tracer.Start(ctx, "registration.complete_from_webhook",
		trace.WithAttributes(
			attribute.String("order_id", notice.OrderID),
			attribute.String("payment_id", notice.PaymentID),
		))
	defer span.End()

	if notice.PaymentID == "" {
		return nil, models.NewValidationError("payment notification has no payment id")
	}

	var reg *models.Registration
	var err error
	if notice.OrderID != "" {
		reg, err = o.finalizer.store.FindByProviderOrderID(ctx, notice.OrderID)
	} else {
		reg, err = o.finalizer.store.FindByPaymentID(ctx, notice.PaymentID)
	}
	if err != nil {
		if errors.Is(err, models.ErrRegistrationNotFound) {
			return nil, fmt.Errorf("no registration for order %q payment %q: %w", notice.OrderID, notice.PaymentID, err)
		}
		return nil, models.NewPersistenceError("failed to find registration", err)
	}

	total := notice.Amount
	if !total.IsPositive() {
		total = o.fees.Calculate(reg.Subtotal).Total
	}

	completion, err := o.finalizer.Complete(ctx, reg.ID, notice.PaymentID, models.CompletionAmounts{
		Subtotal:    reg.Subtotal,
		PlatformFee: reg.PlatformFee,
		ProviderFee: reg.ProviderFee,
		Total:       total,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if models.KindOf(err) == models.KindInsufficientInventory {
			o.compensate(context.WithoutCancel(ctx), &attempt{
				state:          StatePaymentCaptured,
				registrationID: reg.ID,
				customerID:     reg.ProviderCustomerID,
				orderID:        notice.OrderID,
				paymentID:      notice.PaymentID,
				amount:         total,
			}, nil, err)
		}
		return nil, err
	}
	return completion, nil
}

// GetRegistration returns a registration by id
func (o *Orchestrator) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	return o.finalizer.Get(ctx, id)
}

// ExpirePending cancels stale unpaid registrations
func (o *Orchestrator) ExpirePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	return o.finalizer.ExpirePending(ctx, olderThan)
}

// serverAttendees assigns server ids to attendees and rewrites selections to
// reference them. Catalog references are resolved against the client ids
// first, since legacy composite ids embed them.
func serverAttendees(req *RegistrationRequest) ([]models.Attendee, []models.CartSelection) {
	ids := make(map[string]string, len(req.Attendees))
	for _, a := range req.Attendees {
		ids[a.ID] = uuid.NewString()
	}

	attendees := make([]models.Attendee, 0, len(req.Attendees))
	hasPrimary := false
	for _, a := range req.Attendees {
		hasPrimary = hasPrimary || a.Kind == models.AttendeePrimary
	}
	for i, a := range req.Attendees {
		kind := a.Kind
		if kind == "" {
			kind = models.AttendeeAdditional
			if !hasPrimary && i == 0 {
				kind = models.AttendeePrimary
			}
		}
		attendees = append(attendees, models.Attendee{
			ID:        ids[a.ID],
			Kind:      kind,
			Title:     a.Title,
			FirstName: strings.TrimSpace(a.FirstName),
			LastName:  strings.TrimSpace(a.LastName),
			Email:     a.Email,
			PartnerOf: ids[a.PartnerOf],
		})
	}

	selections := make([]models.CartSelection, 0, len(req.Selections))
	for _, sel := range req.Selections {
		ref := sel.CatalogRef()
		sel.CatalogItemID = ref
		sel.AttendeeID = ids[sel.AttendeeID]
		selections = append(selections, sel)
	}
	return attendees, selections
}

func baseMetadata(req *RegistrationRequest) map[string]string {
	metadata := make(map[string]string, len(req.Metadata)+5)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[models.MetaFunctionID] = req.FunctionID
	metadata[models.MetaRegistrationType] = string(req.RegistrationType)
	if req.Lodge != nil {
		metadata[models.MetaLodgeName] = req.Lodge.LodgeName
		metadata[models.MetaLodgeNumber] = req.Lodge.LodgeNumber
		metadata[models.MetaGrandLodge] = req.Lodge.GrandLodge
	}
	return models.FilterMetadata(metadata)
}
