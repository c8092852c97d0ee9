package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"function-ticketing-platform/internal/models"
)

// maxConfirmationAttempts bounds regeneration on unique index collisions
const maxConfirmationAttempts = 5

// RegistrationRepository persists registrations, attendees and tickets
type RegistrationRepository struct {
	db *sql.DB
}

// NewRegistrationRepository creates a new registration repository
func NewRegistrationRepository(db *sql.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `id, function_id, registration_type, status, payment_status, confirmation_number,
	contact_email, contact_name, provider_customer_id, provider_order_id, payment_id,
	subtotal, platform_fee, provider_fee, total_amount_paid, metadata, created_at, updated_at`

func scanRegistration(row rowScanner) (*models.Registration, error) {
	reg := &models.Registration{}
	var confirmation sql.NullString
	var metadata []byte

	err := row.Scan(
		&reg.ID,
		&reg.FunctionID,
		&reg.Type,
		&reg.Status,
		&reg.PaymentStatus,
		&confirmation,
		&reg.ContactEmail,
		&reg.ContactName,
		&reg.ProviderCustomerID,
		&reg.ProviderOrderID,
		&reg.PaymentID,
		&reg.Subtotal,
		&reg.PlatformFee,
		&reg.ProviderFee,
		&reg.TotalAmountPaid,
		&metadata,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if confirmation.Valid {
		reg.ConfirmationNumber = &confirmation.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &reg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode registration metadata: %w", err)
		}
	}

	return reg, nil
}

// CreateRegistration inserts an unpaid/pending registration with a
// server-generated id and returns that id.
func (r *RegistrationRepository) CreateRegistration(ctx context.Context, draft *models.RegistrationDraft) (string, error) {
	metadata, err := json.Marshal(models.FilterMetadata(draft.Metadata))
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO registrations (
			id, function_id, registration_type, status, payment_status,
			contact_email, contact_name, subtotal, platform_fee, provider_fee,
			metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id,
		draft.FunctionID,
		draft.Type,
		models.RegistrationUnpaid,
		models.PaymentPending,
		draft.Contact.Email,
		draft.Contact.FullName(),
		draft.Subtotal,
		draft.PlatformFee,
		draft.ProviderFee,
		metadata,
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create registration: %w", err)
	}

	return id, nil
}

// CreateAttendees inserts the attendees of a registration in one transaction
func (r *RegistrationRepository) CreateAttendees(ctx context.Context, registrationID string, attendees []models.Attendee) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Partners reference other attendees, so insert without the relation first.
	for _, a := range attendees {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attendees (id, registration_id, kind, title, first_name, last_name, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, registrationID, a.Kind, a.Title, a.FirstName, a.LastName, a.Email)
		if err != nil {
			return fmt.Errorf("failed to create attendee: %w", err)
		}
	}

	for _, a := range attendees {
		if a.PartnerOf == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE attendees SET partner_of = $2 WHERE id = $1`, a.ID, a.PartnerOf)
		if err != nil {
			return fmt.Errorf("failed to link partner attendee: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attendees: %w", err)
	}

	return nil
}

// CreateTickets inserts tickets. price_paid is written once here and no
// statement in this package updates it.
func (r *RegistrationRepository) CreateTickets(ctx context.Context, registrationID string, tickets []models.Ticket) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tickets {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (id, registration_id, attendee_id, catalog_item_id, package_id, price_paid)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, registrationID, t.AttendeeID, t.CatalogItemID, t.PackageID, t.PricePaid)
		if err != nil {
			return fmt.Errorf("failed to create ticket: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tickets: %w", err)
	}

	return nil
}

// GetRegistration retrieves a registration with its attendees and tickets
func (r *RegistrationRepository) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrRegistrationNotFound
	}

	reg, err := scanRegistration(r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}

	if reg.Attendees, err = r.listAttendees(ctx, id); err != nil {
		return nil, err
	}
	if reg.Tickets, err = r.listTickets(ctx, id); err != nil {
		return nil, err
	}

	return reg, nil
}

func (r *RegistrationRepository) listAttendees(ctx context.Context, registrationID string) ([]models.Attendee, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, registration_id, kind, title, first_name, last_name, email, COALESCE(partner_of::text, ''), created_at
		FROM attendees
		WHERE registration_id = $1
		ORDER BY created_at, id`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}
	defer rows.Close()

	var attendees []models.Attendee
	for rows.Next() {
		var a models.Attendee
		if err := rows.Scan(&a.ID, &a.RegistrationID, &a.Kind, &a.Title, &a.FirstName, &a.LastName, &a.Email, &a.PartnerOf, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendee: %w", err)
		}
		attendees = append(attendees, a)
	}

	return attendees, rows.Err()
}

func (r *RegistrationRepository) listTickets(ctx context.Context, registrationID string) ([]models.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, registration_id, attendee_id, catalog_item_id, package_id, price_paid, created_at
		FROM tickets
		WHERE registration_id = $1
		ORDER BY created_at, id`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.RegistrationID, &t.AttendeeID, &t.CatalogItemID, &t.PackageID, &t.PricePaid, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}

	return tickets, rows.Err()
}

// FindByProviderOrderID resolves the registration a provider order belongs to
func (r *RegistrationRepository) FindByProviderOrderID(ctx context.Context, orderID string) (*models.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE provider_order_id = $1 AND provider_order_id <> ''`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to find registration by order: %w", err)
	}
	return reg, nil
}

// FindByPaymentID resolves the registration a captured payment belongs to
func (r *RegistrationRepository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE payment_id = $1 AND payment_id <> ''`, paymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to find registration by payment: %w", err)
	}
	return reg, nil
}

// SetProviderRefs records the provider customer and order ids
func (r *RegistrationRepository) SetProviderRefs(ctx context.Context, id, customerID, orderID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET provider_customer_id = $2, provider_order_id = $3, updated_at = $4
		WHERE id = $1`, id, customerID, orderID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set provider references: %w", err)
	}
	return requireAffected(res, models.ErrRegistrationNotFound)
}

// MarkFailed moves an unfinished registration to failed. Completed
// registrations are left untouched.
func (r *RegistrationRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET status = $2, payment_status = $3, updated_at = $4
		WHERE id = $1 AND status = $5`,
		id, models.RegistrationFailed, models.PaymentFailed, time.Now(), models.RegistrationUnpaid)
	if err != nil {
		return fmt.Errorf("failed to mark registration failed: %w", err)
	}
	return nil
}

// MarkCompleted transitions a registration to completed/completed and commits
// ticket sold counts in the same transaction. The update is guarded by the
// current status, the refund marker and a non-empty payment id, so a second
// caller gets applied=false and no error.
func (r *RegistrationRepository) MarkCompleted(ctx context.Context, id, paymentID string, amounts models.CompletionAmounts) (bool, error) {
	if paymentID == "" {
		return false, models.NewValidationError("payment id is required to complete a registration")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE registrations
		SET status = $2, payment_status = $3, payment_id = $4,
			subtotal = $5, platform_fee = $6, provider_fee = $7, total_amount_paid = $8,
			updated_at = $9
		WHERE id = $1 AND status <> $2 AND payment_status <> $10 AND $4 <> ''`,
		id,
		models.RegistrationCompleted,
		models.PaymentCompleted,
		paymentID,
		amounts.Subtotal,
		amounts.PlatformFee,
		amounts.ProviderFee,
		amounts.Total,
		time.Now(),
		models.PaymentRefunded,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark registration completed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM registrations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check registration: %w", err)
		}
		if !exists {
			return false, models.ErrRegistrationNotFound
		}
		return false, nil
	}

	if err := commitSold(ctx, tx, id); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit completion: %w", err)
	}

	return true, nil
}

// MarkRefunded records that paymentID was refunded. The registration fails
// and can never complete afterwards. A registration completed without a
// confirmation number gives its sold counts back; a confirmed one is left
// untouched and reported as a conflict.
func (r *RegistrationRepository) MarkRefunded(ctx context.Context, id, paymentID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status models.RegistrationStatus
	var confirmation sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT status, confirmation_number FROM registrations WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &confirmation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrRegistrationNotFound
		}
		return fmt.Errorf("failed to lock registration: %w", err)
	}
	if confirmation.Valid {
		return models.NewConflictError("registration is already confirmed")
	}

	if status == models.RegistrationCompleted {
		if err := releaseSold(ctx, tx, id); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE registrations
		SET status = $2, payment_status = $3, payment_id = $4, updated_at = $5
		WHERE id = $1`,
		id, models.RegistrationFailed, models.PaymentRefunded, paymentID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark registration refunded: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refund: %w", err)
	}
	return nil
}

// AssignConfirmationNumber sets the confirmation number of a completed
// registration once. Later callers get the number the first writer stored.
// The first writer also enqueues the registration.completed outbox event.
func (r *RegistrationRepository) AssignConfirmationNumber(ctx context.Context, id string, generate func() string) (string, error) {
	for attempt := 0; attempt < maxConfirmationAttempts; attempt++ {
		number, err := r.tryAssignConfirmation(ctx, id, generate())
		if err == nil {
			return number, nil
		}
		if !isUniqueViolation(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("failed to generate a unique confirmation number after %d attempts", maxConfirmationAttempts)
}

func (r *RegistrationRepository) tryAssignConfirmation(ctx context.Context, id, candidate string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE registrations
		SET confirmation_number = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND confirmation_number IS NULL`,
		id, candidate, now, models.RegistrationCompleted)
	if err != nil {
		return "", err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read affected rows: %w", err)
	}

	reg, err := scanRegistration(tx.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrRegistrationNotFound
		}
		return "", fmt.Errorf("failed to reload registration: %w", err)
	}

	if affected == 0 {
		if reg.ConfirmationNumber == nil {
			return "", models.NewConflictError("registration is not completed")
		}
		return *reg.ConfirmationNumber, nil
	}

	event, err := models.NewRegistrationCompletedEvent(reg, now)
	if err != nil {
		return "", fmt.Errorf("failed to build completion event: %w", err)
	}
	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit confirmation number: %w", err)
	}

	return candidate, nil
}

// ExpirePending cancels unpaid registrations created before the cutoff and
// returns how many were cancelled.
func (r *RegistrationRepository) ExpirePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET status = $1, updated_at = $2
		WHERE status = $3 AND payment_status = $4 AND created_at < $5`,
		models.RegistrationCancelled, time.Now(), models.RegistrationUnpaid, models.PaymentPending,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to expire registrations: %w", err)
	}

	return res.RowsAffected()
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
