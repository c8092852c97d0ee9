package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"function-ticketing-platform/internal/models"
)

// MemoryCatalog is an in-process catalog source used when no database is
// configured and in tests.
type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[string]*models.CatalogItem
}

// NewMemoryCatalog creates a catalog holding copies of the given items
func NewMemoryCatalog(items ...*models.CatalogItem) *MemoryCatalog {
	c := &MemoryCatalog{items: make(map[string]*models.CatalogItem)}
	for _, item := range items {
		c.put(item)
	}
	return c
}

func (c *MemoryCatalog) put(item *models.CatalogItem) {
	copied := *item
	copied.Includes = append([]string(nil), item.Includes...)
	if existing, ok := c.items[item.ID]; ok {
		copied.Sold = existing.Sold
	}
	c.items[item.ID] = &copied
}

func (c *MemoryCatalog) get(id string, pkg bool) (*models.CatalogItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok || item.IsPackage != pkg {
		return nil, false
	}
	copied := *item
	copied.Includes = append([]string(nil), item.Includes...)
	return &copied, true
}

func (c *MemoryCatalog) GetCatalogItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	item, ok := c.get(id, false)
	if !ok {
		return nil, fmt.Errorf("catalog item %s: %w", id, models.ErrCatalogItemNotFound)
	}
	return item, nil
}

func (c *MemoryCatalog) GetPackage(ctx context.Context, id string) (*models.CatalogItem, error) {
	item, ok := c.get(id, true)
	if !ok {
		return nil, fmt.Errorf("package %s: %w", id, models.ErrPackageNotFound)
	}
	return item, nil
}

func (c *MemoryCatalog) ListCatalogItems(ctx context.Context, functionID string) ([]*models.CatalogItem, error) {
	return c.list(functionID, false), nil
}

func (c *MemoryCatalog) ListPackages(ctx context.Context, functionID string) ([]*models.CatalogItem, error) {
	return c.list(functionID, true), nil
}

func (c *MemoryCatalog) list(functionID string, pkg bool) []*models.CatalogItem {
	c.mu.RLock()
	ids := make([]string, 0, len(c.items))
	for id, item := range c.items {
		if item.FunctionID == functionID && item.IsPackage == pkg {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()

	sort.Strings(ids)
	items := make([]*models.CatalogItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := c.get(id, pkg); ok {
			items = append(items, item)
		}
	}
	return items
}

func (c *MemoryCatalog) GetAvailableQuantity(ctx context.Context, id string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok {
		return 0, fmt.Errorf("catalog item %s: %w", id, models.ErrCatalogItemNotFound)
	}
	return item.Available(), nil
}

func (c *MemoryCatalog) UpsertFunction(ctx context.Context, fn *models.Function) error {
	return nil
}

func (c *MemoryCatalog) UpsertCatalogItem(ctx context.Context, item *models.CatalogItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(item)
	return nil
}

// commitSold applies all counts or none, with the same stock condition as
// the SQL implementation.
func (c *MemoryCatalog) commitSold(counts map[string]int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		item, ok := c.items[id]
		if !ok {
			return fmt.Errorf("catalog item %s: %w", id, models.ErrCatalogItemNotFound)
		}
		if item.Quantity-item.Sold < counts[id] {
			return models.NewInsufficientInventoryError(item.Name, counts[id], item.Available())
		}
	}
	for _, id := range ids {
		c.items[id].Sold += counts[id]
	}
	return nil
}

func (c *MemoryCatalog) releaseSold(counts map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, n := range counts {
		if item, ok := c.items[id]; ok {
			item.Sold = max(item.Sold-n, 0)
		}
	}
}

// MemoryRegistrationStore keeps registrations and outbox events in memory.
// It enforces the same completion and confirmation guards as the SQL store.
type MemoryRegistrationStore struct {
	mu            sync.Mutex
	catalog       *MemoryCatalog
	registrations map[string]*models.Registration
	events        []*models.OutboxEvent
	nextEventID   int64
	now           func() time.Time
}

// NewMemoryRegistrationStore creates a store that commits sold counts to catalog
func NewMemoryRegistrationStore(catalog *MemoryCatalog) *MemoryRegistrationStore {
	return &MemoryRegistrationStore{
		catalog:       catalog,
		registrations: make(map[string]*models.Registration),
		now:           time.Now,
	}
}

func cloneRegistration(reg *models.Registration) *models.Registration {
	copied := *reg
	if reg.ConfirmationNumber != nil {
		number := *reg.ConfirmationNumber
		copied.ConfirmationNumber = &number
	}
	copied.Metadata = make(map[string]string, len(reg.Metadata))
	for k, v := range reg.Metadata {
		copied.Metadata[k] = v
	}
	copied.Attendees = append([]models.Attendee(nil), reg.Attendees...)
	copied.Tickets = append([]models.Ticket(nil), reg.Tickets...)
	return &copied
}

func (s *MemoryRegistrationStore) CreateRegistration(ctx context.Context, draft *models.RegistrationDraft) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	reg := &models.Registration{
		ID:            uuid.NewString(),
		FunctionID:    draft.FunctionID,
		Type:          draft.Type,
		Status:        models.RegistrationUnpaid,
		PaymentStatus: models.PaymentPending,
		ContactEmail:  draft.Contact.Email,
		ContactName:   draft.Contact.FullName(),
		Subtotal:      draft.Subtotal,
		PlatformFee:   draft.PlatformFee,
		ProviderFee:   draft.ProviderFee,
		Metadata:      models.FilterMetadata(draft.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.registrations[reg.ID] = reg
	return reg.ID, nil
}

func (s *MemoryRegistrationStore) CreateAttendees(ctx context.Context, registrationID string, attendees []models.Attendee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[registrationID]
	if !ok {
		return models.ErrRegistrationNotFound
	}
	for _, a := range attendees {
		a.RegistrationID = registrationID
		a.CreatedAt = s.now()
		reg.Attendees = append(reg.Attendees, a)
	}
	return nil
}

func (s *MemoryRegistrationStore) CreateTickets(ctx context.Context, registrationID string, tickets []models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[registrationID]
	if !ok {
		return models.ErrRegistrationNotFound
	}
	for _, t := range tickets {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.RegistrationID = registrationID
		t.CreatedAt = s.now()
		reg.Tickets = append(reg.Tickets, t)
	}
	return nil
}

func (s *MemoryRegistrationStore) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return nil, models.ErrRegistrationNotFound
	}
	return cloneRegistration(reg), nil
}

func (s *MemoryRegistrationStore) FindByProviderOrderID(ctx context.Context, orderID string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if orderID == "" {
		return nil, models.ErrRegistrationNotFound
	}
	for _, reg := range s.registrations {
		if reg.ProviderOrderID == orderID {
			return cloneRegistration(reg), nil
		}
	}
	return nil, models.ErrRegistrationNotFound
}

func (s *MemoryRegistrationStore) FindByPaymentID(ctx context.Context, paymentID string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if paymentID == "" {
		return nil, models.ErrRegistrationNotFound
	}
	for _, reg := range s.registrations {
		if reg.PaymentID == paymentID {
			return cloneRegistration(reg), nil
		}
	}
	return nil, models.ErrRegistrationNotFound
}

func (s *MemoryRegistrationStore) SetProviderRefs(ctx context.Context, id, customerID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return models.ErrRegistrationNotFound
	}
	reg.ProviderCustomerID = customerID
	reg.ProviderOrderID = orderID
	reg.UpdatedAt = s.now()
	return nil
}

func (s *MemoryRegistrationStore) MarkFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if ok && reg.Status == models.RegistrationUnpaid {
		reg.Status = models.RegistrationFailed
		reg.PaymentStatus = models.PaymentFailed
		reg.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryRegistrationStore) MarkCompleted(ctx context.Context, id, paymentID string, amounts models.CompletionAmounts) (bool, error) {
	if paymentID == "" {
		return false, models.NewValidationError("payment id is required to complete a registration")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return false, models.ErrRegistrationNotFound
	}
	if !reg.CanComplete(paymentID) {
		return false, nil
	}

	if s.catalog != nil {
		if err := s.catalog.commitSold(models.SoldCounts(reg.Tickets)); err != nil {
			return false, err
		}
	}

	reg.Status = models.RegistrationCompleted
	reg.PaymentStatus = models.PaymentCompleted
	reg.PaymentID = paymentID
	reg.Subtotal = amounts.Subtotal
	reg.PlatformFee = amounts.PlatformFee
	reg.ProviderFee = amounts.ProviderFee
	reg.TotalAmountPaid = amounts.Total
	reg.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryRegistrationStore) MarkRefunded(ctx context.Context, id, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return models.ErrRegistrationNotFound
	}
	if reg.ConfirmationNumber != nil {
		return models.NewConflictError("registration is already confirmed")
	}

	if reg.Status == models.RegistrationCompleted && s.catalog != nil {
		s.catalog.releaseSold(models.SoldCounts(reg.Tickets))
	}
	reg.Status = models.RegistrationFailed
	reg.PaymentStatus = models.PaymentRefunded
	reg.PaymentID = paymentID
	reg.UpdatedAt = s.now()
	return nil
}

func (s *MemoryRegistrationStore) AssignConfirmationNumber(ctx context.Context, id string, generate func() string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return "", models.ErrRegistrationNotFound
	}
	if reg.ConfirmationNumber != nil {
		return *reg.ConfirmationNumber, nil
	}
	if reg.Status != models.RegistrationCompleted {
		return "", models.NewConflictError("registration is not completed")
	}

	for attempt := 0; attempt < maxConfirmationAttempts; attempt++ {
		candidate := generate()
		if s.confirmationTaken(candidate) {
			continue
		}

		now := s.now()
		reg.ConfirmationNumber = &candidate
		reg.UpdatedAt = now

		event, err := models.NewRegistrationCompletedEvent(reg, now)
		if err != nil {
			reg.ConfirmationNumber = nil
			return "", fmt.Errorf("failed to build completion event: %w", err)
		}
		s.nextEventID++
		event.ID = s.nextEventID
		s.events = append(s.events, event)

		return candidate, nil
	}

	return "", fmt.Errorf("failed to generate a unique confirmation number after %d attempts", maxConfirmationAttempts)
}

func (s *MemoryRegistrationStore) confirmationTaken(number string) bool {
	for _, reg := range s.registrations {
		if reg.ConfirmationNumber != nil && *reg.ConfirmationNumber == number {
			return true
		}
	}
	return false
}

func (s *MemoryRegistrationStore) ExpirePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	var expired int64
	for _, reg := range s.registrations {
		if reg.IsPending() && reg.CreatedAt.Before(cutoff) {
			reg.Status = models.RegistrationCancelled
			reg.UpdatedAt = s.now()
			expired++
		}
	}
	return expired, nil
}

// LockEvents hands out pending events. Leases are not tracked since a single
// process owns the store.
func (s *MemoryRegistrationStore) LockEvents(ctx context.Context, batchSize int, lease time.Duration) ([]models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []models.OutboxEvent
	for _, e := range s.events {
		if len(batch) == batchSize {
			break
		}
		if e.Status == models.OutboxPending {
			e.Status = models.OutboxProcessing
			batch = append(batch, *e)
		}
	}
	return batch, nil
}

func (s *MemoryRegistrationStore) MarkEventsSent(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent := make(map[int64]bool, len(ids))
	for _, id := range ids {
		sent[id] = true
	}
	for _, e := range s.events {
		if sent[e.ID] {
			e.Status = models.OutboxSent
		}
	}
	return nil
}

func (s *MemoryRegistrationStore) MarkEventFailed(ctx context.Context, id int64, errMsg string, retryAfter time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ID != id {
			continue
		}
		e.Attempts++
		e.LastError = errMsg
		e.Status = models.OutboxPending
		if e.Attempts >= maxOutboxAttempts {
			e.Status = models.OutboxFailed
		}
	}
	return nil
}

// Events returns a snapshot of all outbox events
func (s *MemoryRegistrationStore) Events() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]models.OutboxEvent, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, *e)
	}
	return events
}
