package models

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RegistrationType is the discriminator of a registration request.
type RegistrationType string

const (
	RegistrationIndividual RegistrationType = "individual"
	RegistrationLodge      RegistrationType = "lodge"
	RegistrationDelegation RegistrationType = "delegation"
)

// IsValid returns true for the supported registration types
func (t RegistrationType) IsValid() bool {
	switch t {
	case RegistrationIndividual, RegistrationLodge, RegistrationDelegation:
		return true
	}
	return false
}

// IsBulk returns true when one buyer purchases on behalf of several attendees
func (t RegistrationType) IsBulk() bool {
	return t == RegistrationLodge || t == RegistrationDelegation
}

// RegistrationStatus represents the lifecycle state of a registration
type RegistrationStatus string

const (
	RegistrationUnpaid    RegistrationStatus = "unpaid"
	RegistrationCompleted RegistrationStatus = "completed"
	RegistrationFailed    RegistrationStatus = "failed"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

// PaymentStatus represents the payment state of a registration
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// AttendeeKind distinguishes the buyer from the people registered with them.
type AttendeeKind string

const (
	AttendeePrimary    AttendeeKind = "primary"
	AttendeeAdditional AttendeeKind = "additional"
)

// Contact is the billing contact for a registration.
type Contact struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

var contactEmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Validate validates the billing contact
func (c *Contact) Validate() error {
	if strings.TrimSpace(c.FirstName) == "" || strings.TrimSpace(c.LastName) == "" {
		return errors.New("billing first and last name are required")
	}

	if strings.TrimSpace(c.Email) == "" {
		return errors.New("billing email is required")
	}

	if !contactEmailRegex.MatchString(c.Email) {
		return errors.New("billing email format is invalid")
	}

	return nil
}

// FullName returns first and last name joined by a space
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// LodgeDetails describes the lodge a bulk registration is made for.
type LodgeDetails struct {
	LodgeName   string `json:"lodgeName"`
	LodgeNumber string `json:"lodgeNumber"`
	GrandLodge  string `json:"grandLodge"`
}

// Validate validates the lodge details
func (l *LodgeDetails) Validate() error {
	if strings.TrimSpace(l.LodgeName) == "" {
		return errors.New("lodge name is required")
	}
	if strings.TrimSpace(l.GrandLodge) == "" {
		return errors.New("grand lodge is required")
	}
	return nil
}

// Attendee is a person registered for a function.
type Attendee struct {
	ID             string       `json:"id" db:"id"`
	RegistrationID string       `json:"registration_id" db:"registration_id"`
	Kind           AttendeeKind `json:"kind" db:"kind"`
	Title          string       `json:"title,omitempty" db:"title"`
	FirstName      string       `json:"first_name" db:"first_name"`
	LastName       string       `json:"last_name" db:"last_name"`
	Email          string       `json:"email,omitempty" db:"email"`
	PartnerOf      string       `json:"partner_of,omitempty" db:"partner_of"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// Ticket is one purchased catalog item for one attendee. PricePaid is
// captured at purchase time and never changes afterwards.
type Ticket struct {
	ID             string          `json:"id" db:"id"`
	RegistrationID string          `json:"registration_id" db:"registration_id"`
	AttendeeID     string          `json:"attendee_id" db:"attendee_id"`
	CatalogItemID  string          `json:"catalog_item_id" db:"catalog_item_id"`
	PackageID      string          `json:"package_id,omitempty" db:"package_id"`
	PricePaid      decimal.Decimal `json:"price_paid" db:"price_paid"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Registration is the persisted aggregate for one registration attempt.
type Registration struct {
	ID                 string             `json:"id" db:"id"`
	FunctionID         string             `json:"function_id" db:"function_id"`
	Type               RegistrationType   `json:"registration_type" db:"registration_type"`
	Status             RegistrationStatus `json:"status" db:"status"`
	PaymentStatus      PaymentStatus      `json:"payment_status" db:"payment_status"`
	ConfirmationNumber *string            `json:"confirmation_number" db:"confirmation_number"`
	ContactEmail       string             `json:"contact_email" db:"contact_email"`
	ContactName        string             `json:"contact_name" db:"contact_name"`
	ProviderCustomerID string             `json:"provider_customer_id,omitempty" db:"provider_customer_id"`
	ProviderOrderID    string             `json:"provider_order_id,omitempty" db:"provider_order_id"`
	PaymentID          string             `json:"payment_id,omitempty" db:"payment_id"`
	Subtotal           decimal.Decimal    `json:"subtotal" db:"subtotal"`
	PlatformFee        decimal.Decimal    `json:"platform_fee" db:"platform_fee"`
	ProviderFee        decimal.Decimal    `json:"provider_fee" db:"provider_fee"`
	TotalAmountPaid    decimal.Decimal    `json:"total_amount_paid" db:"total_amount_paid"`
	Metadata           map[string]string  `json:"metadata,omitempty" db:"metadata"`
	Attendees          []Attendee         `json:"attendees,omitempty"`
	Tickets            []Ticket           `json:"tickets,omitempty"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// IsCompleted returns true if the registration has been paid and completed
func (r *Registration) IsCompleted() bool {
	return r.Status == RegistrationCompleted
}

// IsPending returns true while the registration awaits payment
func (r *Registration) IsPending() bool {
	return r.Status == RegistrationUnpaid && r.PaymentStatus == PaymentPending
}

// IsRefunded returns true once a captured payment has been given back
func (r *Registration) IsRefunded() bool {
	return r.PaymentStatus == PaymentRefunded
}

// CanComplete returns true if paymentID may move the registration to
// completed. A completed registration never transitions again, and one whose
// payment was refunded never completes.
func (r *Registration) CanComplete(paymentID string) bool {
	return r.Status != RegistrationCompleted && !r.IsRefunded() && paymentID != ""
}

// SoldCounts returns the units each catalog record sells when the tickets
// complete. Included items count one per ticket. An expanded package counts
// once per purchase; every purchase yields one ticket per included item, so
// the purchase count is the largest ticket count of any of its items.
func SoldCounts(tickets []Ticket) map[string]int {
	counts := make(map[string]int)
	perItem := make(map[string]map[string]int)
	for _, t := range tickets {
		counts[t.CatalogItemID]++
		if t.PackageID == "" {
			continue
		}
		if perItem[t.PackageID] == nil {
			perItem[t.PackageID] = make(map[string]int)
		}
		perItem[t.PackageID][t.CatalogItemID]++
	}
	for pkgID, items := range perItem {
		for _, n := range items {
			counts[pkgID] = max(counts[pkgID], n)
		}
	}
	return counts
}

// GetConfirmationNumber returns the confirmation number or an empty string
func (r *Registration) GetConfirmationNumber() string {
	if r.ConfirmationNumber == nil {
		return ""
	}
	return *r.ConfirmationNumber
}

// RegistrationDraft is what the finalizer persists before any payment call.
type RegistrationDraft struct {
	FunctionID  string
	Type        RegistrationType
	Contact     Contact
	Subtotal    decimal.Decimal
	PlatformFee decimal.Decimal
	ProviderFee decimal.Decimal
	Total       decimal.Decimal
	Metadata    map[string]string
	Attendees   []Attendee
	LineItems   []ResolvedLineItem
}

// CompletionAmounts are the settled monetary fields written on completion.
type CompletionAmounts struct {
	Subtotal    decimal.Decimal
	PlatformFee decimal.Decimal
	ProviderFee decimal.Decimal
	Total       decimal.Decimal
}

// ConfirmationPrefixes maps registration types to confirmation number
// prefixes.
type ConfirmationPrefixes map[RegistrationType]string

// DefaultConfirmationPrefixes are used when no prefixes are configured.
var DefaultConfirmationPrefixes = ConfirmationPrefixes{
	RegistrationIndividual: "IND",
	RegistrationLodge:      "LDG",
	RegistrationDelegation: "DEL",
}

// Prefix returns the prefix for t, falling back to the default set
func (p ConfirmationPrefixes) Prefix(t RegistrationType) string {
	if prefix, ok := p[t]; ok && prefix != "" {
		return prefix
	}
	return DefaultConfirmationPrefixes[t]
}

const confirmationLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"

var confirmationNumberRegex = regexp.MustCompile(`^[A-Z]{2,5}-\d{6}[A-Z]{2}$`)

// GenerateConfirmationNumber generates a number like IND-123456AB
func GenerateConfirmationNumber(prefix string) string {
	digits, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		// Fallback to timestamp-based generation if crypto/rand fails
		digits = big.NewInt(time.Now().UnixNano() % 1000000)
	}

	letters := make([]byte, 2)
	for i := range letters {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(confirmationLetters))))
		if err != nil {
			n = big.NewInt(time.Now().UnixNano() % int64(len(confirmationLetters)))
		}
		letters[i] = confirmationLetters[n.Int64()]
	}

	return fmt.Sprintf("%s-%06d%s", prefix, digits.Int64(), letters)
}

// IsValidConfirmationNumber checks the general confirmation number format
func IsValidConfirmationNumber(number string) bool {
	return confirmationNumberRegex.MatchString(number)
}

// MatchesConfirmationPrefix checks format and prefix together
func MatchesConfirmationPrefix(number, prefix string) bool {
	return IsValidConfirmationNumber(number) && strings.HasPrefix(number, prefix+"-")
}
