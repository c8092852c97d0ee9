package models

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application
var (
	ErrCatalogItemNotFound  = errors.New("catalog item not found")
	ErrPackageNotFound      = errors.New("package not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrFunctionNotFound     = errors.New("function not found")
	ErrDuplicateEntry       = errors.New("duplicate entry")
)

// ErrorKind is the closed set of failure categories the registration flow
// distinguishes. Callers switch on the kind to decide between retrying,
// compensating and failing.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindPriceIntegrity
	KindMissingCatalogReference
	KindInsufficientInventory
	KindPaymentTransient
	KindPaymentDeclined
	KindPersistence
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPriceIntegrity:
		return "price_integrity"
	case KindMissingCatalogReference:
		return "missing_catalog_reference"
	case KindInsufficientInventory:
		return "insufficient_inventory"
	case KindPaymentTransient:
		return "payment_transient"
	case KindPaymentDeclined:
		return "payment_declined"
	case KindPersistence:
		return "persistence"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// AppError carries a kind, a user-facing message and the underlying cause.
type AppError struct {
	Kind     ErrorKind
	Message  string
	ItemName string
	Err      error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first AppError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a transient provider failure.
// Validation, inventory and declined payments are never retried.
func IsRetryable(err error) bool {
	return KindOf(err) == KindPaymentTransient
}

func NewValidationError(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

func NewMissingCatalogReferenceError(selectionID, catalogItemID string) *AppError {
	return &AppError{
		Kind:    KindMissingCatalogReference,
		Message: fmt.Sprintf("selection %q references unknown catalog item %q", selectionID, catalogItemID),
	}
}

func NewInsufficientInventoryError(itemName string, requested, available int) *AppError {
	return &AppError{
		Kind:     KindInsufficientInventory,
		Message:  fmt.Sprintf("%s is sold out (requested: %d, available: %d)", itemName, requested, available),
		ItemName: itemName,
	}
}

func NewPaymentTransientError(message string, err error) *AppError {
	return &AppError{Kind: KindPaymentTransient, Message: message, Err: err}
}

func NewPaymentDeclinedError(message string, err error) *AppError {
	return &AppError{Kind: KindPaymentDeclined, Message: message, Err: err}
}

func NewPersistenceError(message string, err error) *AppError {
	return &AppError{Kind: KindPersistence, Message: message, Err: err}
}

func NewConflictError(message string) *AppError {
	return &AppError{Kind: KindConflict, Message: message}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}
