package shared

import (
	"errors"
	"fmt"
)

// Error kinds shared by every domain package. Callers match with errors.Is.
var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState marks an operation that is not legal in the entity's current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrNotFound marks an entity that is absent or outside the caller's tenant/branch scope.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock marks a ledger debit larger than the balance on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientQuantity marks an issue larger than the line's outstanding approved quantity.
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	// ErrOverReturn marks a return that would exceed the quantity received.
	ErrOverReturn = errors.New("return exceeds received quantity")
	// ErrDuplicateProcurement marks an indent that already has a purchase order in flight.
	ErrDuplicateProcurement = errors.New("indent already raised on a purchase order")
	// ErrForbidden marks a failed capability check.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated marks a request without a resolvable principal.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrBranchContextRequired marks a mutating call without a branch by a branch-scoped principal.
	ErrBranchContextRequired = errors.New("branch context required")
	// ErrInternal marks unexpected failures, including exhausted conflict retries.
	ErrInternal = errors.New("internal error")
)

// Validationf builds an ErrValidation-wrapped error with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidStatef builds an ErrInvalidState-wrapped error with a formatted reason.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// QuantityError carries the offending quantities of a business-invariant violation.
type QuantityError struct {
	Kind      error
	ItemID    int64
	Requested float64
	Available float64
	// Returned is set for over-return violations only.
	Returned float64
}

func (e *QuantityError) Error() string {
	switch e.Kind {
	case ErrOverReturn:
		return fmt.Sprintf("%s: item %d received %s, already returned %s, requested %s",
			e.Kind, e.ItemID, FormatQty(e.Available), FormatQty(e.Returned), FormatQty(e.Requested))
	default:
		return fmt.Sprintf("%s: item %d requested %s, available %s",
			e.Kind, e.ItemID, FormatQty(e.Requested), FormatQty(e.Available))
	}
}

// Unwrap exposes the error kind.
func (e *QuantityError) Unwrap() error { return e.Kind }

// InsufficientStock builds a QuantityError for a failed ledger debit.
func InsufficientStock(itemID int64, requested, available float64) error {
	return &QuantityError{Kind: ErrInsufficientStock, ItemID: itemID, Requested: requested, Available: available}
}

// InsufficientQuantity builds a QuantityError for an over-issue.
func InsufficientQuantity(itemID int64, requested, available float64) error {
	return &QuantityError{Kind: ErrInsufficientQuantity, ItemID: itemID, Requested: requested, Available: available}
}

// OverReturn builds a QuantityError for a return beyond the received quantity.
func OverReturn(itemID int64, requested, received, returned float64) error {
	return &QuantityError{Kind: ErrOverReturn, ItemID: itemID, Requested: requested, Available: received, Returned: returned}
}
