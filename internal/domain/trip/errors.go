package trip

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("trip not found")
	ErrBidNotFound     = errors.New("driver request not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid trip state")
	ErrDuplicateBid    = errors.New("driver already requested this trip")
	ErrPriceExceedsMax = errors.New("proposed price exceeds max price")
	ErrVehicleRequired = errors.New("complete vehicle information required")
	ErrNoSeats         = errors.New("no seats available")
	ErrAlreadyPaid     = errors.New("seat already paid by another payment")
)

// FieldError carries per-field validation failures and matches ErrValidation.
type FieldError struct {
	Fields map[string]string
}

func (e *FieldError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, tag := range e.Fields {
		parts = append(parts, field+":"+tag)
	}
	sort.Strings(parts)
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

func (e *FieldError) Unwrap() error { return ErrValidation }
