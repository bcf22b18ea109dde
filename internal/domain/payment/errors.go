package payment

import "errors"

var (
	ErrValidation       = errors.New("validation error")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("payment not found")
	ErrTripNotFound     = errors.New("trip not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidState     = errors.New("trip is not awaiting payment")
	ErrNoSeats          = errors.New("no seats available")
	ErrPaymentExists    = errors.New("payment already exists for this trip")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrAmountMismatch   = errors.New("amount mismatch")
)
