package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a rejection for callers that map errors to responses.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInvalidState     Kind = "invalid_state"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindUnauthorized     Kind = "unauthorized"
	KindValidation       Kind = "validation"
	KindConflict         Kind = "conflict"
)

// Error is a typed rejection. Two errors match under errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Available is set on capacity rejections to the units that were free.
	Available int
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Code so that sentinels compare equal to enriched copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInstrumentNotFound   = &Error{Kind: KindNotFound, Code: "INSTRUMENT_NOT_FOUND", Message: "instrument not found"}
	ErrNotAvailable         = &Error{Kind: KindInvalidState, Code: "INSTRUMENT_NOT_AVAILABLE", Message: "instrument is not available"}
	ErrDuplicateCheckout    = &Error{Kind: KindInvalidState, Code: "DUPLICATE_CHECKOUT", Message: "you are already using this instrument"}
	ErrInsufficientCapacity = &Error{Kind: KindCapacityExceeded, Code: "INSUFFICIENT_CAPACITY", Message: "insufficient capacity"}
	ErrNoActiveCheckout     = &Error{Kind: KindInvalidState, Code: "NO_ACTIVE_CHECKOUT", Message: "user is not currently using this instrument"}
	ErrInUse                = &Error{Kind: KindInvalidState, Code: "INSTRUMENT_IN_USE", Message: "cannot delete instrument that is currently being used"}
	ErrInvalidQuantity      = &Error{Kind: KindValidation, Code: "INVALID_QUANTITY", Message: "quantity must be at least 1"}
	ErrInvalidCapacity      = &Error{Kind: KindValidation, Code: "INVALID_CAPACITY", Message: "capacity must not be negative"}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized, Code: "FORBIDDEN", Message: "operation requires administrator role"}
	ErrConflict             = &Error{Kind: KindConflict, Code: "CONFLICT", Message: "instrument was modified concurrently, please retry"}
)

// insufficientCapacity reports the exact free units at the time of the check.
func insufficientCapacity(available int) *Error {
	return &Error{
		Kind:      KindCapacityExceeded,
		Code:      ErrInsufficientCapacity.Code,
		Message:   fmt.Sprintf("insufficient capacity, available: %d", available),
		Available: available,
	}
}

// Validation builds a validation error with a custom message.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for an arbitrary entity.
func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// KindOf returns the Kind of err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
