// Package errors provides a structured application error type used
// across every component so that callers can branch on error kind
// instead of parsing messages, and so the HTTP surface can map a kind
// to a status code in one place.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType enumerates the kinds a component may return. These mirror
// the taxonomy in the error-handling design: validation/precondition
// failures never touch the ledger, adapter/chain failures carry their
// own recovery policy, and gate/signature failures always surface to
// the caller with actionable detail.
type ErrorType string

const (
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypePreconditionFailed  ErrorType = "precondition_failed"
	ErrorTypeGateBlocked         ErrorType = "gate_blocked"
	ErrorTypeAdapterUnavailable  ErrorType = "adapter_unavailable"
	ErrorTypeChainIntegrity      ErrorType = "chain_integrity"
	ErrorTypeChainStale          ErrorType = "chain_stale"
	ErrorTypeSignatureInsufficient ErrorType = "signature_insufficient"
	ErrorTypeCancelled           ErrorType = "cancelled"
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeConflict            ErrorType = "conflict"
	ErrorTypeInternal            ErrorType = "internal"
)

// AppError is the structured error type components return for errors a
// caller branches on. Some paths still return other error types (for
// example ledger.Open's file errors, pkg/images read/write errors, the
// store Journal's errors, and pkg/adapters.Error); those carry no Type.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int

	// InterventionIDs is populated on ErrorTypeGateBlocked so callers can
	// act on the blocking intervention without a second lookup.
	InterventionIDs []string
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails mutates and returns the same error, matching the
// chaining convention used throughout this package.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithInterventions attaches gating intervention ids to a GateBlocked error.
func (e *AppError) WithInterventions(ids ...string) *AppError {
	e.InterventionIDs = ids
	return e
}

func statusForType(t ErrorType) int {
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypePreconditionFailed:
		return http.StatusConflict
	case ErrorTypeGateBlocked:
		return http.StatusUnprocessableEntity
	case ErrorTypeAdapterUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeChainIntegrity:
		return http.StatusServiceUnavailable
	case ErrorTypeChainStale:
		return http.StatusInternalServerError
	case ErrorTypeSignatureInsufficient:
		return http.StatusUnprocessableEntity
	case ErrorTypeCancelled:
		return http.StatusRequestTimeout
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError of the given type with the default status code.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusForType(t),
	}
}

// Wrap creates an AppError carrying an underlying cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// As extracts the *AppError from err, if any.
func As(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// --- predefined constructors, mirroring common call sites ---

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewPreconditionFailed(stage, message string) *AppError {
	return New(ErrorTypePreconditionFailed, message).WithDetailsf("current stage: %s", stage)
}

func NewGateBlocked(message string, interventionIDs ...string) *AppError {
	return New(ErrorTypeGateBlocked, message).WithInterventions(interventionIDs...)
}

func NewAdapterUnavailable(adapter string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeAdapterUnavailable, "adapter %q unavailable", adapter)
}

func NewChainIntegrityError(index int64, cause error) *AppError {
	return Wrapf(cause, ErrorTypeChainIntegrity, "ledger validation failed at block %d", index)
}

func NewChainStale() *AppError {
	return New(ErrorTypeChainStale, "concurrent ledger writer conflict")
}

func NewSignatureInsufficient(have, need int) *AppError {
	return New(ErrorTypeSignatureInsufficient, "insufficient signatures").
		WithDetailsf("have %d distinct-kind signatures, need %d", have, need)
}

func NewCancelled(stage string) *AppError {
	return New(ErrorTypeCancelled, "operation cancelled").WithDetailsf("stage: %s", stage)
}

func NewNotFoundError(entity string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", entity))
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

func NewInternalError(message string, cause error) *AppError {
	return Wrap(cause, ErrorTypeInternal, message)
}
