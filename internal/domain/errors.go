package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (sentinels). The HTTP edge maps these to status codes.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrTooLarge        = errors.New("payload too large")
	ErrRateLimited     = errors.New("rate limited")
	ErrInternal        = errors.New("internal error")

	// ErrAlreadyProcessed signals an idempotent worker exit: the
	// application already reached a final state.
	ErrAlreadyProcessed = errors.New("application already processed")
)

// Stable error-type names recorded in failed_jobs.error_type. The retry
// scheduler keys retryability off these strings, so they must not change.
const (
	ErrTypeInvalidApplicationID = "InvalidApplicationIdError"
	ErrTypeApplicationNotFound  = "ApplicationNotFoundError"
	ErrTypeValidation           = "ValidationError"
	ErrTypeBusinessRule         = "BusinessRuleViolationError"
	ErrTypeStateTransition      = "StateTransitionError"
	ErrTypeDatabaseConnection   = "DatabaseConnectionError"
	ErrTypeExternalService      = "ExternalServiceError"
	ErrTypeNetworkTimeout       = "NetworkTimeoutError"
	ErrTypeRateLimit            = "RateLimitError"
	ErrTypeProviderUnavailable  = "ProviderUnavailableError"
	ErrTypeUnknown              = "UnknownError"
)

// RetryableErrorTypes are the only failure classes the retry scheduler may
// re-enqueue from the DLQ.
var RetryableErrorTypes = map[string]bool{
	ErrTypeProviderUnavailable: true,
	ErrTypeNetworkTimeout:      true,
	ErrTypeExternalService:     true,
}

// TaskError classifies a worker failure. Permanent errors fail the job with
// no further attempts; recoverable ones ride the queue's retry machinery.
type TaskError struct {
	Type      string
	Permanent bool
	Err       error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable task failure.
func Permanent(errType string, err error) *TaskError {
	return &TaskError{Type: errType, Permanent: true, Err: err}
}

// Recoverable wraps err as a retryable task failure.
func Recoverable(errType string, err error) *TaskError {
	return &TaskError{Type: errType, Permanent: false, Err: err}
}

// Permanentf wraps a formatted message as a non-retryable task failure.
func Permanentf(errType, format string, args ...any) *TaskError {
	return Permanent(errType, fmt.Errorf(format, args...))
}

// Recoverablef wraps a formatted message as a retryable task failure.
func Recoverablef(errType, format string, args ...any) *TaskError {
	return Recoverable(errType, fmt.Errorf(format, args...))
}

// ClassifyTaskError resolves any error to its DLQ (type, permanent,
// retryable) triple. Untyped errors count as unknown and recoverable so the
// queue still gets its limited attempts.
func ClassifyTaskError(err error) (errType string, permanent bool, retryable bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Type, te.Permanent, RetryableErrorTypes[te.Type]
	}
	return ErrTypeUnknown, false, false
}
