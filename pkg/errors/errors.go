package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("resource conflict")
	ErrInternal           = errors.New("internal server error")
	ErrExternalFailure    = errors.New("external dependency failure")
	ErrTemporaryFailure   = errors.New("temporary failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// Kind classifies an error for callers and transport mapping
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindNotFound   Kind = "NotFound"
	KindConflict   Kind = "Conflict"
	KindExternal   Kind = "ExternalFailure"
	KindInternal   Kind = "Internal"
)

// Stable error codes surfaced to clients
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeInvalidQuantity  = "INVALID_QUANTITY"
	CodePriceMismatch    = "PRICE_MISMATCH"
	CodeOutOfStock       = "OUT_OF_STOCK"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeNotFound         = "NOT_FOUND"
	CodeProductNotFound  = "PRODUCT_NOT_FOUND"
	CodeCustomerNotFound = "CUSTOMER_NOT_FOUND"
	CodeOrderNotFound    = "ORDER_NOT_FOUND"
	CodePaymentNotFound  = "PAYMENT_NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeAlreadyFinalized = "ALREADY_FINALIZED"
	CodeInvalidState     = "INVALID_STATE"
	CodeTransitionDenied = "TRANSITION_DENIED"
	CodeExternalFailure  = "EXTERNAL_FAILURE"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL"
	CodeTypeMismatch     = "TYPE_MISMATCH"
)

// ContextCurrent is the context key holding the unchanged state of the resource an operation was refused on
const ContextCurrent = "current"

// AppError represents a structured application error with context
type AppError struct {
	Err        error
	Kind       Kind
	Code       string
	StatusCode int
	Message    string
	Retryable  bool
	Context    map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Kind:       kindFor(err),
		Code:       codeFor(err),
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Context:    make(map[string]interface{}),
	}
}

func kindFor(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrExternalFailure), errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTemporaryFailure), errors.Is(err, ErrServiceUnavailable):
		return KindExternal
	default:
		return KindInternal
	}
}

func codeFor(err error) string {
	switch kindFor(err) {
	case KindValidation:
		return CodeValidation
	case KindNotFound:
		return CodeNotFound
	case KindConflict:
		return CodeConflict
	case KindExternal:
		if errors.Is(err, ErrTimeout) {
			return CodeTimeout
		}
		return CodeExternalFailure
	default:
		return CodeInternal
	}
}

// WithCode overrides the error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return errors.Is(err, ErrTemporaryFailure) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// KindOf returns the kind of err, Internal when it carries none
func KindOf(err error) Kind {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return kindFor(err)
}

// CodeOf returns the code of err, empty when it is not an AppError
func CodeOf(err error) string {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err is an AppError carrying code
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound, false)
}

// NewInvalidInputError creates an invalid input error
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrInvalidInput, message, http.StatusBadRequest, false)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict, false)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError, false)
}

// NewExternalError wraps a failure of an external collaborator. Safe for the caller to retry.
func NewExternalError(message string, cause error) *AppError {
	err := ErrExternalFailure
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrExternalFailure, cause)
	}
	return NewAppError(err, message, http.StatusBadGateway, true)
}

// NewTemporaryError creates a temporary error
func NewTemporaryError(message string) *AppError {
	return NewAppError(ErrTemporaryFailure, message, http.StatusServiceUnavailable, true)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrTimeout, message, http.StatusGatewayTimeout, true)
}

// NewRateLimitedError creates a rate limited error
func NewRateLimitedError(message string) *AppError {
	return NewAppError(ErrRateLimited, message, http.StatusTooManyRequests, true)
}
