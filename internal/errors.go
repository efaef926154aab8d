package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeUnavailable  ErrorType = "UNAVAILABLE"
)

type ErrorCode string

const (
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidReason    ErrorCode = "INVALID_REASON"
	ErrCodeInvalidPoints    ErrorCode = "INVALID_POINTS"

	ErrCodePaymentNotFound    ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeProductNotFound    ErrorCode = "PRODUCT_NOT_FOUND"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodePaymentExpired     ErrorCode = "PAYMENT_EXPIRED"
	ErrCodeProductUnavailable ErrorCode = "PRODUCT_UNAVAILABLE"
	ErrCodeAlreadyCompleted   ErrorCode = "ALREADY_COMPLETED"
	ErrCodeAlreadyRejected    ErrorCode = "ALREADY_REJECTED"
	ErrCodeNotPaymentOwner    ErrorCode = "NOT_PAYMENT_OWNER"
	ErrCodeCustomerNotFound   ErrorCode = "CUSTOMER_NOT_FOUND"

	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeRiskRejected        ErrorCode = "RISK_REJECTED"
	ErrCodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUserInactive       ErrorCode = "USER_INACTIVE"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	ErrCodeForbidden          ErrorCode = "INSUFFICIENT_PERMISSION"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that errors.Is works against the shared sentinels
// even after WithCause/WithDetails produced a copy.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy so the package-level sentinels are never mutated.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func newError(typ ErrorType, code ErrorCode, status int, message string) *AppError {
	return &AppError{Type: typ, Code: code, Message: message, StatusCode: status}
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeValidation, code, http.StatusBadRequest, message)
}

// NewValidationFieldError reports a single offending field under the generic
// VALIDATION_FAILED code; code is kept on the field entry.
func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return NewValidationError("Validation failed", ErrCodeValidationFailed).
		WithDetails(ValidationErrors{Errors: []ValidationError{{Field: field, Message: message, Code: string(code)}}})
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeNotFound, code, http.StatusNotFound, message)
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeUnauthorized, code, http.StatusUnauthorized, message)
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeForbidden, code, http.StatusForbidden, message)
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeConflict, code, http.StatusConflict, message)
}

// NewUnprocessableError is a conflict with the caller's own state, such as
// spending more points than the account holds.
func NewUnprocessableError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeConflict, code, http.StatusUnprocessableEntity, message)
}

// NewUnavailableError marks a dependency outage the caller may retry.
func NewUnavailableError(message string, code ErrorCode) *AppError {
	return newError(ErrorTypeUnavailable, code, http.StatusServiceUnavailable, message)
}

func NewInternalError(message string, cause error) *AppError {
	return newError(ErrorTypeInternal, ErrCodeInternal, http.StatusInternalServerError, message).WithCause(cause)
}

var (
	ErrPaymentNotFound    = NewNotFoundError("payment not found", ErrCodePaymentNotFound)
	ErrProductNotFound    = NewNotFoundError("product not found", ErrCodeProductNotFound)
	ErrInvalidState       = NewConflictError("payment cannot transition from its current status", ErrCodeInvalidState)
	ErrPaymentExpired     = NewConflictError("payment window has elapsed", ErrCodePaymentExpired)
	ErrProductUnavailable = NewConflictError("product is no longer available", ErrCodeProductUnavailable)
	ErrAlreadyCompleted   = NewConflictError("payment is already completed", ErrCodeAlreadyCompleted)
	ErrAlreadyRejected    = NewConflictError("payment is already rejected", ErrCodeAlreadyRejected)
	ErrNotPaymentOwner    = NewForbiddenError("payment belongs to another buyer", ErrCodeNotPaymentOwner)
	ErrCustomerNotFound   = NewNotFoundError("customer not found", ErrCodeCustomerNotFound)

	ErrInsufficientBalance = NewUnprocessableError("insufficient loyalty balance", ErrCodeInsufficientBalance)
	ErrRiskRejected        = NewForbiddenError("purchase blocked by risk assessment", ErrCodeRiskRejected)
	ErrStoreUnavailable    = NewUnavailableError("ledger store unavailable", ErrCodeStoreUnavailable)

	ErrInvalidCredentials = NewUnauthorizedError("Invalid email or password", ErrCodeInvalidCredentials)
	ErrUserInactive       = NewForbiddenError("User account is inactive", ErrCodeUserInactive)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrForbidden          = NewForbiddenError("Insufficient permissions", ErrCodeForbidden)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given business error code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
