package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. DEC = decoding, WAL = wallet business rules, SYS = infrastructure.
const (
	CodeDecode             = "DEC_001"
	CodeUnknownEvent       = "DEC_002"
	CodeDuplicateIdentity  = "WAL_001"
	CodeWalletNotFound     = "WAL_002"
	CodeInsufficientFunds  = "WAL_003"
	CodeTransferIncomplete = "WAL_004"
	CodeInvalidAmount      = "WAL_005"
	CodeInternal           = "SYS_000"
	CodeStoreUnavailable   = "SYS_001"
	CodeCacheUnavailable   = "SYS_002"
)

// AppError is a structured error carrying a stable code.
// HTTPStatus is only used by the ops HTTP surface.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"` // Identity field involved, if any
	Value      string `json:"-"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// ---- Decoding (DEC) ----

func ErrDecode(eventType string, err error) *AppError {
	return Wrap(CodeDecode, fmt.Sprintf("Malformed %s payload", eventType), http.StatusBadRequest, err)
}

func ErrUnknownEvent(eventType string) *AppError {
	return New(CodeUnknownEvent, fmt.Sprintf("Unknown event type %q", eventType), http.StatusBadRequest)
}

// ---- Wallet business rules (WAL) ----

// ErrDuplicateIdentity reports a collision on one of the four identity fields.
func ErrDuplicateIdentity(field, value string) *AppError {
	e := New(CodeDuplicateIdentity, fmt.Sprintf("%s already registered", field), http.StatusConflict)
	e.Field = field
	e.Value = value
	return e
}

// ErrWalletNotFound reports that no wallet matches selector=value.
func ErrWalletNotFound(selector, value string) *AppError {
	e := New(CodeWalletNotFound, fmt.Sprintf("Wallet not found by %s", selector), http.StatusNotFound)
	e.Field = selector
	e.Value = value
	return e
}

func ErrInsufficientFunds(phoneNumber string) *AppError {
	e := New(CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusUnprocessableEntity)
	e.Field = "senderPhoneNumber"
	e.Value = phoneNumber
	return e
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Transfer amount must not be negative", http.StatusBadRequest)
}

// ErrTransferIncomplete reports a transfer whose second write failed.
func ErrTransferIncomplete(status string, err error) *AppError {
	return Wrap(CodeTransferIncomplete, fmt.Sprintf("Transfer not applied (%s)", status), http.StatusInternalServerError, err)
}

// ---- System & Infrastructure (SYS) ----

func ErrStoreUnavailable(err error) *AppError {
	return Wrap(CodeStoreUnavailable, "Wallet store unavailable", http.StatusServiceUnavailable, err)
}

func ErrCacheUnavailable(err error) *AppError {
	return Wrap(CodeCacheUnavailable, "Identity cache unavailable", http.StatusServiceUnavailable, err)
}
