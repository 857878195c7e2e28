package relayer

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes reported by the relayer.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeTooManyHandles    = "too_many_handles"
	CodeChainMismatch     = "chain_mismatch"
	CodeContractNotListed = "contract_not_listed"
	CodeInvalidWindow     = "invalid_window"
	CodeExpired           = "request_expired"
	CodeInvalidSignature  = "invalid_signature"
	CodeNotAllowed        = "not_allowed"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

// Error is a relayer failure as reported over HTTP.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("relayer: %s (%s)", e.Message, e.Code)
}

// Is matches relayer errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(status int, code, format string, args ...interface{}) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

func badRequest(code, format string, args ...interface{}) *Error {
	return newError(http.StatusBadRequest, code, format, args...)
}

func forbidden(code, format string, args ...interface{}) *Error {
	return newError(http.StatusForbidden, code, format, args...)
}

// Sentinels for errors.Is.
var (
	ErrInvalidRequest    = &Error{Code: CodeInvalidRequest}
	ErrTooManyHandles    = &Error{Code: CodeTooManyHandles}
	ErrChainMismatch     = &Error{Code: CodeChainMismatch}
	ErrContractNotListed = &Error{Code: CodeContractNotListed}
	ErrInvalidWindow     = &Error{Code: CodeInvalidWindow}
	ErrExpired           = &Error{Code: CodeExpired}
	ErrInvalidSignature  = &Error{Code: CodeInvalidSignature}
	ErrNotAllowed        = &Error{Code: CodeNotAllowed}
	ErrRateLimited       = &Error{Code: CodeRateLimited}
)

var errBadSignature = errors.New("malformed signature")

// ErrServiceNotReady is returned when the relayer cannot be reached.
var ErrServiceNotReady = errors.New("encryption service not ready")
