package access

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/tenantdesk/internal/api/response"
	"github.com/kiranshivaraju/tenantdesk/internal/store"
	"github.com/kiranshivaraju/tenantdesk/internal/tenant"
)

// Error is a pipeline rejection. Status, Code, and Message go to the client;
// Err stays server-side.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Unauthorized(err error) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Invalid or expired credentials", Err: err}
}

func Forbidden(code, message string) *Error {
	return &Error{Status: http.StatusForbidden, Code: code, Message: message}
}

func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "An unexpected error occurred", Err: err}
}

// FromResolve maps a tenant resolution failure to its response.
func FromResolve(err error) *Error {
	switch {
	case errors.Is(err, tenant.ErrMissingHeader):
		return &Error{Status: http.StatusBadRequest, Code: "TENANT_REQUIRED", Message: "X-Tenant-ID header is required", Err: err}
	case errors.Is(err, tenant.ErrMalformedID):
		return &Error{Status: http.StatusBadRequest, Code: "INVALID_TENANT_ID", Message: "X-Tenant-ID must be a valid UUID", Err: err}
	case errors.Is(err, tenant.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: "TENANT_NOT_FOUND", Message: "Tenant not found", Err: err}
	case errors.Is(err, tenant.ErrInactive):
		return &Error{Status: http.StatusForbidden, Code: "TENANT_INACTIVE", Message: "Tenant is inactive", Err: err}
	default:
		return Internal(err)
	}
}

// FromStore maps repository failures raised inside handlers. A timed out
// pool acquisition or a failed tenant binding is an internal error.
func FromStore(err error) *Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "Resource not found", Err: err}
	case errors.Is(err, store.ErrDuplicateKey):
		return &Error{Status: http.StatusConflict, Code: "CONFLICT", Message: "Resource already exists", Err: err}
	default:
		return Internal(err)
	}
}

// WriteError renders err as the standard error envelope. Anything that is
// not an *Error becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var ae *Error
	if !errors.As(err, &ae) {
		ae = Internal(err)
	}
	response.Error(w, ae.Status, ae.Code, ae.Message, nil)
}
