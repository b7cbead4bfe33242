// Package apperr defines the error taxonomy shared by the service and API
// layers. Every error that crosses the API boundary is either an *Error or
// gets mapped to one; the Cause chain is for server-side logs only and is
// never serialized to clients.
package apperr

import "net/http"

// Error carries an HTTP status, a machine-readable code and a client-safe
// message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string { return e.Message }

// Unwrap lets errors.Is/errors.As traverse the cause chain.
func (e *Error) Unwrap() error { return e.Cause }

// WithCause attaches an underlying error for logging and returns e.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Validation reports malformed or missing input. Rejected before any store
// or session mutation.
func Validation(msg string) *Error {
	return &Error{Code: "VALIDATION_ERROR", Message: msg, Status: http.StatusBadRequest}
}

// Unauthorized reports an authentication failure. The message must be
// identical for "unknown user" and "wrong password" to avoid enumeration.
func Unauthorized(msg string) *Error {
	return &Error{Code: "UNAUTHORIZED", Message: msg, Status: http.StatusUnauthorized}
}

// NotFound reports an absent resource. Ownership mismatches use this too,
// so callers cannot distinguish "not yours" from "does not exist".
func NotFound(resource string) *Error {
	return &Error{Code: "NOT_FOUND", Message: resource + " not found", Status: http.StatusNotFound}
}

// Conflict reports a uniqueness violation, distinguishable from generic
// validation so clients can prompt for a different value.
func Conflict(msg string) *Error {
	return &Error{Code: "CONFLICT", Message: msg, Status: http.StatusConflict}
}

// Precondition reports bookkeeping that did not find the row it just read,
// which implies a race or integrity problem rather than user error.
func Precondition(msg string) *Error {
	return &Error{Code: "PRECONDITION_FAILED", Message: msg, Status: http.StatusPreconditionFailed}
}

// Unprocessable reports a store-level failure on an otherwise valid request.
func Unprocessable(msg string) *Error {
	return &Error{Code: "UNPROCESSABLE", Message: msg, Status: http.StatusUnprocessableEntity}
}

// Internal reports an infrastructure failure. The cause is logged, never
// returned to the client.
func Internal(cause error) *Error {
	return &Error{Code: "INTERNAL", Message: "internal error", Status: http.StatusInternalServerError, Cause: cause}
}
