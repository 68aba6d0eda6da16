// ABOUTME: Error taxonomy shared by the gateway's HTTP surface
// ABOUTME: Sentinels map to status codes; reasons are the only text callers ever see

package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors. Wrap them with Reason to attach the caller-visible reason string.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrBadRequest      = errors.New("invalid request body")
	ErrDependency      = errors.New("dependency failure")
)

// ReasonError pairs an error kind with the terse reason returned to the caller.
// Cause is kept for logs and errors.Is; it is never written to a response.
type ReasonError struct {
	Kind   error
	Reason string
	Cause  error
}

func (e *ReasonError) Error() string { return e.Reason }

func (e *ReasonError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Reason returns an error of the given kind that renders as reason.
func Reason(kind error, reason string) error {
	return &ReasonError{Kind: kind, Reason: reason}
}

// Wrap is Reason with an underlying cause attached.
func Wrap(kind error, reason string, cause error) error {
	return &ReasonError{Kind: kind, Reason: reason, Cause: cause}
}

// CauseOf returns the cause attached by Wrap, or nil.
func CauseOf(err error) error {
	var reasonErr *ReasonError
	if errors.As(err, &reasonErr) {
		return reasonErr.Cause
	}
	return nil
}

// ValidationError carries per-field messages for a rejected request body.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return ErrValidation.Error() }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as a JSON error body. Errors without a known kind
// are reported as "internal error" so no internal detail leaks.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := ErrorBody{Error: "internal error"}

	var reasonErr *ReasonError
	var validationErr *ValidationError
	switch {
	case errors.As(err, &reasonErr) && status != http.StatusInternalServerError:
		body.Error = reasonErr.Reason
	case errors.As(err, &validationErr):
		body.Error = ErrValidation.Error()
		body.Fields = validationErr.Fields
	case status != http.StatusInternalServerError:
		body.Error = kindReason(err)
	}

	JSON(w, status, body)
}

func kindReason(err error) string {
	for _, kind := range []error{ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrValidation, ErrBadRequest} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal error"
}
