// ABOUTME: JSON response helpers for gateway handlers
// ABOUTME: Keeps the {"error": reason} envelope consistent across packages

package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the JSON envelope for every error response.
type ErrorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON decodes the request body into target.
// A field holding the wrong JSON type is a ValidationError on that field;
// any other decode failure is ErrBadRequest.
func DecodeJSON(r *http.Request, target any) error {
	err := json.NewDecoder(r.Body).Decode(target)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &ValidationError{Fields: map[string]string{typeErr.Field: "is invalid"}}
	}
	return Wrap(ErrBadRequest, "invalid request body", err)
}
