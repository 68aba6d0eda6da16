// ABOUTME: Shared-secret gate for the administrative invite surface
// ABOUTME: Weaker than the token pipeline; the admin API sits behind its own network boundary

package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/2389/asobi-gateway/internal/httpx"
)

// CheckAdminToken compares presented with secret. Absence always fails.
func CheckAdminToken(secret, presented string) error {
	if secret == "" || presented == "" {
		return httpx.Reason(httpx.ErrUnauthenticated, ReasonUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) != 1 {
		return httpx.Reason(httpx.ErrUnauthenticated, ReasonUnauthorized)
	}
	return nil
}

// RequireAdminToken creates an HTTP middleware that requires X-Admin-Token to equal secret.
func RequireAdminToken(secret string, opts GuardOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := CheckAdminToken(secret, r.Header.Get(HeaderAdminToken)); err != nil {
				opts.reject(w, r, GuardAdmin, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
