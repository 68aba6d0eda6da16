// ABOUTME: Access control pipeline: attestation guard, then identity + role guard
// ABOUTME: Guards short-circuit with a typed rejection; the Principal flows via context

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/asobi-gateway/internal/httpx"
)

// Request headers inspected by the guards.
const (
	HeaderAppCheck      = "X-Firebase-AppCheck"
	HeaderAuthorization = "Authorization"
	HeaderAdminToken    = "X-Admin-Token"
)

// RoleBetaUser is the role the demo API requires.
const RoleBetaUser = "beta_user"

// Rejection reasons returned to callers.
const (
	ReasonMissingAppCheck = "missing app check"
	ReasonInvalidAppCheck = "invalid app check"
	ReasonMissingBearer   = "missing bearer token"
	ReasonInvalidIDToken  = "invalid id token"
	ReasonForbidden       = "forbidden"
	ReasonUnauthorized    = "unauthorized"
)

// Guard names reported alongside rejections.
const (
	GuardAppCheck = "app_check"
	GuardIdentity = "identity"
	GuardAdmin    = "admin"
)

const bearerPrefix = "Bearer "

// RejectionRecorder observes guard rejections, e.g. for metrics.
type RejectionRecorder interface {
	RecordRejection(guard, reason string)
}

// GuardOptions carries optional collaborators shared by every guard.
type GuardOptions struct {
	Logger   *slog.Logger
	Recorder RejectionRecorder
}

func (o GuardOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// reject reports a rejection and writes the error response.
func (o GuardOptions) reject(w http.ResponseWriter, r *http.Request, guard string, err error) {
	if o.Recorder != nil {
		o.Recorder.RecordRejection(guard, err.Error())
	}
	attrs := []any{"guard", guard, "reason", err.Error(), "path", r.URL.Path}
	if cause := httpx.CauseOf(err); cause != nil {
		attrs = append(attrs, "error", cause)
	}
	o.logger().Warn("request rejected", attrs...)
	httpx.RespondError(w, err)
}

// extractBearerToken returns everything after the first space of a "Bearer " header.
func extractBearerToken(authHeader string) (string, bool) {
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", false
	}
	return strings.SplitN(authHeader, " ", 2)[1], true
}

// verifyAttestation calls the verifier, turning a panic into an error.
func verifyAttestation(ctx context.Context, v Verifier, token string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("attestation verifier panic: %v", rec)
		}
	}()
	return v.VerifyAttestation(ctx, token)
}

// verifyIdentity calls the verifier, turning a panic into an error.
func verifyIdentity(ctx context.Context, v Verifier, token string) (p *Principal, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("identity verifier panic: %v", rec)
		}
	}()
	p, err = v.VerifyIdentity(ctx, token)
	if err == nil && p == nil {
		err = ErrInvalidToken
	}
	return p, err
}

// CheckAppCheck is Guard A. With enforce off it passes without calling the verifier.
// Verifier errors are attached as the cause and never rendered.
func CheckAppCheck(ctx context.Context, v Verifier, enforce bool, header string) error {
	if !enforce {
		return nil
	}
	if header == "" {
		return httpx.Reason(httpx.ErrUnauthenticated, ReasonMissingAppCheck)
	}
	if err := verifyAttestation(ctx, v, header); err != nil {
		return httpx.Wrap(httpx.ErrUnauthenticated, ReasonInvalidAppCheck, err)
	}
	return nil
}

// CheckIdentity is Guard B: bearer extraction, identity verification, then the role check.
func CheckIdentity(ctx context.Context, v Verifier, role, authHeader string) (*Principal, error) {
	token, ok := extractBearerToken(authHeader)
	if !ok {
		return nil, httpx.Reason(httpx.ErrUnauthenticated, ReasonMissingBearer)
	}

	principal, err := verifyIdentity(ctx, v, token)
	if err != nil {
		return nil, httpx.Wrap(httpx.ErrUnauthenticated, ReasonInvalidIDToken, err)
	}

	if principal.Role != role {
		return nil, httpx.Reason(httpx.ErrForbidden, ReasonForbidden)
	}
	return principal, nil
}

// RequireAppCheck creates an HTTP middleware enforcing Guard A.
func RequireAppCheck(v Verifier, enforce bool, opts GuardOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := CheckAppCheck(r.Context(), v, enforce, r.Header.Get(HeaderAppCheck)); err != nil {
				opts.reject(w, r, GuardAppCheck, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole creates an HTTP middleware enforcing Guard B and attaching the Principal.
// Must be used after RequireAppCheck.
func RequireRole(v Verifier, role string, opts GuardOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := CheckIdentity(r.Context(), v, role, r.Header.Get(HeaderAuthorization))
			if err != nil {
				opts.reject(w, r, GuardIdentity, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// PipelineConfig configures the full guard chain for a protected route.
type PipelineConfig struct {
	EnforceAppCheck bool
	Role            string
	GuardOptions
}

// Pipeline chains Guard A then Guard B. A rejection at either guard ends the request.
func Pipeline(v Verifier, cfg PipelineConfig) func(http.Handler) http.Handler {
	role := cfg.Role
	if role == "" {
		role = RoleBetaUser
	}
	appCheck := RequireAppCheck(v, cfg.EnforceAppCheck, cfg.GuardOptions)
	identity := RequireRole(v, role, cfg.GuardOptions)
	return func(next http.Handler) http.Handler {
		return appCheck(identity(next))
	}
}
