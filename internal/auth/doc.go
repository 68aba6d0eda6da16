// Package auth provides the access control pipeline for asobi-gateway.
//
// # Guards
//
// Protected routes run two guards in a fixed order:
//
//   - Guard A (RequireAppCheck): verifies the X-Firebase-AppCheck attestation
//     token. Disabled entirely when enforcement is off.
//   - Guard B (RequireRole): verifies the Authorization: Bearer identity token
//     and requires the decoded role claim to match (beta_user for the demo API).
//
// Pipeline chains both. A rejection at any guard ends the request before later
// guards or the handler run:
//
//	401 missing app check | invalid app check | missing bearer token | invalid id token
//	403 forbidden
//
// Verifier error detail is logged, never returned to the caller.
//
// # Principal
//
// Guard B attaches the decoded identity claims to the request context:
//
//	p := auth.PrincipalFromContext(r.Context())
//	p.UID, p.Email, p.Role, p.Extra
//
// # Token Verification
//
// Verifier is the collaborator contract. JWTVerifier implements both token
// kinds with HS256 (shared secret) or RS256 (PEM public key); Verifiers
// composes one JWTVerifier per kind:
//
//	v := auth.Verifiers{Attestation: appCheck, Identity: idToken}
//
// # Admin Gate
//
// RequireAdminToken compares X-Admin-Token against a static shared secret.
// It is intentionally weaker than the token pipeline; the admin surface is
// expected to sit behind a separate network boundary.
package auth
