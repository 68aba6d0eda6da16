// Package gateway orchestrates the asobi-gateway HTTP server.
//
// # Overview
//
// New builds every long-lived collaborator once from config: the Invite
// Ledger, the JWT verifiers, the notification dispatcher, and the Prometheus
// registry. Tests replace any of them with the With* options.
//
// # HTTP API
//
//	GET  /health                  liveness, no credentials
//	GET  /demo/data               App Check guard, then beta_user identity guard
//	POST /admin/invites           admin token guard
//	GET  /admin/invites/{email}   admin token guard
//	GET  /metrics                 Prometheus, when metrics.enabled
//
// # Middleware
//
// Every request passes through, in order: request id, real IP, request
// logging, panic recovery, request metrics, security headers, and CORS.
// Admin routes are additionally rate limited per client IP.
//
// # Tailnet admin
//
// With tailscale.enabled the /admin routes leave the public listener and are
// served by a second server on a tsnet node named tailscale.hostname. The
// public listener then answers 404 for /admin. CORS is not applied there.
//
// # Lifecycle
//
// Run listens on server.http_addr and blocks until its context is canceled.
// Shutdown then stops the listeners, refuses further notifications, waits
// for queued ones, and closes the ledger, all bounded by server.shutdown_timeout.
package gateway
