// Package observability exposes Prometheus metrics for the gateway.
//
// A nil *Metrics is valid and records nothing, so callers can leave metrics
// disabled without branching.
package observability
