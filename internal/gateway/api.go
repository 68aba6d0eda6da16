// ABOUTME: Gateway-level HTTP handlers: liveness and the guarded demo payload
// ABOUTME: The demo handler echoes the Principal attached by the auth pipeline

package gateway

import (
	"net/http"

	"github.com/2389/asobi-gateway/internal/auth"
	"github.com/2389/asobi-gateway/internal/httpx"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// Video is one entry in the demo catalogue.
type Video struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Who echoes the authenticated caller.
type Who struct {
	UID   string  `json:"uid"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

// DemoResponse is the body of GET /demo/data.
type DemoResponse struct {
	Videos []Video `json:"videos"`
	Who    Who     `json:"who"`
}

var demoVideos = []Video{
	{ID: "demo-1", Title: "Sample Demo 1"},
	{ID: "demo-2", Title: "Sample Demo 2"},
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (g *Gateway) handleDemoData(w http.ResponseWriter, r *http.Request) {
	p := auth.MustPrincipalFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, DemoResponse{
		Videos: demoVideos,
		Who: Who{
			UID:   p.UID,
			Email: optional(p.Email),
			Role:  optional(p.Role),
		},
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
