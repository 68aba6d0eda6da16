// ABOUTME: HTTP routing and middleware stack for the gateway
// ABOUTME: Public health, guarded demo data, metrics, and admin invites on the public or tailnet listener

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/2389/asobi-gateway/internal/auth"
)

// newRouter returns a router carrying the middleware shared by every listener.
func (g *Gateway) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.baseLogger.With("component", "http")))
	r.Use(middleware.Recoverer)
	r.Use(g.metrics.Middleware)
	r.Use(secureHeaders(g.logger))
	return r
}

func (g *Gateway) guardOptions() auth.GuardOptions {
	opts := auth.GuardOptions{Logger: g.baseLogger.With("component", "auth")}
	if g.metrics != nil {
		opts.Recorder = g.metrics
	}
	return opts
}

// routes builds the public handler. The admin API is mounted here unless it
// is served on the tailnet listener instead.
func (g *Gateway) routes() http.Handler {
	r := g.newRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   g.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", g.handleHealth)

	r.With(auth.Pipeline(g.verifier, auth.PipelineConfig{
		EnforceAppCheck: g.config.Auth.RequireAppCheck,
		Role:            g.config.Auth.RequiredRole,
		GuardOptions:    g.guardOptions(),
	})).Get("/demo/data", g.handleDemoData)

	if !g.config.Tailscale.Enabled {
		r.Route("/admin", g.mountAdmin)
	}

	if g.metrics != nil {
		r.Method(http.MethodGet, g.config.Metrics.Path, g.metrics.Handler())
	}

	return r
}

// adminRoutes builds the handler served on the tailnet listener.
func (g *Gateway) adminRoutes() http.Handler {
	r := g.newRouter()
	r.Get("/health", g.handleHealth)
	r.Route("/admin", g.mountAdmin)
	return r
}

func (g *Gateway) mountAdmin(r chi.Router) {
	if limit := g.config.RateLimit.AdminRequestsPerMinute; limit > 0 {
		r.Use(httprate.LimitByIP(limit, time.Minute))
	}
	r.Use(auth.RequireAdminToken(g.config.Auth.AdminToken, g.guardOptions()))
	r.Mount("/", g.invites.Routes())
}

// secureHeaders sets the standard response security headers.
func secureHeaders(logger *slog.Logger) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sm.Process(w, r); err != nil {
				logger.Warn("secure headers blocked request", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request after it completes.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
