// ABOUTME: Gateway orchestrator that wires config into the ledger, verifiers, mailer, and HTTP server
// ABOUTME: Owns the server lifecycle: Run blocks until the context ends, then drains and shuts down

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/asobi-gateway/internal/auth"
	"github.com/2389/asobi-gateway/internal/config"
	"github.com/2389/asobi-gateway/internal/invite"
	"github.com/2389/asobi-gateway/internal/notify"
	"github.com/2389/asobi-gateway/internal/observability"
	"github.com/2389/asobi-gateway/internal/store"
)

// Gateway serves the public, protected, and admin HTTP surface.
// With tailscale enabled the admin API moves to its own server on the tailnet.
type Gateway struct {
	config     *config.Config
	store      store.InviteStore
	verifier   auth.Verifier
	dispatcher *notify.Dispatcher
	metrics    *observability.Metrics
	invites    *invite.Handler
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
	baseLogger *slog.Logger

	adminHandler http.Handler
	adminServer  *http.Server
	adminListen  func(ctx context.Context) (net.Listener, error)
	tsnetServer  *tsnet.Server
}

// Option overrides a collaborator that New would otherwise build from config.
type Option func(*options)

type options struct {
	store    store.InviteStore
	verifier auth.Verifier
	sender   notify.Sender
	now      func() time.Time
	adminLn  net.Listener
}

// WithStore uses s as the Invite Ledger instead of opening one from config.
func WithStore(s store.InviteStore) Option {
	return func(o *options) { o.store = s }
}

// WithVerifier uses v for token verification instead of the configured JWT keys.
func WithVerifier(v auth.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithSender uses s for notification delivery instead of the configured mailer.
func WithSender(s notify.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithClock replaces time.Now for invite timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithAdminListener serves the tailnet admin API on ln instead of starting a tsnet node.
func WithAdminListener(ln net.Listener) Option {
	return func(o *options) { o.adminLn = ln }
}

// New creates a Gateway from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	baseLogger := logger
	logger = logger.With("component", "gateway")

	if cfg.Auth.AdminToken == config.DefaultAdminToken {
		logger.Warn("admin token is the default value, set ADMIN_API_TOKEN before exposing the admin API")
	}
	if !cfg.Auth.RequireAppCheck {
		logger.Warn("app check enforcement disabled")
	}

	verifier := o.verifier
	if verifier == nil {
		v, err := buildVerifiers(cfg.Auth, logger)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	s := o.store
	if s == nil {
		opened, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		s = opened
	}

	sender := o.sender
	if sender == nil {
		sender = notify.NewSender(cfg.Mailer.Endpoint, cfg.Mailer.From, cfg.Mailer.Timeout, baseLogger.With("component", "mailer"))
		if cfg.Mailer.Endpoint == "" {
			logger.Info("mailer endpoint not configured, invite emails will be logged only")
		}
	}
	var recorder notify.OutcomeRecorder
	if metrics != nil {
		recorder = metrics
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Mailer.Timeout, baseLogger, recorder)

	var inviteOpts []invite.Option
	if o.now != nil {
		inviteOpts = append(inviteOpts, invite.WithClock(o.now))
	}

	gw := &Gateway{
		config:     cfg,
		store:      s,
		verifier:   verifier,
		dispatcher: dispatcher,
		metrics:    metrics,
		invites:    invite.NewHandler(s, dispatcher, baseLogger, inviteOpts...),
		logger:     logger,
		baseLogger: baseLogger,
	}
	gw.handler = gw.routes()
	gw.httpServer = gw.newHTTPServer(cfg.Server.HTTPAddr, gw.handler)

	if cfg.Tailscale.Enabled {
		gw.adminHandler = gw.adminRoutes()
		gw.adminServer = gw.newHTTPServer("", gw.adminHandler)
		gw.adminListen = gw.listenTailnet
		if o.adminLn != nil {
			ln := o.adminLn
			gw.adminListen = func(context.Context) (net.Listener, error) { return ln, nil }
		}
		logger.Info("admin API served on the tailnet only", "hostname", cfg.Tailscale.Hostname)
	}

	return gw, nil
}

func (g *Gateway) newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       g.config.Server.ReadTimeout,
		WriteTimeout:      g.config.Server.WriteTimeout,
	}
}

// buildVerifiers creates the JWT verifier for each token kind that has key material.
// A kind without keys is left nil and rejects every token of that kind.
func buildVerifiers(cfg config.AuthConfig, logger *slog.Logger) (auth.Verifiers, error) {
	var v auth.Verifiers

	build := func(name string, vc config.VerifierConfig) (*auth.JWTVerifier, error) {
		if !vc.HasKey() {
			logger.Warn("no verification key configured, all tokens of this kind will be rejected", "token", name)
			return nil, nil
		}
		pem, err := vc.PublicKeyPEM()
		if err != nil {
			return nil, fmt.Errorf("loading %s key: %w", name, err)
		}
		jv, err := auth.NewJWTVerifier(auth.JWTConfig{
			Secret:       []byte(vc.Secret),
			PublicKeyPEM: pem,
			Issuer:       vc.Issuer,
			Audience:     vc.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("creating %s verifier: %w", name, err)
		}
		return jv, nil
	}

	var err error
	if v.Identity, err = build("id_token", cfg.IDToken); err != nil {
		return v, err
	}
	if v.Attestation, err = build("app_check", cfg.AppCheck); err != nil {
		return v, err
	}
	return v, nil
}

// Handler returns the gateway's root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// AdminHandler returns the tailnet admin handler, or nil when the admin API
// is mounted on Handler.
func (g *Gateway) AdminHandler() http.Handler {
	return g.adminHandler
}

// Run listens on the configured address and serves until ctx is canceled
// or the server fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener. The tailnet admin listener, when
// enabled, is started here too.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 2)

	if g.adminServer != nil {
		adminLn, err := g.adminListen(ctx)
		if err != nil {
			_ = ln.Close()
			return errors.Join(fmt.Errorf("starting admin listener: %w", err), g.gracefulShutdown())
		}
		g.startServer("admin HTTP server", g.adminServer, adminLn, errCh)
	}
	g.startServer("HTTP server", g.httpServer, ln, errCh)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (g *Gateway) startServer(name string, srv *http.Server, ln net.Listener, errCh chan<- error) {
	go func() {
		g.logger.Info(name+" listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the serve context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP servers, waits for in-flight notifications, and closes the ledger.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.adminServer != nil {
		errs = appendCloseError(errs, "admin HTTP shutdown", g.adminServer.Shutdown(ctx))
	}
	errs = appendCloseError(errs, "notification drain", g.drainNotifications(ctx))
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale close", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// drainNotifications stops new sends, then waits for running ones until ctx ends.
func (g *Gateway) drainNotifications(ctx context.Context) error {
	g.dispatcher.Close()

	done := make(chan struct{})
	go func() {
		g.dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// listenTailnet starts a tsnet node and listens on it for the admin API.
func (g *Gateway) listenTailnet(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	srv := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.HTTPS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("listening on tailnet: %w", err)
	}

	g.tsnetServer = srv
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "asobi-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or the TS_AUTHKEY environment variable.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}
