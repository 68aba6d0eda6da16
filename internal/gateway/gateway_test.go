// ABOUTME: End-to-end tests for the gateway HTTP surface
// ABOUTME: Real JWT verifiers and router, in-memory ledger, buffered logs

package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/asobi-gateway/internal/auth"
	"github.com/2389/asobi-gateway/internal/config"
	"github.com/2389/asobi-gateway/internal/store"
)

const (
	testIDSecret     = "id-secret-for-tests"
	testAttestSecret = "attest-secret-for-tests"
	testAdminToken   = "admin-for-tests"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Auth.AdminToken = testAdminToken
	cfg.Auth.IDToken.Secret = testIDSecret
	cfg.Auth.AppCheck.Secret = testAttestSecret
	cfg.Database.Driver = "memory"
	cfg.Database.DSN = ""
	return cfg
}

type testGateway struct {
	*Gateway
	store *store.MockStore
	logs  *syncBuffer
}

func newTestGateway(t *testing.T, cfg *config.Config, opts ...Option) *testGateway {
	t.Helper()
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := store.NewMockStore()

	opts = append([]Option{WithStore(s)}, opts...)
	gw, err := New(context.Background(), cfg, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { gw.dispatcher.Wait() })
	return &testGateway{Gateway: gw, store: s, logs: logs}
}

func mintToken(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	v, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: []byte(secret)})
	require.NoError(t, err)
	tok, err := v.Generate(claims, time.Hour)
	require.NoError(t, err)
	return tok
}

func jwtRS256(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(claims)).SignedString(key)
	require.NoError(t, err)
	return tok
}

func serve(gw *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func errorReason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func demoRequest(appCheck, authorization string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/demo/data", nil)
	if appCheck != "" {
		req.Header.Set(auth.HeaderAppCheck, appCheck)
	}
	if authorization != "" {
		req.Header.Set(auth.HeaderAuthorization, authorization)
	}
	return req
}

func TestHealth(t *testing.T) {
	gw := newTestGateway(t, testConfig())

	rec := serve(gw.Gateway, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_NoCredentialsRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AdminToken = ""
	gw := newTestGateway(t, cfg)

	rec := serve(gw.Gateway, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDemoData(t *testing.T) {
	gw := newTestGateway(t, testConfig())
	attest := mintToken(t, testAttestSecret, map[string]any{"sub": "app-1"})
	betaUser := mintToken(t, testIDSecret, map[string]any{"sub": "u1", "email": "u1@x.com", "role": "beta_user"})
	plainUser := mintToken(t, testIDSecret, map[string]any{"sub": "u2", "role": "viewer"})

	tests := []struct {
		name       string
		appCheck   string
		authHeader string
		wantStatus int
		wantReason string
	}{
		{"missing app check", "", "Bearer " + betaUser, http.StatusUnauthorized, "missing app check"},
		{"invalid app check", "garbage", "Bearer " + betaUser, http.StatusUnauthorized, "invalid app check"},
		{"app check signed with wrong key", mintToken(t, testIDSecret, map[string]any{"sub": "x"}), "Bearer " + betaUser, http.StatusUnauthorized, "invalid app check"},
		{"missing bearer", attest, "", http.StatusUnauthorized, "missing bearer token"},
		{"lowercase bearer", attest, "bearer " + betaUser, http.StatusUnauthorized, "missing bearer token"},
		{"invalid id token", attest, "Bearer nope", http.StatusUnauthorized, "invalid id token"},
		{"wrong role", attest, "Bearer " + plainUser, http.StatusForbidden, "forbidden"},
		{"beta user", attest, "Bearer " + betaUser, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(gw.Gateway, demoRequest(tt.appCheck, tt.authHeader))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, errorReason(t, rec))
			}
		})
	}
}

func TestDemoData_Payload(t *testing.T) {
	gw := newTestGateway(t, testConfig())
	attest := mintToken(t, testAttestSecret, map[string]any{"sub": "app-1"})
	id := mintToken(t, testIDSecret, map[string]any{"sub": "u1", "email": "u1@x.com", "role": "beta_user"})

	rec := serve(gw.Gateway, demoRequest(attest, "Bearer "+id))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"videos": [
			{"id": "demo-1", "title": "Sample Demo 1"},
			{"id": "demo-2", "title": "Sample Demo 2"}
		],
		"who": {"uid": "u1", "email": "u1@x.com", "role": "beta_user"}
	}`, rec.Body.String())
}

func TestDemoData_AppCheckDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.RequireAppCheck = false
	gw := newTestGateway(t, cfg)
	id := mintToken(t, testIDSecret, map[string]any{"sub": "u1", "role": "beta_user"})

	rec := serve(gw.Gateway, demoRequest("", "Bearer "+id))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":null`)
}

func TestDemoData_NoIdentityKeyRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.IDToken.Secret = ""
	gw := newTestGateway(t, cfg)
	attest := mintToken(t, testAttestSecret, map[string]any{"sub": "app-1"})
	id := mintToken(t, testIDSecret, map[string]any{"sub": "u1", "role": "beta_user"})

	rec := serve(gw.Gateway, demoRequest(attest, "Bearer "+id))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid id token", errorReason(t, rec))
}

func TestDemoData_RS256IdentityKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "id.pem")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0600))

	cfg := testConfig()
	cfg.Auth.IDToken.Secret = ""
	cfg.Auth.IDToken.PublicKeyFile = keyFile
	gw := newTestGateway(t, cfg)

	tok := jwtRS256(t, key, map[string]any{"sub": "u1", "role": "beta_user", "exp": time.Now().Add(time.Hour).Unix()})
	attest := mintToken(t, testAttestSecret, map[string]any{"sub": "app-1"})

	rec := serve(gw.Gateway, demoRequest(attest, "Bearer "+tok))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestNew_BadPublicKeyFile(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.IDToken.PublicKeyFile = filepath.Join(t.TempDir(), "missing.pem")

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(&syncBuffer{}, nil)), WithStore(store.NewMockStore()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_token")
}

func TestAdminInvites_EndToEnd(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw := newTestGateway(t, testConfig(), WithClock(func() time.Time { return now }))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/invites", strings.NewReader(body))
		req.Header.Set(auth.HeaderAdminToken, testAdminToken)
		return serve(gw.Gateway, req)
	}
	get := func(email, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin/invites/"+email, nil)
		req.Header.Set(auth.HeaderAdminToken, token)
		return serve(gw.Gateway, req)
	}

	rec := post(`{"email":"a@x.com","expires_in_days":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = post(`{"email":"a@x.com","expires_in_days":5,"note":"again"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get("a@x.com", testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"email":"a@x.com","expires_at":"2026-03-06T12:00:00Z","status":"pending","note":"again"}`, rec.Body.String())

	rec = get("nobody@x.com", testAdminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", errorReason(t, rec))

	rec = get("a@x.com", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(`{"email":"b@x.com","expires_in_days":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 2, gw.store.Upserts())
}

func TestAdminInvites_MailerUnsetLogsStub(t *testing.T) {
	gw := newTestGateway(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/admin/invites", strings.NewReader(`{"email":"a@x.com"}`))
	req.Header.Set(auth.HeaderAdminToken, testAdminToken)
	rec := serve(gw.Gateway, req)
	gw.dispatcher.Wait()

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, gw.logs.String(), "[MailerStub]")
	assert.Contains(t, gw.logs.String(), "invite created for a@x.com")
}

func TestAdminInvites_MailerEndpoint(t *testing.T) {
	received := make(chan map[string]string, 1)
	mailer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
	}))
	defer mailer.Close()

	cfg := testConfig()
	cfg.Mailer.Endpoint = mailer.URL
	gw := newTestGateway(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/admin/invites", strings.NewReader(`{"email":"a@x.com"}`))
	req.Header.Set(auth.HeaderAdminToken, testAdminToken)
	rec := serve(gw.Gateway, req)
	gw.dispatcher.Wait()

	require.Equal(t, http.StatusOK, rec.Code)
	payload := <-received
	assert.Equal(t, "a@x.com", payload["to"])
	assert.Equal(t, "Invite to Asobi", payload["subject"])
	assert.True(t, strings.HasPrefix(payload["body"], "You are invited. Expires at "))
}

func TestAdminRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.AdminRequestsPerMinute = 2
	gw := newTestGateway(t, cfg)

	var codes []int
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/admin/invites/a@x.com", nil)
		req.Header.Set(auth.HeaderAdminToken, testAdminToken)
		codes = append(codes, serve(gw.Gateway, req).Code)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)
}

func TestCORS(t *testing.T) {
	gw := newTestGateway(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/demo/data", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "Authorization, X-Firebase-AppCheck")
	rec := serve(gw.Gateway, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serve(gw.Gateway, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	gw := newTestGateway(t, testConfig())

	rec := serve(gw.Gateway, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	gw := newTestGateway(t, testConfig())

	serve(gw.Gateway, demoRequest("", ""))
	rec := serve(gw.Gateway, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `asobi_gateway_auth_rejections_total{guard="app_check",reason="missing app check"} 1`)
	assert.Contains(t, body, `asobi_gateway_http_requests_total{code="401",route="/demo/data"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	gw := newTestGateway(t, cfg)

	rec := serve(gw.Gateway, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	gw := newTestGateway(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestDefaultAdminTokenWarns(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AdminToken = config.DefaultAdminToken
	gw := newTestGateway(t, cfg)
	assert.Contains(t, gw.logs.String(), "admin token is the default value")
}

func TestTailnetAdmin_SplitsSurface(t *testing.T) {
	cfg := testConfig()
	cfg.Tailscale.Enabled = true
	gw := newTestGateway(t, cfg)
	require.NotNil(t, gw.AdminHandler())

	post := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/invites", strings.NewReader(`{"email":"a@x.com"}`))
		req.Header.Set(auth.HeaderAdminToken, testAdminToken)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNotFound, post(gw.Handler()).Code)
	assert.Equal(t, 0, gw.store.Upserts())

	rec := post(gw.AdminHandler())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, gw.store.Upserts())

	req := httptest.NewRequest(http.MethodPost, "/admin/invites", strings.NewReader(`{"email":"a@x.com"}`))
	req.Header.Set(auth.HeaderAdminToken, "wrong")
	rec = httptest.NewRecorder()
	gw.AdminHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	gw.AdminHandler().ServeHTTP(rec, demoRequest("", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTailnetAdmin_DisabledMountsPublic(t *testing.T) {
	gw := newTestGateway(t, testConfig())
	assert.Nil(t, gw.AdminHandler())
}

func TestServe_TailnetAdminListener(t *testing.T) {
	cfg := testConfig()
	cfg.Tailscale.Enabled = true

	adminLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gw := newTestGateway(t, cfg, WithAdminListener(adminLn))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	// The ledger's 404 carries a JSON reason; an unrouted path does not.
	lookupReason := func(addr string) string {
		req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/admin/invites/a@x.com", nil)
		require.NoError(t, err)
		req.Header.Set(auth.HeaderAdminToken, testAdminToken)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return ""
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			return ""
		}
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "unrouted"
		}
		return body.Error
	}

	require.Eventually(t, func() bool { return lookupReason(adminLn.Addr().String()) == "not found" }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "unrouted", lookupReason(ln.Addr().String()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	require.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/srv/ts")
	require.NoError(t, err)
	assert.Equal(t, "/srv/ts", dir)

	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "asobi-gateway", "tailscale"), dir)
}

func TestLogsCarryOneComponent(t *testing.T) {
	gw := newTestGateway(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/admin/invites", strings.NewReader(`{"email":"a@x.com"}`))
	req.Header.Set(auth.HeaderAdminToken, testAdminToken)
	require.Equal(t, http.StatusOK, serve(gw.Gateway, req).Code)
	serve(gw.Gateway, demoRequest("", ""))
	gw.dispatcher.Wait()

	logs := gw.logs.String()
	for _, component := range []string{"component=invite", "component=notify", "component=http", "component=auth"} {
		assert.Contains(t, logs, component)
	}
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		assert.LessOrEqual(t, strings.Count(line, "component="), 1, line)
	}
}

func TestShutdown_DropsLateNotifications(t *testing.T) {
	gw := newTestGateway(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))

	req := httptest.NewRequest(http.MethodPost, "/admin/invites", strings.NewReader(`{"email":"late@x.com"}`))
	req.Header.Set(auth.HeaderAdminToken, testAdminToken)
	rec := serve(gw.Gateway, req)
	gw.dispatcher.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, gw.logs.String(), "dispatcher closed, dropping notification")
	assert.NotContains(t, gw.logs.String(), "[MailerStub]")
}
