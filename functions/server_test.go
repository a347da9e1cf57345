package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/querysync/auth"
	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/backend/backendtest"
	"github.com/jonwraymond/querysync/health"
)

var (
	testSecret = []byte("functions-test-secret-with-32-characters!")
	testNow    = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
)

type fakeCompleter struct {
	mu   sync.Mutex
	text string
	err  error
	reqs []CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req CompletionRequest) (Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return Completion{}, f.err
	}
	return Completion{Text: f.text, Model: "fake-model"}, nil
}

func (f *fakeCompleter) last() CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fixture struct {
	backend   *backendtest.Server
	completer *fakeCompleter
	server    *Server
	token     string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	srv := backendtest.NewServer()
	t.Cleanup(srv.Close)

	client, err := backend.New(backend.Config{BaseURL: srv.URL, APIKey: "anon-key"})
	if err != nil {
		t.Fatalf("backend.New() error = %v", err)
	}
	authn, err := auth.NewJWTAuthenticator(auth.JWTConfig{
		Secret: testSecret,
		Now:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewJWTAuthenticator() error = %v", err)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          "user-1",
		"aud":          "authenticated",
		"role":         "authenticated",
		"exp":          testNow.Add(time.Hour).Unix(),
		"app_metadata": map[string]any{"tenant_id": "agency-42"},
	}).SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}

	agg := health.NewAggregator()
	agg.Register(health.NewPingChecker("backend", client))

	completer := &fakeCompleter{}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testNow }
	}
	s, err := NewServer(cfg, Deps{
		Backend:   client,
		Completer: completer,
		Auth:      auth.NewMiddleware(authn),
		Health:    agg,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &fixture{backend: srv, completer: completer, server: s, token: token}
}

func (f *fixture) post(t *testing.T, fn string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/"+fn, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestNewServer_RequiresDeps(t *testing.T) {
	client, _ := backend.New(backend.Config{BaseURL: "http://localhost", APIKey: "k"})
	authn, _ := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: testSecret})

	tests := []struct {
		name string
		deps Deps
		want error
	}{
		{"no backend", Deps{Completer: &fakeCompleter{}, Auth: auth.NewMiddleware(authn)}, ErrNilBackend},
		{"no completer", Deps{Backend: client, Auth: auth.NewMiddleware(authn)}, ErrNilCompleter},
		{"no auth", Deps{Backend: client, Completer: &fakeCompleter{}}, ErrNilAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(Config{}, tt.deps); !errors.Is(err, tt.want) {
				t.Errorf("NewServer() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestServer_Preflight(t *testing.T) {
	f := newFixture(t, Config{})

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/generate-content", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("OPTIONS = %d %q, want 200 ok", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "authorization") {
		t.Errorf("Allow-Headers = %q", got)
	}
}

func TestServer_CORSRestrictedOrigins(t *testing.T) {
	f := newFixture(t, Config{AllowedOrigins: []string{"https://app.example.com"}})

	for origin, want := range map[string]string{
		"https://app.example.com": "https://app.example.com",
		"https://evil.example":    "",
	} {
		req := httptest.NewRequest(http.MethodOptions, "/functions/v1/accept-proposal", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("Origin %s: Allow-Origin = %q, want %q", origin, got, want)
		}
	}
}

func TestServer_RequiresToken(t *testing.T) {
	f := newFixture(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/generate-content", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS headers missing on auth failure")
	}
	if n := len(f.backend.Requests()); n != 0 {
		t.Errorf("backend saw %d requests for an unauthenticated call", n)
	}
	if f.completer.reqs != nil {
		t.Error("completer called for an unauthenticated call")
	}
}

func TestServer_HealthRoutes(t *testing.T) {
	f := newFixture(t, Config{})
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /readyz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_RequestID(t *testing.T) {
	f := newFixture(t, Config{})
	f.completer.text = `{"content":"ok"}`

	rec := f.post(t, "generate-content", `{"kind":"summary","prompt":"x"}`)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id not set")
	}

	req := httptest.NewRequest(http.MethodPost, "/functions/v1/generate-content", strings.NewReader(`{"kind":"summary","prompt":"x"}`))
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("X-Request-Id", "req-123")
	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
		t.Errorf("X-Request-Id = %q, want req-123", got)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	f := newFixture(t, Config{})
	if rec := f.post(t, "missing", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
