package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMux(results map[string]Result) *http.ServeMux {
	agg := NewAggregator()
	for name, r := range results {
		agg.Register(staticChecker(name, r))
	}
	mux := http.NewServeMux()
	RegisterHandlers(mux, agg)
	return mux
}

func get(mux http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLivenessHandler(t *testing.T) {
	rec := get(newTestMux(nil), "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain" {
		t.Errorf("Content-Type = %v, want text/plain", rec.Header().Get("Content-Type"))
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		results  map[string]Result
		wantCode int
		wantBody string
	}{
		{"healthy", map[string]Result{"backend": Healthy("ok")}, http.StatusOK, "OK"},
		{"degraded", map[string]Result{"backend": Healthy("ok"), "realtime": Degraded("down")}, http.StatusOK, "DEGRADED"},
		{"unhealthy", map[string]Result{"backend": Unhealthy("down", nil)}, http.StatusServiceUnavailable, "UNHEALTHY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(newTestMux(tt.results), "/readyz")
			if rec.Code != tt.wantCode || rec.Body.String() != tt.wantBody {
				t.Errorf("GET /readyz = %d %q, want %d %q", rec.Code, rec.Body.String(), tt.wantCode, tt.wantBody)
			}
		})
	}
}

func TestDetailedHandler(t *testing.T) {
	mux := newTestMux(map[string]Result{
		"backend": Healthy("reachable"),
		"persist": failed("write failed", ErrCheckFailed),
	})
	rec := get(mux, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", resp.Status)
	}
	if got := resp.Checks["persist"]; got.Error != ErrCheckFailed.Error() || got.Status != "degraded" {
		t.Errorf("Checks[persist] = %+v", got)
	}
	if resp.Checks["backend"].Message != "reachable" {
		t.Errorf("Checks[backend] = %+v", resp.Checks["backend"])
	}
}

func TestSingleCheckHandler(t *testing.T) {
	mux := newTestMux(map[string]Result{"backend": Unhealthy("down", nil)})

	if rec := get(mux, "/health/backend"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health/backend = %d, want 503", rec.Code)
	}
	rec := get(mux, "/health/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /health/missing = %d, want 404", rec.Code)
	}
}
