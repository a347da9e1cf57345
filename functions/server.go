package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/querysync/auth"
	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/health"
	"github.com/jonwraymond/querysync/observe"
)

const (
	basePath = "/functions/v1/"

	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "POST, OPTIONS"
)

// Config configures a Server.
type Config struct {
	// AllowedOrigins lists origins allowed by CORS. "*" allows any.
	// Default: ["*"]
	AllowedOrigins []string

	// MaxBodyBytes bounds request bodies.
	// Default: 1 MiB
	MaxBodyBytes int64

	// InvoiceDueDays is the due date offset of the first invoice created by
	// accept-proposal.
	// Default: 30
	InvoiceDueDays int

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// Deps are the collaborators of a Server.
type Deps struct {
	Backend   *backend.Client
	Completer Completer
	Auth      *auth.Middleware

	// Health, when set, is served on /healthz, /readyz and /health.
	Health *health.Aggregator

	Middleware *observe.Middleware
	Logger     observe.Logger
}

// Server routes function requests.
//
// Contract:
// - Concurrency: safe for concurrent use; handlers keep no state.
// - Errors: failures answer a JSON body {"error": ...}.
type Server struct {
	cfg  Config
	deps Deps
	mux  *http.ServeMux
}

// NewServer creates a Server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Backend == nil:
		return nil, ErrNilBackend
	case deps.Completer == nil:
		return nil, ErrNilCompleter
	case deps.Auth == nil:
		return nil, ErrNilAuth
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.InvoiceDueDays <= 0 {
		cfg.InvoiceDueDays = 30
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Middleware == nil {
		deps.Middleware = observe.NopMiddleware()
	}
	if deps.Logger == nil {
		deps.Logger = observe.NopLogger()
	}

	s := &Server{cfg: cfg, deps: deps, mux: http.NewServeMux()}
	s.handle("generate-content", s.generateContent)
	s.handle("accept-proposal", s.acceptProposal)
	if deps.Health != nil {
		health.RegisterHandlers(s.mux, deps.Health)
	}
	return s, nil
}

// ServeHTTP applies CORS and dispatches the request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.cors(w, r)
	if r.Method == http.MethodOptions {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", reqID)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) cors(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	origin := r.Header.Get("Origin")
	switch {
	case slices.Contains(s.cfg.AllowedOrigins, "*"):
		h.Set("Access-Control-Allow-Origin", "*")
	case origin != "" && slices.Contains(s.cfg.AllowedOrigins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	default:
		return
	}
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
}

// handlerFunc handles one decoded invocation and returns the response body.
type handlerFunc func(ctx context.Context, r *http.Request) (int, any)

func (s *Server) handle(name string, fn handlerFunc) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := auth.IdentityFromContext(ctx)
		if id != nil && id.Token != "" {
			ctx = backend.WithToken(ctx, id.Token)
		}
		meta := observe.OperationMeta{Kind: observe.KindFunction, Name: name, TenantID: auth.TenantIDFromContext(ctx)}

		var (
			status int
			body   any
		)
		_ = s.deps.Middleware.Run(ctx, meta, func(ctx context.Context) error {
			status, body = fn(ctx, r)
			if status >= http.StatusInternalServerError {
				return fmt.Errorf("functions: %s answered %d", name, status)
			}
			return nil
		})
		writeJSON(w, status, body)
	})
	s.mux.Handle("POST "+basePath+name, s.deps.Auth.Require(name, h))
}

// errorBody is the failure response. Step names the failed write of a
// multi-step function.
type errorBody struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
}

func decodeBody(r *http.Request, limit int64, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// errorStatus maps err to a response status. Backend 4xx answers keep their
// status; everything else upstream is a bad gateway.
func errorStatus(err error) int {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case backend.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return apiErr.Status
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func failure(err error, step string) (int, any) {
	return errorStatus(err), errorBody{Error: strings.TrimPrefix(err.Error(), "functions: "), Step: step}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
