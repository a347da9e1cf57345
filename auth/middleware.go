package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jonwraymond/querysync/observe"
)

// Middleware authenticates and authorizes HTTP requests.
type Middleware struct {
	authn  Authenticator
	authz  Authorizer
	logger observe.Logger
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithAuthorizer sets the authorizer. Default: AllowAllAuthorizer.
func WithAuthorizer(a Authorizer) MiddlewareOption {
	return func(m *Middleware) {
		if a != nil {
			m.authz = a
		}
	}
}

// WithLogger sets the logger used for denials and internal errors.
func WithLogger(l observe.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMiddleware creates a Middleware around authn.
func NewMiddleware(authn Authenticator, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		authn:  authn,
		authz:  AllowAllAuthorizer{},
		logger: observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Require wraps next. resource names the protected function for the
// authorizer. Failures answer 401 or 403 with a JSON {"error": ...} body;
// the identity of accepted requests is available via IdentityFromContext.
func (m *Middleware) Require(resource string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		res, err := m.authn.Authenticate(ctx, &AuthRequest{Headers: r.Header, Resource: resource})
		if err != nil {
			m.logger.Error(ctx, "authentication error", observe.F("resource", resource), observe.Err(err))
			writeAuthError(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}
		if !res.Authenticated {
			m.logger.Debug(ctx, "request not authenticated", observe.F("resource", resource), observe.Err(res.Error))
			w.Header().Set("WWW-Authenticate", `Bearer realm="functions"`)
			writeAuthError(w, http.StatusUnauthorized, message(res.Error))
			return
		}

		if err := m.authz.Authorize(ctx, &AuthzRequest{Subject: res.Identity, Resource: resource, Action: "invoke"}); err != nil {
			m.logger.Warn(ctx, "request forbidden",
				observe.F("resource", resource),
				observe.F("principal", res.Identity.Principal),
				observe.Err(err))
			status := http.StatusForbidden
			if !errors.Is(err, ErrForbidden) {
				status = http.StatusInternalServerError
			}
			writeAuthError(w, status, message(ErrForbidden))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, res.Identity)))
	})
}

func message(err error) string {
	if err == nil {
		return "unauthorized"
	}
	return strings.TrimPrefix(err.Error(), "auth: ")
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
