package auth

import (
	"context"
	"fmt"
	"strings"
)

// Authorizer determines if an identity may invoke a function.
type Authorizer interface {
	// Authorize returns nil if permitted, or an error (typically *AuthzError).
	Authorize(ctx context.Context, req *AuthzRequest) error

	// Name returns a unique identifier for this authorizer.
	Name() string
}

// AuthzRequest contains the information needed for authorization.
type AuthzRequest struct {
	// Subject is the identity making the request.
	Subject *Identity

	// Resource is the function name, e.g. "accept-proposal".
	Resource string

	// Action is the requested action, e.g. "invoke".
	Action string
}

// AuthzError represents an authorization failure.
type AuthzError struct {
	Subject  string
	Resource string
	Action   string
	Reason   string
}

// Error returns the error message.
func (e *AuthzError) Error() string {
	return fmt.Sprintf("authorization denied: subject=%q resource=%q action=%q reason=%q",
		e.Subject, e.Resource, e.Action, e.Reason)
}

// Is reports whether this error matches the target.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

// AllowAllAuthorizer permits all requests.
type AllowAllAuthorizer struct{}

// Authorize always returns nil (permitted).
func (AllowAllAuthorizer) Authorize(context.Context, *AuthzRequest) error { return nil }

// Name returns "allow_all".
func (AllowAllAuthorizer) Name() string { return "allow_all" }

// RoleAuthorizer permits identities holding any of Roles. Resources lists
// per-function overrides.
type RoleAuthorizer struct {
	Roles     []string
	Resources map[string][]string
}

// RequireRoles returns a RoleAuthorizer for roles.
func RequireRoles(roles ...string) *RoleAuthorizer {
	return &RoleAuthorizer{Roles: roles}
}

// Authorize checks the subject's roles.
func (a *RoleAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	roles := a.Roles
	if r, ok := a.Resources[req.Resource]; ok {
		roles = r
	}
	if len(roles) == 0 {
		return nil
	}
	for _, role := range roles {
		if req.Subject.HasRole(role) {
			return nil
		}
	}
	subject := ""
	if req.Subject != nil {
		subject = req.Subject.Principal
	}
	return &AuthzError{
		Subject:  subject,
		Resource: req.Resource,
		Action:   req.Action,
		Reason:   "requires one of roles " + strings.Join(roles, ", "),
	}
}

// Name returns "roles".
func (a *RoleAuthorizer) Name() string { return "roles" }

// AuthorizerFunc is an adapter to allow use of ordinary functions as Authorizers.
type AuthorizerFunc func(ctx context.Context, req *AuthzRequest) error

// Authorize calls the function.
func (f AuthorizerFunc) Authorize(ctx context.Context, req *AuthzRequest) error {
	return f(ctx, req)
}

// Name returns "func" for function-based authorizers.
func (f AuthorizerFunc) Name() string {
	return "func"
}

var (
	_ Authorizer = AllowAllAuthorizer{}
	_ Authorizer = (*RoleAuthorizer)(nil)
	_ Authorizer = AuthorizerFunc(nil)
)
