package auth

import (
	"slices"
	"time"
)

// Identity is an authenticated backend user.
type Identity struct {
	// Principal is the user id (sub claim).
	Principal string

	// TenantID is the agency the user belongs to (app_metadata.tenant_id).
	TenantID string

	// Email is the email claim, when present.
	Email string

	// Role is the backend role claim, usually "authenticated".
	Role string

	// Roles are application roles from app_metadata.roles.
	Roles []string

	// Token is the raw access token. Function handlers forward it so backend
	// row-level security applies to the caller.
	Token string

	// Claims contains the raw claims from the token.
	Claims map[string]any

	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasRole reports whether role is the backend role or an application role.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	return id.Role == role || slices.Contains(id.Roles, role)
}

// IsExpired reports whether the identity expired before now.
func (id *Identity) IsExpired(now time.Time) bool {
	if id.ExpiresAt.IsZero() {
		return false
	}
	return now.After(id.ExpiresAt)
}
