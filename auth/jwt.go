package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// Secret is the backend's HS256 signing secret. Required.
	Secret []byte

	// Issuer is the expected token issuer (iss claim), e.g.
	// https://xyz.supabase.co/auth/v1. Empty skips the check.
	Issuer string

	// Audience is the expected token audience (aud claim).
	// Default: "authenticated"
	Audience string

	// TenantClaim is the dotted path of the tenant claim.
	// Default: "app_metadata.tenant_id"
	TenantClaim string

	// RolesClaim is the dotted path of the application roles claim.
	// Default: "app_metadata.roles"
	RolesClaim string

	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// JWTAuthenticator validates backend user tokens from the Authorization
// header.
type JWTAuthenticator struct {
	config JWTConfig
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a JWT authenticator.
func NewJWTAuthenticator(config JWTConfig) (*JWTAuthenticator, error) {
	if len(config.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if config.Audience == "" {
		config.Audience = "authenticated"
	}
	if config.TenantClaim == "" {
		config.TenantClaim = "app_metadata.tenant_id"
	}
	if config.RolesClaim == "" {
		config.RolesClaim = "app_metadata.roles"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
		jwt.WithTimeFunc(config.Now),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	return &JWTAuthenticator{config: config, parser: jwt.NewParser(opts...)}, nil
}

// Name returns "jwt".
func (a *JWTAuthenticator) Name() string {
	return "jwt"
}

// Authenticate validates the bearer token.
func (a *JWTAuthenticator) Authenticate(_ context.Context, req *AuthRequest) (*AuthResult, error) {
	token, ok := BearerToken(req.GetHeader("Authorization"))
	if !ok {
		return AuthFailure(ErrMissingCredentials), nil
	}

	claims := jwt.MapClaims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.config.Secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return AuthFailure(ErrTokenExpired), nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return AuthFailure(ErrTokenMalformed), nil
	case err != nil || !parsed.Valid:
		return AuthFailure(ErrInvalidCredentials), nil
	}

	id := a.buildIdentity(claims)
	if id.Principal == "" {
		return AuthFailure(ErrInvalidCredentials), nil
	}
	id.Token = token
	return AuthSuccess(id), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (a *JWTAuthenticator) buildIdentity(claims jwt.MapClaims) *Identity {
	id := &Identity{Claims: make(map[string]any, len(claims))}
	for k, v := range claims {
		id.Claims[k] = v
	}

	id.Principal, _ = claims.GetSubject()
	id.Email, _ = claims["email"].(string)
	id.Role, _ = claims["role"].(string)
	id.TenantID, _ = lookupClaim(claims, a.config.TenantClaim).(string)

	if roles, ok := lookupClaim(claims, a.config.RolesClaim).([]any); ok {
		id.Roles = make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}
	return id
}

// lookupClaim follows a dotted path through nested claim objects.
func lookupClaim(claims map[string]any, path string) any {
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

var _ Authenticator = (*JWTAuthenticator)(nil)
