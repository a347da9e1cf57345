// Package auth authenticates callers of the function endpoints.
//
// Callers present the backend's user access token (an HS256 JWT signed with
// the project's JWT secret). JWTAuthenticator validates it and builds an
// Identity; Require is the HTTP middleware that rejects unauthenticated or
// unauthorized requests and stores the Identity in the request context.
package auth
