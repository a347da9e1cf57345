// Package backend is the client for the hosted Postgres backend's REST and
// RPC endpoints (PostgREST dialect).
//
// Every request carries the project's apikey header and a bearer token.
// Tables are queried under /rest/v1/{table} with filters in the query string
// (status=eq.pendente, id=in.(a,b)); stored procedures are called under
// /rest/v1/rpc/{fn}. Calls run through a resilience.Executor and are
// instrumented by an observe.Middleware.
package backend
