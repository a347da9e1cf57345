// Package cache is the query cache shared by every data-fetching path.
//
// A Store maps a logical query Key (for example {"invoices", "list",
// {"status": "pendente"}}) to the last JSON payload fetched for it, together
// with freshness metadata. How long a payload stays fresh, and how long an
// unused entry survives, is decided per data Category through the policy
// table (see DefaultPolicyTable).
//
// Stores are explicit values. Tests and tenants build independent stores;
// there is no package-level cache.
package cache
