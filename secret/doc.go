// Package secret resolves secret values referenced from configuration.
//
// Configuration strings go through two steps:
//   - strict environment expansion (see ExpandEnvStrict);
//   - secret references, resolved through a Provider (see Resolver).
//
// References use the prefix "secretref:":
//   - Full value:  secretref:env:BACKEND_SERVICE_KEY
//   - Inline use:  Bearer secretref:file:jwt_secret
//
// Two providers are built in: "env" reads environment variables and "file"
// reads mounted secret files (one secret per file, as Docker and Kubernetes
// mount them).
package secret
