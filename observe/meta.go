package observe

import "strings"

// Operation kinds used across the module.
const (
	KindQuery    = "query"
	KindMutation = "mutation"
	KindRPC      = "rpc"
	KindFunction = "function"
	KindRealtime = "realtime"
	KindPersist  = "persist"
)

// OperationMeta describes one instrumented operation: a table query, an RPC,
// a mutation, a serverless function call.
type OperationMeta struct {
	Kind     string // query|mutation|rpc|function|realtime|persist
	Resource string // table, rpc function or route (may be empty)
	Name     string // operation name (required)
	TenantID string // tenant the operation runs for (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: querysync.<kind>.<resource>.<name>, empty parts are skipped.
func (m OperationMeta) SpanName() string {
	parts := []string{"querysync"}
	for _, p := range []string{m.Kind, m.Resource, m.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// OperationID returns resource.name, or name when there is no resource.
func (m OperationMeta) OperationID() string {
	if m.Resource != "" {
		return m.Resource + "." + m.Name
	}
	return m.Name
}

// Validate reports whether the metadata can be used for telemetry.
func (m OperationMeta) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrMissingOperationName
	}
	return nil
}
