// Package agency wraps the agency backend tables and procedures in cached
// queries and notifying mutations.
//
// Every entity lives under one cache root ("invoices", "tasks", ...). Lists
// are cached under {root, "list", params} and single records under
// {root, "detail", id}, so invalidating {root} refreshes both.
//
// Mark-paid and task status changes are optimistic: the cached detail and
// any cached list containing the record show the new status immediately and
// revert if the backend rejects the write.
package agency
