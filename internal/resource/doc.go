// Package resource owns the desired-state model and the per-kind console
// layout.
//
// Ownership boundary:
// - desired-state records and their validation
//
// - kind configuration (paths, columns, detail rules)
//
// - the kind registry
//
// Every kind is data: the reconcile engine is shared, only Kind differs.
package resource
