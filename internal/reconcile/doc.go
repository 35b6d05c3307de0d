// Package reconcile owns desired-vs-live decisions.
//
// Ownership boundary:
// - reading the live index and detail pages for one desired record
// - deciding NoOp, Create, Update or Delete
// - dispatching the decision to the mutate drivers
//
// Reconcile never caches live state: every Apply dials a fresh session and
// rescrapes what it needs.
package reconcile
