// Package mutate drives remote changes against the console.
//
// Ownership boundary:
// - simple create/update/delete form posts
//
// - the artifact pipeline: submit -> register -> compile -> poll -> verify
//
// - compile log polling
//
// Lifecycle of an artifact change:
// - submitted (token scraped) -> registered -> building -> succeeded | failed
//
// - there is no rollback; a failure leaves the console at the last step it
//   reached, including an orphaned upload when registration fails.
package mutate
