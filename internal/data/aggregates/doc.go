// Package aggregates owns transaction boundaries for invariant-critical writes.
//
// Callers compose table-level repos from internal/data/repos inside Write or
// RetryConflicts; this package maps storage failures onto the shared error
// codes and reports every operation to the configured Hooks.
package aggregates
