// Package aggregates defines the error taxonomy shared by the hunt core.
//
// Storage-backed implementations live in internal/data/aggregates; this package
// only carries codes so that validators, the progress engine and the HTTP layer
// agree on what a failure means without importing each other.
package aggregates
