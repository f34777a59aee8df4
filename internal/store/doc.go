// Package store declares the run-history repository the progress pipeline
// writes to and the status API reads from. Implementations live in
// internal/storage; this package must not import database drivers.
package store
