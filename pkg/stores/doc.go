// Package stores persists the history of verification runs in SQLite.
// Each run records its status, the stages it executed (with the checked out
// revision) and every external command with its exit code and duration.
// Schema migrations are embedded and applied with golang-migrate.
package stores
