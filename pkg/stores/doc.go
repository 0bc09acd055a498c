// Package stores persists run history in SQLite.
//
// Each run records the plan it executed, one row per plan action with the
// captured process output, and the terminal outcome including hook failures.
// Published telemetry events can be appended to the same database through
// EventSink. The schema is managed with embedded golang-migrate migrations.
package stores
