// Package logging builds the slog loggers used by the daemon and CLI.
//
// Two handlers are available: a console handler that lifts component, job,
// and stage into a readable line prefix, and a JSON handler with short keys
// (ts, level, msg) for log shipping. WithContext copies job, stage, and
// correlation ids from a context onto a logger.
package logging
