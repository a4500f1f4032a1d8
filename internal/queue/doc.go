// Package queue persists evaluation jobs, provider credentials, and results
// in SQLite and exposes helpers for driving the job lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, lock acquisition, heartbeat tracking, stale-job recovery, and the
// stage transitions that mirror the public Stage and Status enums. Every
// transition that belongs to a worker is guarded by the job's lock token, so
// a worker that lost its lease cannot overwrite a newer owner's progress.
//
// Store also implements quota.Repository for the credential pool.
//
// The schema version lives in PRAGMA user_version. Open refuses a file
// written by another version; operators move it aside to start fresh.
package queue
