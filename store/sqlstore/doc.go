// Package sqlstore implements goCred.CredentialStore over PostgreSQL
// (lib/pq) or SQLite (modernc.org/sqlite) through sqlx.
//
// The schema ships as embedded per-driver migrations applied by Open or
// Migrate. Unique violations from either driver surface as ErrConflict.
// IncrementFailures is a single UPDATE and AppendSessionEventOnce claims a
// (session, kind) primary key, so a Store satisfies goCred.FailureCounter
// and goCred.SessionEventDeduper.
package sqlstore
