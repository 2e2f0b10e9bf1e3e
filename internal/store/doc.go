// ABOUTME: Package documentation for the account store
// ABOUTME: Describes the data model, SQLite configuration and test doubles

// Package store persists fleet accounts.
//
// # Data Model
//
// An Account holds the token the user supplied, the upstream identity it
// resolved to at creation time, and who created it. ExternalID (the
// upstream account id) is unique: storing the same account twice returns
// ErrDuplicateAccount.
//
// # SQLite Configuration
//
// SQLiteStore uses modernc.org/sqlite with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Times are stored as RFC3339 text. Columns added after the first schema
// are applied by runMigrations when the store opens.
//
// Tokens are stored as given. Protect the database file accordingly.
//
// # Testing
//
// NewMockStore returns an in-memory Store with the same error semantics.
// NewSQLiteStore(":memory:") gives a real SQLite database that vanishes on
// Close.
package store
