// Package sqlstore provides a database/sql implementation of the storage
// interfaces for PostgreSQL (through pgx) and SQLite (through the pure-Go
// modernc driver).
//
// Both dialects share one embedded schema. Timestamps are stored as unix
// milliseconds and scope sets as space-separated text.
//
// Redemption of codes and refresh tokens is a single DELETE ... RETURNING
// statement, so the database guarantees that only one caller receives a
// record. Access-token identifiers are reserved in a retired_identifiers
// table before use, which keeps them unique after tokens are deleted.
//
// Example usage:
//
//	store, err := sqlstore.OpenSQLite(ctx, "/var/lib/oauth-engine/engine.db")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package sqlstore
