// Package storage defines the persistence contracts of the token engine.
//
// The storage package describes four record stores and their shared models:
//   - ClientStore: registered OAuth clients
//   - AuthCodeStore: single-use authorization codes
//   - AccessTokenStore: issued access tokens and their revocation state
//   - RefreshTokenStore: refresh tokens paired one-to-one with access tokens
//
// Every engine must make redemption of codes and refresh tokens a single
// atomic conditional mutation, keep access-token identifiers unique forever,
// and cascade revocation to the paired refresh token.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/sqlstore: PostgreSQL (pgx) and SQLite (modernc) storage
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/mock: Failure-injecting wrapper for unit testing
//   - storage/storagetest: Behaviour suite every engine runs in its tests
package storage
