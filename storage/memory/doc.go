// Package memory provides an in-memory implementation of the storage interfaces.
//
// All records live in maps guarded by a single sync.RWMutex; redemption and
// revocation take the write lock, which makes every check-and-mutate step
// atomic. Every access-token identifier ever issued is remembered so it can
// never be issued again, even after the token is deleted.
//
// It is suitable for development, testing, and single-instance deployments
// where persistence is not required. For anything else use storage/sqlstore
// or storage/valkey.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, signer, verifier, config, logger)
package memory
