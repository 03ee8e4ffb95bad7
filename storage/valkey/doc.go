// Package valkey provides a Valkey storage backend for the token engine.
//
// Valkey is a high-performance key-value store that is wire-compatible with
// Redis. The Store type implements [storage.Store]. Codes and refresh tokens
// carry native key expiry, so only the code expiry index needs sweeping.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth-engine:") to avoid
// conflicts with other applications sharing the same Valkey instance:
//
//	{prefix}client:{id}                 -> JSON(Client)
//	{prefix}client:pub:{publicID}       -> client ID
//	{prefix}clients                     -> SET of client IDs
//	{prefix}client:codes:{clientID}     -> SET of code identifiers
//	{prefix}client:tokens:{clientID}    -> SET of access token IDs
//	{prefix}code:{identifier}           -> JSON(AuthCode) (with TTL)
//	{prefix}codes:expiry                -> ZSET identifier by expiry (ms)
//	{prefix}at:{id}                     -> HASH(AccessToken)
//	{prefix}at:ident:{identifier}       -> access token ID
//	{prefix}retired:{identifier}        -> reservation time (ms), never deleted
//	{prefix}rt:{identifier}             -> JSON(RefreshToken) (with TTL)
//	{prefix}rt:at:{accessTokenID}       -> refresh identifier (with TTL)
//
// # Atomic Operations
//
// Every check-and-mutate step runs as a Lua script so that concurrent
// callers on any number of engine replicas see one consistent outcome:
//
//   - Redeeming a code or refresh token is GET plus DEL in one script
//   - Revocation flips the hash fields and drops the refresh token together
//   - Access-token identifiers are reserved with SET NX on a key that is
//     never deleted, so an identifier is never issued twice
//
// Expiry checks inside the scripts compare against a timestamp passed by
// the caller, so all replicas use the engine's clock rather than Valkey's.
//
// The scripts derive some keys from the prefix, so the store requires a
// single-node or non-clustered deployment.
//
// # Configuration
//
// Basic usage:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth-engine:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
