// Package providers defines how the token engine authenticates resource owners.
//
// The password grant hands the presented username and password to a
// PasswordVerifier and binds the returned user ID into the issued tokens.
// The engine never sees or stores user passwords itself.
//
// Implementations are provided in subpackages:
//   - providers/static: users loaded from a YAML file with bcrypt hashes
//   - providers/mock: mock verifier for testing
//
// Example usage:
//
//	users, err := static.Load("users.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := server.New(store, tokenSigner, users, config, logger)
package providers
