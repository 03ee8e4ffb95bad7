// Package static implements providers.PasswordVerifier from a fixed user list.
//
// Users are usually loaded from a YAML file:
//
//	users:
//	  - username: alice
//	    user_id: "7f3c1d2e"
//	    password_hash: "$2a$10$..."
//
// Password hashes are bcrypt hashes as produced by security.HashSecret.
package static

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth-engine/providers"
	"github.com/giantswarm/oauth-engine/security"
)

// User is one entry of the users file.
type User struct {
	Username     string `yaml:"username"`
	UserID       string `yaml:"user_id"`
	PasswordHash string `yaml:"password_hash"`
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// Verifier checks credentials against an in-memory user list.
// It is safe for concurrent use; the list is never mutated after New.
type Verifier struct {
	users map[string]User
}

var _ providers.PasswordVerifier = (*Verifier)(nil)

// New creates a verifier for the given users. Usernames must be unique and
// every user needs a user ID and a password hash.
func New(users []User) (*Verifier, error) {
	byName := make(map[string]User, len(users))
	for i, u := range users {
		u.Username = strings.TrimSpace(u.Username)
		switch {
		case u.Username == "":
			return nil, fmt.Errorf("user %d: username is required", i)
		case u.UserID == "":
			return nil, fmt.Errorf("user %q: user_id is required", u.Username)
		case u.PasswordHash == "":
			return nil, fmt.Errorf("user %q: password_hash is required", u.Username)
		}
		if _, dup := byName[u.Username]; dup {
			return nil, fmt.Errorf("user %q: duplicate username", u.Username)
		}
		byName[u.Username] = u
	}
	return &Verifier{users: byName}, nil
}

// Parse creates a verifier from the YAML content of a users file.
func Parse(data []byte) (*Verifier, error) {
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}
	return New(f.Users)
}

// Load reads and parses the users file at path.
func Load(path string) (*Verifier, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}
	return Parse(data)
}

// Len returns the number of known users.
func (v *Verifier) Len() int {
	return len(v.users)
}

// VerifyUserCredentials implements providers.PasswordVerifier.
//
// SECURITY: unknown usernames are compared against a dummy hash so they take
// as long as a wrong password.
func (v *Verifier) VerifyUserCredentials(ctx context.Context, username, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u, ok := v.users[username]
	if err := security.CompareSecret(u.PasswordHash, password); err != nil || !ok {
		return "", providers.ErrAuthenticationFailed
	}
	return u.UserID, nil
}
