// Package mock provides a mock implementation of providers.PasswordVerifier for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth-engine/providers"
)

// MockVerifier is a mock implementation of providers.PasswordVerifier
type MockVerifier struct {
	// VerifyUserCredentialsFunc is called when VerifyUserCredentials() is invoked
	VerifyUserCredentialsFunc func(ctx context.Context, username, password string) (string, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

var _ providers.PasswordVerifier = (*MockVerifier)(nil)

// NewMockVerifier creates a mock that accepts exactly the given users, keyed
// by username, each with password "password". The user ID is "user-" plus
// the username.
func NewMockVerifier(usernames ...string) *MockVerifier {
	known := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		known[u] = true
	}
	return &MockVerifier{
		CallCounts: make(map[string]int),
		VerifyUserCredentialsFunc: func(_ context.Context, username, password string) (string, error) {
			if !known[username] || password != "password" {
				return "", providers.ErrAuthenticationFailed
			}
			return "user-" + username, nil
		},
	}
}

// VerifyUserCredentials authenticates a user
func (m *MockVerifier) VerifyUserCredentials(ctx context.Context, username, password string) (string, error) {
	// Release lock before calling the user function; it may call back into the mock.
	m.mu.Lock()
	m.CallCounts["VerifyUserCredentials"]++
	fn := m.VerifyUserCredentialsFunc
	m.mu.Unlock()

	if fn == nil {
		return "", providers.ErrAuthenticationFailed
	}
	return fn(ctx, username, password)
}

// CallCount returns how often method was called
func (m *MockVerifier) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// ResetCallCounts resets all call counters
func (m *MockVerifier) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts = make(map[string]int)
}
