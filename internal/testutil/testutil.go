package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// MockTime provides a controllable time source for deterministic testing.
// It satisfies security.Clock and is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t.UTC()}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair for testing.
// Returns (challenge, verifier) where challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// FormRequest is a helper for building form-encoded test requests
type FormRequest struct {
	method  string
	target  string
	form    url.Values
	headers map[string]string
	user    string
	pass    string
	basic   bool
}

// NewFormRequest creates a form request helper
func NewFormRequest(method, target string) *FormRequest {
	return &FormRequest{
		method:  method,
		target:  target,
		form:    url.Values{},
		headers: make(map[string]string),
	}
}

// With sets a form field
func (r *FormRequest) With(key, value string) *FormRequest {
	r.form.Set(key, value)
	return r
}

// WithHeader sets a request header
func (r *FormRequest) WithHeader(key, value string) *FormRequest {
	r.headers[key] = value
	return r
}

// WithBasicAuth sets HTTP Basic client credentials
func (r *FormRequest) WithBasicAuth(user, pass string) *FormRequest {
	r.user, r.pass, r.basic = user, pass, true
	return r
}

// Build returns the *http.Request
func (r *FormRequest) Build() *http.Request {
	req := httptest.NewRequest(r.method, r.target, strings.NewReader(r.form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.basic {
		req.SetBasicAuth(r.user, r.pass)
	}
	return req
}

// Do executes the request against handler
func (r *FormRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r.Build())
	return rr
}
