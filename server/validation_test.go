package server

import (
	"strings"
	"testing"

	"github.com/giantswarm/oauth-engine/internal/testutil"
)

func TestValidateRedirectURI(t *testing.T) {
	tests := []struct {
		uri     string
		wantErr bool
	}{
		{"https://app.example.com/callback", false},
		{"https://app.example.com:8443/cb?x=1", false},
		{"http://localhost:8080/callback", false},
		{"http://127.0.0.1/callback", false},
		{"http://[::1]:9000/cb", false},
		{"com.example.app:/oauth2redirect", false},
		{"", true},
		{"/relative/path", true},
		{"https:///no-host", true},
		{"https://app.example.com/cb#fragment", true},
		{"http://app.example.com/callback", true},
		{"javascript:alert(1)", true},
		{"data:text/html,hi", true},
		{"file:///etc/passwd", true},
		{"myapp://callback", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			err := validateRedirectURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRedirectURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCodeChallenge(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name      string
		challenge string
		method    string
		required  bool
		wantErr   bool
	}{
		{"absent and optional", "", "", false, false},
		{"absent and required", "", "", true, true},
		{"method without challenge", "", PKCEMethodS256, false, true},
		{"S256", challenge, PKCEMethodS256, true, false},
		{"plain", challenge, "plain", false, true},
		{"missing method", challenge, "", false, true},
		{"not a digest", "abc", PKCEMethodS256, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCodeChallenge(tt.challenge, tt.method, tt.required)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCodeChallenge() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePKCE(t *testing.T) {
	challenge, verifier := testutil.GeneratePKCEPair()
	_, otherVerifier := testutil.GeneratePKCEPair()

	tests := []struct {
		name     string
		method   string
		verifier string
		wantErr  bool
	}{
		{"matching verifier", PKCEMethodS256, verifier, false},
		{"other verifier", PKCEMethodS256, otherVerifier, true},
		{"missing verifier", PKCEMethodS256, "", true},
		{"too short", PKCEMethodS256, strings.Repeat("a", MinCodeVerifierLength-1), true},
		{"too long", PKCEMethodS256, strings.Repeat("a", MaxCodeVerifierLength+1), true},
		{"invalid characters", PKCEMethodS256, strings.Repeat("a", 42) + "!", true},
		{"plain method", "plain", verifier, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePKCE(challenge, tt.method, tt.verifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePKCE() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
