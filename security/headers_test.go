package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		issuer   string
		wantHSTS bool
	}{
		{name: "HTTPS issuer", issuer: "https://auth.example.com", wantHSTS: true},
		{name: "HTTP issuer", issuer: "http://localhost:8080", wantHSTS: false},
		{name: "invalid URL", issuer: "://invalid", wantHSTS: false},
		{name: "empty issuer", issuer: "", wantHSTS: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.issuer)

			for k, want := range responseHeaders {
				if got := w.Header().Get(k); got != want {
					t.Errorf("%s = %q, want %q", k, got, want)
				}
			}

			hsts := w.Header().Get("Strict-Transport-Security")
			if tt.wantHSTS && hsts == "" {
				t.Error("Strict-Transport-Security should be set for HTTPS")
			}
			if !tt.wantHSTS && hsts != "" {
				t.Errorf("Strict-Transport-Security = %q, want unset", hsts)
			}
		})
	}
}

func TestSetSecurityHeaders_NoStore(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w, "https://auth.example.com")

	// RFC 6749 section 5.1 requires no-store on token responses
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}
