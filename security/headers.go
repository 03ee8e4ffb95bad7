package security

import (
	"net/http"
	"net/url"
)

// responseHeaders are set on every token engine response. Token responses
// carry credentials, so nothing may be cached or framed.
var responseHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store",
	"Pragma":                  "no-cache",
}

// SetSecurityHeaders sets the security headers of the token endpoints.
// HSTS is only sent when the issuer URL is served over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	for k, v := range responseHeaders {
		h.Set(k, v)
	}

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}
