package util

import (
	"net"
	"strings"
)

// IdentifierLogLength is the number of characters of a code or token
// identifier included in log lines.
const IdentifierLogLength = 8

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-token-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                  // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// LogPrefix returns the loggable prefix of a secret identifier.
func LogPrefix(identifier string) string {
	return SafeTruncate(identifier, IdentifierLogLength)
}

// IsLoopbackHost reports whether host (without port) names the local machine:
// "localhost", a *.localhost name, or a loopback IP literal.
func IsLoopbackHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
