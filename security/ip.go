package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the caller's IP address from the request.
//
// SECURITY: forwarding headers are only honoured when trustProxy is set,
// i.e. when the engine runs behind a reverse proxy that overwrites them.
// trustedProxyCount is the number of proxies appending to X-Forwarded-For
// (0 is treated as 1); the client address is read that many hops from the
// right so a caller cannot spoof it by prepending entries.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	hops := strings.Split(xff, ",")
	idx := len(hops) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
