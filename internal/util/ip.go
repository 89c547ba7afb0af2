package util

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP address from a request, honoring
// proxy headers (X-Forwarded-For, X-Real-IP) when present.
func GetClientIP(r *http.Request) string {
	// X-Forwarded-For format: client, proxy1, proxy2
	xForwardedFor := r.Header.Get("X-Forwarded-For")
	if xForwardedFor != "" {
		ips := strings.Split(xForwardedFor, ",")
		if len(ips) > 0 {
			clientIP := strings.TrimSpace(ips[0])
			if clientIP != "" {
				return clientIP
			}
		}
	}

	// X-Real-IP is a common single-hop alternative
	xRealIP := r.Header.Get("X-Real-IP")
	if xRealIP != "" {
		return strings.TrimSpace(xRealIP)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return ip
	}

	return r.RemoteAddr
}
