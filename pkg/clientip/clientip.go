// Package clientip resolves the address a request is attributed to.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is returned when RemoteAddr is empty.
const Unknown = "unknown"

// RealClientIP returns the host part of r.RemoteAddr. Proxy headers are not
// read here; the router's chi RealIP middleware has already rewritten
// RemoteAddr from X-Real-IP / X-Forwarded-For when present.
func RealClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return Unknown
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}
