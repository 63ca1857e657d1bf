package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/mapvision/authority"
)

// proxyHeaders are consulted in order when proxy headers are trusted.
var proxyHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// ClientIP returns the caller's address. With trustProxy it prefers the
// first valid address from CF-Connecting-IP, X-Forwarded-For and X-Real-IP;
// otherwise, or when none is valid, it uses RemoteAddr.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, h := range proxyHeaders {
			for _, part := range strings.Split(r.Header.Get(h), ",") {
				if addr, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
					return addr.Unmap().String()
				}
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}

// Origin attaches the client address and User-Agent to the request context
// for the engine.
func Origin(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authority.WithClientIP(r.Context(), ClientIP(r, trustProxy))
			ctx = authority.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
