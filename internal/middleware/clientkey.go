package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// ClientIDHeader lets a client name itself for rate limiting. It is trusted as sent.
const ClientIDHeader = "X-Client-ID"

type clientKeyCtx struct{}

// ClientKey stores the caller's rate-limit key in the request context: the
// X-Client-ID header when present, otherwise the remote address. Mount it
// after chi's RealIP so proxies are accounted for.
func ClientKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(ClientIDHeader))
		if key == "" {
			key = remoteHost(r.RemoteAddr)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKeyCtx{}, key)))
	})
}

// ClientKeyFrom returns the key set by ClientKey, falling back to the remote address.
func ClientKeyFrom(r *http.Request) string {
	if key, ok := r.Context().Value(clientKeyCtx{}).(string); ok && key != "" {
		return key
	}
	return remoteHost(r.RemoteAddr)
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
