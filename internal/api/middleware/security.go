package middleware

import "net/http"

// SecurityHeaders adds response headers that keep browsers from sniffing,
// framing or leaking referrers for relay and ops responses. HSTS is left to
// the TLS-terminating proxy, since the relay itself serves plain HTTP.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}
