package middleware

import (
	"net/http"
	"slices"
)

// CorsMiddleware adds CORS headers for the configured origins and answers
// preflight requests. With no origins configured it adds nothing.
func CorsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(allowedOrigins) == 0 || origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed := slices.Contains(allowedOrigins, "*")
		if !allowed {
			allowed = slices.Contains(allowedOrigins, origin)
		}
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
