package middleware

import (
	"net/http"
)

// BodyLimit bounds every request body read at max bytes. Reads past the
// bound fail with *http.MaxBytesError, which the dispatcher maps to a 413
// envelope. Declared oversize bodies (Content-Length above the bound) are
// rejected by the dispatcher after authentication, so an unauthenticated
// client still sees 401 first.
func BodyLimit(max int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	})
}
