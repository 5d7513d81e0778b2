package api

import (
	"crypto/subtle"
	"net/http"
)

// SecretHeader carries the shared secret on state-changing requests.
const SecretHeader = "X-Auth-Secret"

// RequireSecret creates a middleware that rejects requests whose shared
// secret header does not match. An empty configured secret disables the
// check.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or incorrect auth secret")
		})
	}
}
