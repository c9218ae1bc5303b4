package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// allows reports whether r carries credentials matching a. A bearer token
// may come from the Authorization header or, because browsers cannot set
// headers on websocket upgrades, from the access_token query parameter.
func (a AuthConfig) allows(r *http.Request) bool {
	if a.BearerToken != "" {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = r.URL.Query().Get("access_token")
		}
		if token != "" && secretEqual(token, a.BearerToken) {
			return true
		}
	}
	if a.BasicUser == "" || a.BasicPass == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	// Both comparisons run so timing does not reveal which one failed.
	userOK := secretEqual(user, a.BasicUser)
	passOK := secretEqual(pass, a.BasicPass)
	return ok && userOK && passOK
}

func requireAuth(a AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.allows(r) {
				logger.Warn("unauthorized request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
