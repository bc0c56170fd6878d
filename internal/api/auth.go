package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerToken returns the credential from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// keyMatches compares in constant time. An unset key never matches.
func keyMatches(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="claudegw"`)
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !keyMatches(token, s.config.APIKey) {
			s.logger.Warn("rejected API key", "remote", r.RemoteAddr)
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
