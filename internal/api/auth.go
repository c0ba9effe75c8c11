package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// requireBearer guards the MCP endpoint with a static token. The scheme name
// is matched case-insensitively; the token itself is compared in constant time.
func requireBearer(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.Warn("rejected MCP request", "remote", r.RemoteAddr, "has_token", ok)
				w.Header().Set("WWW-Authenticate", `Bearer realm="fluxmcp"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
