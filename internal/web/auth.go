package web

import (
	"context"
	"net/http"

	"daycal/internal/identity"
	appLog "daycal/internal/log"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// identityFrom returns the caller established by authMiddleware.
func identityFrom(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity.Identity)
	return id, ok
}

// authMiddleware wraps all handlers except /health and /metrics with bearer
// token auth. Browsers cannot set headers on websocket upgrades, so the
// token may also arrive as ?access_token=.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 와 /metrics 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		token := identity.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}

		id, err := s.verifier.Verify(token)
		if err != nil {
			appLog.Debug("request rejected", "path", r.URL.Path, "reason", err.Error())
			w.Header().Set("WWW-Authenticate", `Bearer realm="daycal"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}
