package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tapline/tapline/internal/platform/httpx"
	"github.com/tapline/tapline/internal/shared"
)

// BearerToken extracts the token of an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// Middleware resolves the bearer token into the request principal. Requests without
// an Authorization header continue anonymously.
func Middleware(tokens *TokenStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := BearerToken(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := tokens.Resolve(r.Context(), token)
			if err != nil {
				if httpx.StatusFor(err) >= http.StatusInternalServerError && logger != nil {
					logger.Error("resolve token", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
