package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tapline/tapline/internal/platform/httpx"
	"github.com/tapline/tapline/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// BarFromURLParam reads the target bar from a chi route parameter.
func BarFromURLParam(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// BarFromQuery reads the target bar from a query parameter.
func BarFromQuery(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}

// RootBar targets the root bar.
func RootBar(*http.Request) string {
	return ""
}

// Require ensures the request principal holds capability on the bar picked by barFrom.
func (m Middleware) Require(capability shared.Capability, barFrom func(*http.Request) string) func(http.Handler) http.Handler {
	if barFrom == nil {
		barFrom = RootBar
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			err := m.Resolver.Require(r.Context(), principal, barFrom(r), capability)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			if httpx.StatusFor(err) >= http.StatusInternalServerError && m.Logger != nil {
				m.Logger.Error("rbac require", slog.String("capability", string(capability)), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
		})
	}
}
