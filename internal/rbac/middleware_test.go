package rbac_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/tapline/tapline/internal/rbac"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/testing/fixture"
)

func withPrincipal(p *shared.Principal, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	})
}

func TestMiddlewareRequire(t *testing.T) {
	env := fixture.New(t)
	env.Bar(t, "b", env.Root.ID)
	staff := env.User(t, "staff")
	env.Grant(t, staff.ID, "b", "staff")

	mw := rbac.Middleware{Resolver: env.Svc.Resolver, Logger: env.Logger}
	router := func(p *shared.Principal) http.Handler {
		r := chi.NewRouter()
		r.With(mw.Require(shared.CapManageBarSettings, rbac.BarFromURLParam("bar"))).
			Get("/bars/{bar}/settings", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		r.With(mw.Require(shared.CapManageBar, nil)).
			Get("/root", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		return withPrincipal(p, r)
	}

	cases := []struct {
		name      string
		principal *shared.Principal
		path      string
		status    int
	}{
		{"staff on own bar", fixture.As(staff.ID), "/bars/b/settings", http.StatusNoContent},
		{"staff on root", fixture.As(staff.ID), "/bars/root/settings", http.StatusForbidden},
		{"anonymous", nil, "/bars/b/settings", http.StatusUnauthorized},
		{"unknown bar", fixture.As(staff.ID), "/bars/nope/settings", http.StatusNotFound},
		{"staff manage root", fixture.As(staff.ID), "/root", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router(tc.principal).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestPermissionsHandler(t *testing.T) {
	env := fixture.New(t)
	env.Bar(t, "b", env.Root.ID)
	staff := env.User(t, "staff")
	env.Grant(t, staff.ID, "b", "staff")

	r := chi.NewRouter()
	rbac.NewPermissionsHandler(env.Logger, env.Svc.Resolver).MountRoutes(r)
	h := withPrincipal(fixture.As(staff.ID), r)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check?capability=manage-bar-settings&bar=b", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var decision struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
		BarID   string `json:"bar_id"`
		Role    string `json:"role"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&decision))
	require.True(t, decision.Allowed)
	require.Equal(t, "role", decision.Reason)
	require.Equal(t, "b", decision.BarID)
	require.Equal(t, "staff", decision.Role)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check?capability=launch-rockets", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policy", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var policy struct {
		RootAdminRole string              `json:"root_admin_role"`
		Roles         map[string][]string `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&policy))
	require.Equal(t, "admin", policy.RootAdminRole)
	require.Contains(t, policy.Roles, "usermanager")
}
