package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tapline/tapline/internal/accounts"
	"github.com/tapline/tapline/internal/auth"
	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/items"
	"github.com/tapline/tapline/internal/observability"
	"github.com/tapline/tapline/internal/platform/httpx"
	"github.com/tapline/tapline/internal/rbac"
	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/users"
	"github.com/tapline/tapline/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Tokens  *auth.TokenStore
	Metrics *observability.Metrics
	// Ready reports storage health for /healthz.
	Ready func(ctx context.Context) error

	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	BarsHandler        *bars.Handler
	RolesHandler       *roles.Handler
	ItemsHandler       *items.Handler
	AccountsHandler    *accounts.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with tapline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Tokens:  params.Tokens,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				httpx.Problem(w, http.StatusServiceUnavailable, "storage unavailable", err.Error())
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mount := func(pattern string, h interface{ MountRoutes(chi.Router) }) {
		r.Route(pattern, h.MountRoutes)
	}
	if params.AuthHandler != nil {
		mount("/auth", params.AuthHandler)
	}
	if params.UsersHandler != nil {
		mount("/users", params.UsersHandler)
	}
	if params.BarsHandler != nil {
		mount("/bars", params.BarsHandler)
	}
	if params.RolesHandler != nil {
		mount("/roles", params.RolesHandler)
	}
	if params.ItemsHandler != nil {
		mount("/stockitems", params.ItemsHandler)
	}
	if params.AccountsHandler != nil {
		mount("/accounts", params.AccountsHandler)
	}
	if params.PermissionsHandler != nil {
		mount("/permissions", params.PermissionsHandler)
	}
	if params.JobHandler != nil {
		mount("/admin/jobs", params.JobHandler)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// HandlersFor builds the HTTP handlers of every service.
func HandlersFor(svc *Services, logger *slog.Logger) RouterParams {
	params := RouterParams{
		Logger:             logger,
		UsersHandler:       users.NewHandler(logger, svc.Users),
		BarsHandler:        bars.NewHandler(logger, svc.Bars),
		RolesHandler:       roles.NewHandler(logger, svc.Roles),
		ItemsHandler:       items.NewHandler(logger, svc.Items),
		AccountsHandler:    accounts.NewHandler(logger, svc.Accounts),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, svc.Resolver),
	}
	if svc.Auth != nil {
		params.AuthHandler = auth.NewHandler(logger, svc.Auth)
	}
	return params
}
