package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tapline/tapline/internal/platform/httpx"
	"github.com/tapline/tapline/internal/shared"
)

// PermissionsHandler exposes the policy table and permission checks.
type PermissionsHandler struct {
	logger   *slog.Logger
	resolver *Resolver
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, resolver *Resolver) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, resolver: resolver}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/policy", h.showPolicy)
	r.Get("/check", h.check)
}

type policyResponse struct {
	RootAdminRole string              `json:"root_admin_role"`
	Anonymous     []string            `json:"anonymous"`
	Authenticated []string            `json:"authenticated"`
	Roles         map[string][]string `json:"roles"`
}

type decisionResponse struct {
	Allowed    bool   `json:"allowed"`
	Reason     Reason `json:"reason"`
	BarID      string `json:"bar_id,omitempty"`
	Role       string `json:"role,omitempty"`
	Capability string `json:"capability"`
}

func (h *PermissionsHandler) showPolicy(w http.ResponseWriter, _ *http.Request) {
	doc := h.resolver.Policy().Document()
	httpx.JSON(w, http.StatusOK, policyResponse{
		RootAdminRole: doc.RootAdminRole,
		Anonymous:     doc.Anonymous,
		Authenticated: doc.Authenticated,
		Roles:         doc.Roles,
	})
}

func (h *PermissionsHandler) check(w http.ResponseWriter, r *http.Request) {
	capability, err := shared.ParseCapability(r.URL.Query().Get("capability"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	decision, err := h.resolver.Decide(r.Context(), shared.PrincipalFromContext(r.Context()), r.URL.Query().Get("bar"), capability)
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "permission check", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResponse{
		Allowed:    decision.Allowed,
		Reason:     decision.Reason,
		BarID:      decision.BarID,
		Role:       decision.Role,
		Capability: string(capability),
	})
}
