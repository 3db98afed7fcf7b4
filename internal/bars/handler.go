package bars

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tapline/tapline/internal/platform/httpx"
	"github.com/tapline/tapline/internal/shared"
)

// Handler wires HTTP endpoints for bars.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers bar routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Patch("/{id}", h.rename)
	r.Get("/{id}/settings", h.showSettings)
	r.Put("/{id}/settings", h.updateSettings)
	r.Post("/{id}/move", h.move)
}

type barResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toResponse(b Bar) barResponse {
	return barResponse{
		ID:        b.ID,
		Name:      b.Name,
		ParentID:  b.ParentID,
		Settings:  b.Settings,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

type createRequest struct {
	ID       string   `json:"id" validate:"required,max=63"`
	Name     string   `json:"name" validate:"required,max=100"`
	ParentID string   `json:"parent_id"`
	Settings Settings `json:"settings"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type moveRequest struct {
	ParentID string `json:"parent_id" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	bars, err := h.service.List(r.Context(), shared.PrincipalFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "list bars", err)
		return
	}
	out := make([]barResponse, 0, len(bars))
	for _, b := range bars {
		out = append(out, toResponse(b))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	bar, err := h.service.Get(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get bar", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(bar))
}

func (h *Handler) showSettings(w http.ResponseWriter, r *http.Request) {
	bar, err := h.service.Get(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get bar settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bar.Settings)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bar, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()), CreateInput{
		ID:       req.ID,
		Name:     req.Name,
		ParentID: req.ParentID,
		Settings: req.Settings,
	})
	if err != nil {
		h.fail(w, r, "create bar", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(bar))
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bar, err := h.service.Rename(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.fail(w, r, "rename bar", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(bar))
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req Settings
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bar, err := h.service.UpdateSettings(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, "update bar settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bar.Settings)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bar, err := h.service.Move(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), req.ParentID)
	if err != nil {
		h.fail(w, r, "move bar", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(bar))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError && h.logger != nil {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
