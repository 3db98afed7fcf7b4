package accounts

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/platform/httpx"
	"github.com/tapline/tapline/internal/shared"
)

// Handler wires HTTP endpoints for accounts.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.getOrCreate)
	r.Get("/{id}", h.show)
	r.Get("/{id}/operations", h.history)
	r.Post("/{id}/operations", h.createOperation)
	r.Put("/{id}/deleted", h.setDeleted)
}

type accountResponse struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	BarID     string    `json:"bar_id"`
	Balance   float64   `json:"balance"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(a Account) accountResponse {
	return accountResponse{ID: a.ID, OwnerID: a.OwnerID, BarID: a.BarID, Balance: a.Balance, Deleted: a.Deleted, CreatedAt: a.CreatedAt}
}

type operationResponse struct {
	Seq        int64     `json:"seq"`
	Mode       string    `json:"mode"`
	Value      float64   `json:"value"`
	Resulting  float64   `json:"resulting"`
	ActorID    int64     `json:"actor_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func toOperationResponse(op ledger.Operation) operationResponse {
	return operationResponse{
		Seq:        op.Seq,
		Mode:       string(op.Mode),
		Value:      op.Value,
		Resulting:  op.Resulting,
		ActorID:    op.ActorID,
		Reason:     op.Reason,
		RecordedAt: op.RecordedAt,
	}
}

type getOrCreateRequest struct {
	BarID   string `json:"bar_id" validate:"required"`
	OwnerID int64  `json:"owner_id" validate:"required,gt=0"`
}

type operationRequest struct {
	BarID     string   `json:"bar_id" validate:"required"`
	Delta     *float64 `json:"delta" validate:"required_without=NextValue,excluded_with=NextValue"`
	NextValue *float64 `json:"next_value" validate:"required_without=Delta"`
	Reason    string   `json:"reason" validate:"max=255"`
}

type deletedRequest struct {
	BarID   string `json:"bar_id" validate:"required"`
	Deleted bool   `json:"deleted"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{BarID: q.Get("bar"), IncludeDeleted: q.Get("deleted") == "true"}
	if raw := q.Get("owner"); raw != "" {
		owner, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("owner", "must be an integer"))
			return
		}
		filter.OwnerID = owner
	}
	rows, err := h.service.List(r.Context(), shared.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		h.fail(w, r, "list accounts", err)
		return
	}
	out := make([]accountResponse, 0, len(rows))
	for _, a := range rows {
		out = append(out, toResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getOrCreate(w http.ResponseWriter, r *http.Request) {
	var req getOrCreateRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, created, err := h.service.GetOrCreate(r.Context(), shared.PrincipalFromContext(r.Context()), req.BarID, req.OwnerID)
	if err != nil {
		h.fail(w, r, "get or create account", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, toResponse(account))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	account, err := h.service.Get(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(account))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	ops, err := h.service.History(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, "account history", err)
		return
	}
	out := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperationResponse(op))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req operationRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	key := r.Header.Get("Idempotency-Key")
	var (
		op      ledger.Operation
		account Account
		err     error
	)
	if req.Delta != nil {
		op, account, err = h.service.Adjust(r.Context(), principal, req.BarID, id, *req.Delta, req.Reason, key)
	} else {
		op, account, err = h.service.SetBalance(r.Context(), principal, req.BarID, id, *req.NextValue, req.Reason, key)
	}
	if err != nil {
		h.fail(w, r, "account operation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"operation": toOperationResponse(op),
		"account":   toResponse(account),
	})
}

func (h *Handler) setDeleted(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req deletedRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.SetDeleted(r.Context(), shared.PrincipalFromContext(r.Context()), req.BarID, id, req.Deleted)
	if err != nil {
		h.fail(w, r, "set account deleted", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(account))
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError && h.logger != nil {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
