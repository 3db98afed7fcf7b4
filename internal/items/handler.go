package items

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/platform/httpx"
	"github.com/tapline/tapline/internal/shared"
)

// Handler wires HTTP endpoints for stock items.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock item routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Get("/operations", h.history)
		r.Post("/operations", h.createOperation)
		r.Put("/sell_to_buy", h.setSellToBuy)
		r.Put("/display_price", h.setDisplayPrice)
		r.Post("/inventory", h.recordInventory)
		r.Put("/deleted", h.setDeleted)
	})
}

type stockItemResponse struct {
	ID            int64      `json:"id"`
	BarID         string     `json:"bar_id"`
	DetailsID     int64      `json:"details_id"`
	SellItemID    int64      `json:"sell_item_id"`
	Qty           float64    `json:"qty"`
	SellQty       float64    `json:"sell_qty"`
	Price         float64    `json:"price"`
	SellPrice     float64    `json:"sell_price"`
	DisplayPrice  float64    `json:"display_price"`
	SellToBuy     float64    `json:"sell_to_buy"`
	Tax           float64    `json:"tax"`
	LastInventory *time.Time `json:"last_inventory,omitempty"`
	Deleted       bool       `json:"deleted"`
}

func toResponse(s StockItem) stockItemResponse {
	return stockItemResponse{
		ID:            s.ID,
		BarID:         s.BarID,
		DetailsID:     s.DetailsID,
		SellItemID:    s.SellItemID,
		Qty:           s.Qty,
		SellQty:       s.SellQty(),
		Price:         s.Price,
		SellPrice:     s.SellPrice(),
		DisplayPrice:  s.DisplayPrice(),
		SellToBuy:     ToSellToBuy(s),
		Tax:           s.Tax,
		LastInventory: s.LastInventory,
		Deleted:       s.Deleted,
	}
}

type operationResponse struct {
	ID         uuid.UUID `json:"id"`
	Seq        int64     `json:"seq"`
	Field      string    `json:"field"`
	Mode       string    `json:"mode"`
	Value      float64   `json:"value"`
	Resulting  float64   `json:"resulting"`
	ActorID    int64     `json:"actor_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func toOperationResponse(op ledger.Operation) operationResponse {
	return operationResponse{
		ID:         op.ID,
		Seq:        op.Seq,
		Field:      string(op.Field),
		Mode:       string(op.Mode),
		Value:      op.Value,
		Resulting:  op.Resulting,
		ActorID:    op.ActorID,
		Reason:     op.Reason,
		RecordedAt: op.RecordedAt,
	}
}

type createRequest struct {
	BarID      string  `json:"bar_id" validate:"required"`
	DetailsID  int64   `json:"details_id" validate:"required,gt=0"`
	SellItemID int64   `json:"sell_item_id" validate:"required,gt=0"`
	SellToBuy  float64 `json:"sell_to_buy" validate:"gt=0"`
	Unit       string  `json:"unit" validate:"omitempty,oneof=sell buy"`
	Qty        float64 `json:"qty"`
	Price      float64 `json:"price" validate:"gte=0"`
}

type operationRequest struct {
	Unit      string   `json:"unit" validate:"omitempty,oneof=sell buy"`
	Field     string   `json:"field" validate:"required,oneof=qty price"`
	Delta     *float64 `json:"delta"`
	NextValue *float64 `json:"next_value"`
	Reason    string   `json:"reason" validate:"max=255"`
}

type valueRequest struct {
	Value  float64 `json:"value"`
	Reason string  `json:"reason" validate:"max=255"`
}

type deletedRequest struct {
	Deleted bool `json:"deleted"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := Filter{BarID: r.URL.Query().Get("bar"), IncludeDeleted: r.URL.Query().Get("deleted") == "true"}
	rows, err := h.service.List(r.Context(), shared.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		h.fail(w, r, "list stock items", err)
		return
	}
	out := make([]stockItemResponse, 0, len(rows))
	for _, item := range rows {
		out = append(out, toResponse(item))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	item, err := h.service.Get(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, "get stock item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(item))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()), CreateInput{
		BarID:      req.BarID,
		DetailsID:  req.DetailsID,
		SellItemID: req.SellItemID,
		SellToBuy:  req.SellToBuy,
		Unit:       Unit(req.Unit),
		Qty:        req.Qty,
		Price:      req.Price,
	})
	if err != nil {
		h.fail(w, r, "create stock item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(item))
}

func (h *Handler) createOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req operationRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	op, item, err := h.service.CreateOperation(r.Context(), shared.PrincipalFromContext(r.Context()), id, OperationInput{
		Unit:           Unit(req.Unit),
		Field:          ledger.Field(req.Field),
		Delta:          req.Delta,
		NextValue:      req.NextValue,
		Reason:         req.Reason,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, "stock item operation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"operation":  toOperationResponse(op),
		"stock_item": toResponse(item),
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	ops, err := h.service.History(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, "stock item history", err)
		return
	}
	out := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperationResponse(op))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) setSellToBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.SetSellToBuy(r.Context(), shared.PrincipalFromContext(r.Context()), id, req.Value)
	if err != nil {
		h.fail(w, r, "set sell_to_buy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(item))
}

func (h *Handler) setDisplayPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	_, item, err := h.service.SetDisplayPrice(r.Context(), shared.PrincipalFromContext(r.Context()), id, req.Value, req.Reason)
	if err != nil {
		h.fail(w, r, "set display price", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(item))
}

func (h *Handler) recordInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req valueRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	_, item, err := h.service.RecordInventory(r.Context(), shared.PrincipalFromContext(r.Context()), id, req.Value, req.Reason)
	if err != nil {
		h.fail(w, r, "record inventory", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(item))
}

func (h *Handler) setDeleted(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	var req deletedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.SetDeleted(r.Context(), shared.PrincipalFromContext(r.Context()), id, req.Deleted)
	if err != nil {
		h.fail(w, r, "set stock item deleted", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(item))
}

func (h *Handler) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
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
