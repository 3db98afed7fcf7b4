package items

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/shared"
)

// RepositoryPort defines stock item persistence. Qty and Price are written only by the ledger.
type RepositoryPort interface {
	GetStockItem(ctx context.Context, id int64) (StockItem, error)
	ListStockItems(ctx context.Context, filter Filter) ([]StockItem, error)
	InsertStockItem(ctx context.Context, item StockItem) (StockItem, error)
	UpdateUnitFactor(ctx context.Context, id int64, factor float64) error
	UpdateLastInventory(ctx context.Context, id int64, at time.Time) error
	SetStockItemDeleted(ctx context.Context, id int64, deleted bool) error
	// DeleteStockItem removes an item that has no operations; it undoes a failed Create.
	DeleteStockItem(ctx context.Context, id int64) error
	GetItemDetails(ctx context.Context, id int64) (ItemDetails, error)
	GetSellItem(ctx context.Context, id int64) (SellItem, error)
}

// Ledger records qty and price operations.
type Ledger interface {
	Record(ctx context.Context, entry ledger.Entry) (ledger.Operation, error)
	RecordAll(ctx context.Context, entries []ledger.Entry) ([]ledger.Operation, error)
	History(ctx context.Context, target ledger.Target) ([]ledger.Operation, error)
	CheckOpening(entries []ledger.Entry, unitFactor float64) error
}

// Authorizer gates inventory operations.
type Authorizer interface {
	Require(ctx context.Context, principal *shared.Principal, barID string, capability shared.Capability) error
}

// AuditPort records non-ledger changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// OperationInput is a unit-scoped change of qty or price. Exactly one of Delta and NextValue is set.
type OperationInput struct {
	Unit           Unit
	Field          ledger.Field
	Delta          *float64
	NextValue      *float64
	Reason         string
	IdempotencyKey string
}

// Service implements stock item operations.
type Service struct {
	repo   RepositoryPort
	ledger Ledger
	authz  Authorizer
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the service.
func NewService(repo RepositoryPort, ledgerSvc Ledger, authz Authorizer, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledgerSvc, authz: authz, audit: audit, logger: logger}
}

// Get returns one stock item.
func (s *Service) Get(ctx context.Context, principal *shared.Principal, id int64) (StockItem, error) {
	item, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return StockItem{}, err
	}
	if err := s.authz.Require(ctx, principal, item.BarID, shared.CapViewInventory); err != nil {
		return StockItem{}, err
	}
	return item, nil
}

// List returns the stock items the principal may view.
func (s *Service) List(ctx context.Context, principal *shared.Principal, filter Filter) ([]StockItem, error) {
	if filter.BarID != "" {
		if err := s.authz.Require(ctx, principal, filter.BarID, shared.CapViewInventory); err != nil {
			return nil, err
		}
	}
	rows, err := s.repo.ListStockItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	if filter.BarID != "" {
		return rows, nil
	}
	allowed := make(map[string]bool)
	out := make([]StockItem, 0, len(rows))
	for _, item := range rows {
		ok, seen := allowed[item.BarID]
		if !seen {
			err := s.authz.Require(ctx, principal, item.BarID, shared.CapViewInventory)
			switch {
			case err == nil:
				ok = true
			case errors.Is(err, shared.ErrPermissionDenied), errors.Is(err, shared.ErrUnauthenticated):
			default:
				return nil, err
			}
			allowed[item.BarID] = ok
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// Create starts stocking a catalog item. Initial qty and price are recorded as ledger operations.
// Entries are validated before the row exists; a failed ledger write removes the row again.
func (s *Service) Create(ctx context.Context, principal *shared.Principal, input CreateInput) (StockItem, error) {
	factor, err := FromSellToBuy(input.SellToBuy)
	if err != nil {
		return StockItem{}, err
	}
	unit, err := ParseUnit(string(input.Unit))
	if err != nil {
		return StockItem{}, err
	}
	if err := finite("qty", input.Qty); err != nil {
		return StockItem{}, err
	}
	if err := finite("price", input.Price); err != nil {
		return StockItem{}, err
	}
	if input.Price < 0 {
		return StockItem{}, shared.NewValidationError("price", "must not be negative")
	}
	if input.BarID == "" {
		return StockItem{}, shared.NewValidationError("bar_id", "is required")
	}
	if err := s.authz.Require(ctx, principal, input.BarID, shared.CapManageInventory); err != nil {
		return StockItem{}, err
	}
	if _, err := s.repo.GetItemDetails(ctx, input.DetailsID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return StockItem{}, shared.NewValidationError("details_id", "unknown item details")
		}
		return StockItem{}, err
	}
	sellItem, err := s.repo.GetSellItem(ctx, input.SellItemID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return StockItem{}, shared.NewValidationError("sell_item_id", "unknown sell item")
		}
		return StockItem{}, err
	}
	if sellItem.BarID != input.BarID {
		return StockItem{}, shared.NewValidationError("sell_item_id", "belongs to another bar")
	}

	entries := openingEntries(unit, input, principal.ActorID())
	if err := s.ledger.CheckOpening(entries, factor); err != nil {
		return StockItem{}, err
	}

	item, err := s.repo.InsertStockItem(ctx, StockItem{
		BarID:      input.BarID,
		DetailsID:  input.DetailsID,
		SellItemID: input.SellItemID,
		UnitFactor: factor,
	})
	if err != nil {
		return StockItem{}, err
	}

	if len(entries) > 0 {
		for i := range entries {
			entries[i].Target = ledger.StockItem(item.ID)
		}
		if _, err := s.ledger.RecordAll(ctx, entries); err != nil {
			if delErr := s.repo.DeleteStockItem(context.WithoutCancel(ctx), item.ID); delErr != nil {
				s.logger.ErrorContext(ctx, "stock item left without opening operations",
					slog.Int64("stock_item_id", item.ID), slog.Any("error", delErr))
			}
			return StockItem{}, fmt.Errorf("items: initial operations of %d: %w", item.ID, err)
		}
	}
	s.record(ctx, principal, "stockitem.create", item.ID, map[string]any{"bar_id": item.BarID, "details_id": item.DetailsID})
	return s.repo.GetStockItem(ctx, item.ID)
}

// openingEntries builds the initial price and qty operations. Targets are filled in once
// the row exists.
func openingEntries(unit Unit, input CreateInput, actorID int64) []ledger.Entry {
	var entries []ledger.Entry
	if input.Price != 0 {
		entries = append(entries, ledger.Entry{
			Target: ledger.StockItem(0), Field: ledger.FieldPrice, Mode: ledger.ModeNextValue,
			Value: input.Price, Scale: unitScale(unit), ActorID: actorID, Reason: reasonOr(input.Reason, "initial price"),
		})
	}
	if input.Qty != 0 {
		entries = append(entries, ledger.Entry{
			Target: ledger.StockItem(0), Field: ledger.FieldQty, Mode: ledger.ModeNextValue,
			Value: input.Qty, Scale: unitScale(unit), ActorID: actorID, Reason: reasonOr(input.Reason, "initial stock"),
		})
	}
	return entries
}

// unitScale maps a unit onto the ledger conversion that divides by UnitScale(unit).
func unitScale(unit Unit) ledger.Scale {
	if unit == UnitSell {
		return ledger.ScaleDivide
	}
	return ledger.ScaleNone
}

// CreateOperation converts the input into the internal basis and records it. It is the only
// write path for qty and price. The unit factor is applied under the ledger's target lock.
func (s *Service) CreateOperation(ctx context.Context, principal *shared.Principal, id int64, input OperationInput) (ledger.Operation, StockItem, error) {
	unit, err := ParseUnit(string(input.Unit))
	if err != nil {
		return ledger.Operation{}, StockItem{}, err
	}
	return s.recordOperation(ctx, principal, id, input, unitScale(unit))
}

func (s *Service) recordOperation(ctx context.Context, principal *shared.Principal, id int64, input OperationInput, scale ledger.Scale) (ledger.Operation, StockItem, error) {
	if input.Field != ledger.FieldQty && input.Field != ledger.FieldPrice {
		return ledger.Operation{}, StockItem{}, shared.NewValidationError("field", fmt.Sprintf("unknown field %q", input.Field))
	}
	if (input.Delta == nil) == (input.NextValue == nil) {
		return ledger.Operation{}, StockItem{}, shared.NewValidationError("value", "exactly one of delta and next_value is required")
	}
	mode, raw := ledger.ModeDelta, input.Delta
	if input.NextValue != nil {
		mode, raw = ledger.ModeNextValue, input.NextValue
	}
	if err := finite(string(mode), *raw); err != nil {
		return ledger.Operation{}, StockItem{}, err
	}

	item, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return ledger.Operation{}, StockItem{}, err
	}
	if err := s.authz.Require(ctx, principal, item.BarID, shared.CapManageInventory); err != nil {
		return ledger.Operation{}, StockItem{}, err
	}
	if item.Deleted {
		return ledger.Operation{}, StockItem{}, shared.NewValidationError("id", "stock item is deleted")
	}

	op, err := s.ledger.Record(ctx, ledger.Entry{
		Target:         ledger.StockItem(item.ID),
		Field:          input.Field,
		Mode:           mode,
		Value:          *raw,
		Scale:          scale,
		ActorID:        principal.ActorID(),
		Reason:         input.Reason,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return ledger.Operation{}, StockItem{}, err
	}
	updated, err := s.repo.GetStockItem(ctx, item.ID)
	if err != nil {
		return op, StockItem{}, err
	}
	return op, updated, nil
}

// SetSellToBuy stores the unit factor matching v. It never writes an operation.
func (s *Service) SetSellToBuy(ctx context.Context, principal *shared.Principal, id int64, v float64) (StockItem, error) {
	factor, err := FromSellToBuy(v)
	if err != nil {
		return StockItem{}, err
	}
	item, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return StockItem{}, err
	}
	if err := s.authz.Require(ctx, principal, item.BarID, shared.CapManageInventory); err != nil {
		return StockItem{}, err
	}
	if err := s.repo.UpdateUnitFactor(ctx, id, factor); err != nil {
		return StockItem{}, err
	}
	s.record(ctx, principal, "stockitem.sell_to_buy", id, map[string]any{"from": item.UnitFactor, "to": factor})
	return s.repo.GetStockItem(ctx, id)
}

// SetDisplayPrice records the internal price that makes DisplayPrice equal display.
func (s *Service) SetDisplayPrice(ctx context.Context, principal *shared.Principal, id int64, display float64, reason string) (ledger.Operation, StockItem, error) {
	if err := finite("display_price", display); err != nil {
		return ledger.Operation{}, StockItem{}, err
	}
	if display < 0 {
		return ledger.Operation{}, StockItem{}, shared.NewValidationError("display_price", "must not be negative")
	}
	// DisplayPrice is Price / UnitScale(sell), so the stored price is display * UnitFactor.
	return s.recordOperation(ctx, principal, id, OperationInput{
		Field:     ledger.FieldPrice,
		NextValue: &display,
		Reason:    reasonOr(reason, "display price"),
	}, ledger.ScaleMultiply)
}

// RecordInventory stores a counted quantity, in sell units, and stamps the inventory time.
func (s *Service) RecordInventory(ctx context.Context, principal *shared.Principal, id int64, sellQty float64, reason string) (ledger.Operation, StockItem, error) {
	op, _, err := s.CreateOperation(ctx, principal, id, OperationInput{
		Unit:      UnitSell,
		Field:     ledger.FieldQty,
		NextValue: &sellQty,
		Reason:    reasonOr(reason, "inventory"),
	})
	if err != nil {
		return ledger.Operation{}, StockItem{}, err
	}
	if err := s.repo.UpdateLastInventory(ctx, id, op.RecordedAt); err != nil {
		return op, StockItem{}, err
	}
	item, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return op, StockItem{}, err
	}
	return op, item, nil
}

// SetDeleted toggles the soft-delete flag. Operations are untouched.
func (s *Service) SetDeleted(ctx context.Context, principal *shared.Principal, id int64, deleted bool) (StockItem, error) {
	item, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return StockItem{}, err
	}
	if err := s.authz.Require(ctx, principal, item.BarID, shared.CapManageInventory); err != nil {
		return StockItem{}, err
	}
	if item.Deleted == deleted {
		return item, nil
	}
	if err := s.repo.SetStockItemDeleted(ctx, id, deleted); err != nil {
		return StockItem{}, err
	}
	s.record(ctx, principal, "stockitem.deleted", id, map[string]any{"deleted": deleted})
	item.Deleted = deleted
	return item, nil
}

// History returns the ledger of a stock item.
func (s *Service) History(ctx context.Context, principal *shared.Principal, id int64) ([]ledger.Operation, error) {
	item, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, principal, item.BarID, shared.CapViewInventory); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, ledger.StockItem(id))
}

func (s *Service) record(ctx context.Context, principal *shared.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  principal.ActorID(),
		Action:   action,
		Entity:   "stock_item",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return shared.NewValidationError(field, "must be finite")
	}
	return nil
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
