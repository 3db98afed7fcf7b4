package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/shared"
)

// RepositoryPort defines account persistence. Balance is written only by the ledger.
type RepositoryPort interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	FindAccount(ctx context.Context, ownerID int64, barID string) (Account, error)
	ListAccounts(ctx context.Context, filter Filter) ([]Account, error)
	// InsertAccount returns the existing row when (owner, bar) already has one.
	InsertAccount(ctx context.Context, account Account) (Account, bool, error)
	SetAccountDeleted(ctx context.Context, id int64, deleted bool) error
}

// Ledger records balance operations.
type Ledger interface {
	Record(ctx context.Context, entry ledger.Entry) (ledger.Operation, error)
	History(ctx context.Context, target ledger.Target) ([]ledger.Operation, error)
}

// Authorizer gates account operations.
type Authorizer interface {
	Require(ctx context.Context, principal *shared.Principal, barID string, capability shared.Capability) error
}

// AuditPort records non-ledger changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements account operations.
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

// GetOrCreate returns the account of owner at scopeBar, creating it on first use.
func (s *Service) GetOrCreate(ctx context.Context, principal *shared.Principal, scopeBar string, ownerID int64) (Account, bool, error) {
	if scopeBar == "" {
		return Account{}, false, shared.NewValidationError("bar_id", "is required")
	}
	if ownerID <= 0 {
		return Account{}, false, shared.NewValidationError("owner_id", "is required")
	}
	if err := s.authz.Require(ctx, principal, scopeBar, shared.CapManageAccounts); err != nil {
		return Account{}, false, err
	}
	account, created, err := s.repo.InsertAccount(ctx, Account{OwnerID: ownerID, BarID: scopeBar})
	if err != nil {
		return Account{}, false, err
	}
	if created {
		s.record(ctx, principal, "account.create", account.ID, map[string]any{"owner_id": ownerID, "bar_id": scopeBar})
	}
	return account, created, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, principal *shared.Principal, id int64) (Account, error) {
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if err := s.authz.Require(ctx, principal, account.BarID, shared.CapViewAccounts); err != nil {
		return Account{}, err
	}
	return account, nil
}

// List returns accounts of a bar.
func (s *Service) List(ctx context.Context, principal *shared.Principal, filter Filter) ([]Account, error) {
	if filter.BarID == "" {
		return nil, shared.NewValidationError("bar", "is required")
	}
	if err := s.authz.Require(ctx, principal, filter.BarID, shared.CapViewAccounts); err != nil {
		return nil, err
	}
	return s.repo.ListAccounts(ctx, filter)
}

// SetDeleted toggles the soft-delete flag of an account of scopeBar. Operations are untouched.
func (s *Service) SetDeleted(ctx context.Context, principal *shared.Principal, scopeBar string, id int64, deleted bool) (Account, error) {
	account, err := s.scoped(ctx, principal, scopeBar, id)
	if err != nil {
		return Account{}, err
	}
	if account.Deleted == deleted {
		return account, nil
	}
	if err := s.repo.SetAccountDeleted(ctx, id, deleted); err != nil {
		return Account{}, err
	}
	s.record(ctx, principal, "account.deleted", id, map[string]any{"deleted": deleted})
	account.Deleted = deleted
	return account, nil
}

// Adjust adds delta to the balance through the ledger.
func (s *Service) Adjust(ctx context.Context, principal *shared.Principal, scopeBar string, id int64, delta float64, reason, idempotencyKey string) (ledger.Operation, Account, error) {
	return s.write(ctx, principal, scopeBar, id, ledger.ModeDelta, delta, reason, idempotencyKey)
}

// SetBalance replaces the balance through the ledger.
func (s *Service) SetBalance(ctx context.Context, principal *shared.Principal, scopeBar string, id int64, balance float64, reason, idempotencyKey string) (ledger.Operation, Account, error) {
	return s.write(ctx, principal, scopeBar, id, ledger.ModeNextValue, balance, reason, idempotencyKey)
}

// History returns the balance operations of an account.
func (s *Service) History(ctx context.Context, principal *shared.Principal, id int64) ([]ledger.Operation, error) {
	if _, err := s.Get(ctx, principal, id); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, ledger.Account(id))
}

func (s *Service) write(ctx context.Context, principal *shared.Principal, scopeBar string, id int64, mode ledger.Mode, value float64, reason, key string) (ledger.Operation, Account, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ledger.Operation{}, Account{}, shared.NewValidationError(string(mode), "must be finite")
	}
	account, err := s.scoped(ctx, principal, scopeBar, id)
	if err != nil {
		return ledger.Operation{}, Account{}, err
	}
	if account.Deleted {
		return ledger.Operation{}, Account{}, shared.NewValidationError("id", "account is deleted")
	}
	op, err := s.ledger.Record(ctx, ledger.Entry{
		Target:         ledger.Account(id),
		Field:          ledger.FieldBalance,
		Mode:           mode,
		Value:          value,
		ActorID:        principal.ActorID(),
		Reason:         reason,
		IdempotencyKey: key,
	})
	if err != nil {
		return ledger.Operation{}, Account{}, err
	}
	updated, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return op, Account{}, err
	}
	return op, updated, nil
}

// scoped loads an account and checks it belongs to scopeBar, where manage-accounts is required.
func (s *Service) scoped(ctx context.Context, principal *shared.Principal, scopeBar string, id int64) (Account, error) {
	if scopeBar == "" {
		return Account{}, shared.NewValidationError("bar_id", "is required")
	}
	if err := s.authz.Require(ctx, principal, scopeBar, shared.CapManageAccounts); err != nil {
		return Account{}, err
	}
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if account.BarID != scopeBar {
		return Account{}, fmt.Errorf("accounts: account %d belongs to %q, not %q: %w", id, account.BarID, scopeBar, shared.ErrPermissionDenied)
	}
	return account, nil
}

func (s *Service) record(ctx context.Context, principal *shared.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  principal.ActorID(),
		Action:   action,
		Entity:   "account",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
