package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tapline/tapline/internal/shared"
)

// RepositoryPort exposes ledger persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListOperations(ctx context.Context, target Target) ([]Operation, error)
	Snapshot(ctx context.Context, target Target) (Snapshot, error)
	ListTargets(ctx context.Context, kind TargetKind) ([]Target, error)
}

// TxRepository holds the per-target lock for the duration of the transaction.
type TxRepository interface {
	// LockTarget blocks other writers of target until commit and returns its cached state.
	LockTarget(ctx context.Context, target Target) (Snapshot, error)
	InsertOperation(ctx context.Context, op Operation) error
	// StoreSnapshot writes the cached values only if the stored seq still equals expectedSeq.
	StoreSnapshot(ctx context.Context, snap Snapshot, expectedSeq int64) error
}

// IdempotencyPort deduplicates client-supplied keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const idempotencyModule = "ledger"

// Options tune write validation.
type Options struct {
	// AllowNegativeStock permits stock quantities below zero.
	AllowNegativeStock bool
}

// Service records operations and keeps cached values in step with them.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	metrics     *Metrics
	logger      *slog.Logger
	opts        Options
	now         func() time.Time
}

// NewService constructs the ledger service. idempotency and metrics may be nil.
func NewService(repo RepositoryPort, idempotency IdempotencyPort, metrics *Metrics, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idempotency: idempotency, metrics: metrics, logger: logger, opts: opts, now: time.Now}
}

// Record appends one operation and updates the cached value in the same transaction.
func (s *Service) Record(ctx context.Context, entry Entry) (Operation, error) {
	ops, err := s.RecordAll(ctx, []Entry{entry})
	if err != nil {
		return Operation{}, err
	}
	return ops[0], nil
}

// RecordAll appends several operations against one target atomically, in order.
func (s *Service) RecordAll(ctx context.Context, entries []Entry) ([]Operation, error) {
	if len(entries) == 0 {
		return nil, shared.NewValidationError("entries", "at least one entry is required")
	}
	target := entries[0].Target
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			s.metrics.fail(e.Target.Kind, "validation")
			return nil, err
		}
		if e.Target != target {
			return nil, shared.NewValidationError("target", "entries must share one target")
		}
	}

	key := entries[0].IdempotencyKey
	if key != "" {
		if s.idempotency == nil {
			return nil, shared.NewValidationError("idempotency_key", "not supported by this store")
		}
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrConflict) {
				s.metrics.fail(target.Kind, "duplicate")
			}
			return nil, fmt.Errorf("ledger: idempotency key %q: %w", key, err)
		}
	}

	start := s.now()
	var recorded []Operation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		recorded = recorded[:0]
		snap, err := tx.LockTarget(ctx, target)
		if err != nil {
			return err
		}
		next := snap.Clone()
		if next.Values == nil {
			next.Values = make(map[Field]float64)
		}
		for _, e := range entries {
			value := e.Value
			if e.Scale != ScaleNone {
				if next.UnitFactor <= 0 {
					return fmt.Errorf("ledger: %s has unit factor %v: %w", target, next.UnitFactor, shared.ErrValidation)
				}
				value = e.Scale.Apply(value, next.UnitFactor)
			}
			op := Operation{
				ID:         uuid.New(),
				Target:     target,
				Seq:        next.LastSeq + 1,
				Field:      e.Field,
				Mode:       e.Mode,
				Value:      value,
				ActorID:    e.ActorID,
				Reason:     e.Reason,
				RecordedAt: s.now().UTC(),
			}
			op.Resulting = Apply(next.Values[e.Field], op)
			if err := s.checkResult(op); err != nil {
				return err
			}
			if err := tx.InsertOperation(ctx, op); err != nil {
				return fmt.Errorf("ledger: insert operation on %s: %w", target, err)
			}
			next.Values[e.Field] = op.Resulting
			next.LastSeq = op.Seq
			recorded = append(recorded, op)
		}
		if err := tx.StoreSnapshot(ctx, next, snap.LastSeq); err != nil {
			if errors.Is(err, shared.ErrConcurrentMutation) {
				s.logger.ErrorContext(ctx, "ledger cached value moved under lock",
					slog.String("target", target.String()),
					slog.Int64("expected_seq", snap.LastSeq))
			}
			return err
		}
		return nil
	})
	if err != nil {
		s.metrics.fail(target.Kind, failureReason(err))
		if key != "" {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.WarnContext(ctx, "ledger idempotency rollback", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return nil, err
	}
	s.metrics.observe(target.Kind, recorded, start)
	return recorded, nil
}

// CheckOpening validates entries as the first operations of a target that does not
// exist yet, with the given unit factor. Nothing is written.
func (s *Service) CheckOpening(entries []Entry, unitFactor float64) error {
	values := make(map[Field]float64)
	for i, e := range entries {
		if err := e.validateBody(); err != nil {
			return err
		}
		value := e.Value
		if e.Scale != ScaleNone {
			if unitFactor <= 0 {
				return shared.NewValidationError("unit_factor", "must be positive")
			}
			value = e.Scale.Apply(value, unitFactor)
		}
		op := Operation{Target: e.Target, Seq: int64(i + 1), Field: e.Field, Mode: e.Mode, Value: value}
		op.Resulting = Apply(values[e.Field], op)
		if err := s.checkResult(op); err != nil {
			return err
		}
		values[e.Field] = op.Resulting
	}
	return nil
}

func (s *Service) checkResult(op Operation) error {
	if op.Target.Kind == KindStockItem && op.Field == FieldPrice && op.Resulting < 0 {
		return shared.NewValidationError("price", "must not become negative")
	}
	if op.Target.Kind == KindStockItem && op.Field == FieldQty && op.Resulting < 0 && !s.opts.AllowNegativeStock {
		return shared.NewValidationError("qty", "stock would become negative")
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrConcurrentMutation):
		return "concurrent_mutation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "storage"
	}
}

// History returns the operations of a target in seq order.
func (s *Service) History(ctx context.Context, target Target) ([]Operation, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListOperations(ctx, target)
}

// Reconcile folds a target's ledger up to the seq of its cached value and compares
// the two. A mismatch is logged and returned together with ErrConcurrentMutation.
func (s *Service) Reconcile(ctx context.Context, target Target) (Reconciliation, error) {
	if err := target.Validate(); err != nil {
		return Reconciliation{}, err
	}
	snap, err := s.repo.Snapshot(ctx, target)
	if err != nil {
		return Reconciliation{}, err
	}
	ops, err := s.repo.ListOperations(ctx, target)
	if err != nil {
		return Reconciliation{}, err
	}
	// Operations committed after the snapshot was read are not reflected in it yet.
	covered := ops[:0:0]
	for _, op := range ops {
		if op.Seq <= snap.LastSeq {
			covered = append(covered, op)
		}
	}
	rec := Reconciliation{
		Target:     target,
		Cached:     snap.Values,
		Folded:     Fold(covered),
		CachedSeq:  snap.LastSeq,
		Operations: len(covered),
	}
	if !rec.Consistent() {
		s.metrics.mismatch(target.Kind)
		s.logger.ErrorContext(ctx, "ledger reconciliation mismatch",
			slog.String("target", target.String()),
			slog.Any("cached", rec.Cached),
			slog.Any("folded", rec.Folded),
			slog.Int("operations", rec.Operations))
		return rec, fmt.Errorf("ledger: %s cache disagrees with ledger: %w", target, shared.ErrConcurrentMutation)
	}
	return rec, nil
}

// ReconcileAll reconciles every target of kind and returns the inconsistent ones.
func (s *Service) ReconcileAll(ctx context.Context, kind TargetKind) ([]Reconciliation, int, error) {
	if !kind.Valid() {
		return nil, 0, shared.NewValidationError("kind", fmt.Sprintf("unknown kind %q", kind))
	}
	targets, err := s.repo.ListTargets(ctx, kind)
	if err != nil {
		return nil, 0, err
	}
	var mismatched []Reconciliation
	for _, t := range targets {
		rec, err := s.Reconcile(ctx, t)
		if err != nil {
			if errors.Is(err, shared.ErrConcurrentMutation) {
				mismatched = append(mismatched, rec)
				continue
			}
			return mismatched, len(targets), err
		}
	}
	return mismatched, len(targets), nil
}
