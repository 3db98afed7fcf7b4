package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tapline/tapline/internal/jobs"
	"github.com/tapline/tapline/internal/ledger"
)

// Reconciler compares cached values with folded ledgers.
type Reconciler interface {
	ReconcileAll(ctx context.Context, kind ledger.TargetKind) ([]ledger.Reconciliation, int, error)
}

// ErrMismatch reports that at least one target disagreed with its ledger.
var ErrMismatch = errors.New("jobs: ledger reconciliation found mismatches")

// ReconcileJob runs ledger reconciliation for the requested kinds.
type ReconcileJob struct {
	Ledger  Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Ledger:  reconciler,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle decodes the payload and reconciles. Mismatches are not retried.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("reconcile: decode payload: %w", asynq.SkipRetry)
		}
	}
	err := j.Run(ctx, payload.Kinds...)
	if errors.Is(err, ErrMismatch) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run reconciles every target of kinds, all kinds when none are given.
func (j *ReconcileJob) Run(ctx context.Context, kinds ...ledger.TargetKind) (err error) {
	if len(kinds) == 0 {
		kinds = []ledger.TargetKind{ledger.KindStockItem, ledger.KindAccount}
	}
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		err = tracker.End(err)
	}()

	start := j.now()
	logger := j.logger()
	logger.Info("starting ledger reconciliation", slog.Any("kinds", kinds))

	mismatched := 0
	for _, kind := range kinds {
		bad, total, rerr := j.Ledger.ReconcileAll(ctx, kind)
		if rerr != nil {
			logger.Error("reconciliation failed", slog.String("kind", string(kind)), slog.Any("error", rerr))
			return fmt.Errorf("reconcile %s: %w", kind, rerr)
		}
		j.Metrics.SetMismatches(string(kind), len(bad))
		for _, rec := range bad {
			logger.Warn("ledger mismatch",
				slog.String("target", rec.Target.String()),
				slog.Any("cached", rec.Cached),
				slog.Any("folded", rec.Folded),
			)
		}
		logger.Info("reconciled kind",
			slog.String("kind", string(kind)),
			slog.Int("targets", total),
			slog.Int("mismatched", len(bad)),
		)
		mismatched += len(bad)
	}

	logger.Info("completed ledger reconciliation",
		slog.Int("mismatched", mismatched),
		slog.Duration("duration", time.Since(start)),
	)
	if mismatched > 0 {
		return fmt.Errorf("%w: %d targets", ErrMismatch, mismatched)
	}
	return nil
}

func (j *ReconcileJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger.With(slog.String("job", TaskLedgerReconcile))
}
