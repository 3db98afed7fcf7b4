package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tapline/tapline/internal/ledger"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile folds every ledger of a kind and compares it with the cached values.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup drops idempotency keys past their retention window.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReconcilePayload selects the target kinds to reconcile. Empty means all kinds.
type ReconcilePayload struct {
	Kinds []ledger.TargetKind `json:"kinds,omitempty"`
}

// CleanupPayload configures idempotency cleanup.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewReconcileTask constructs a reconciliation task.
func NewReconcileTask(kinds ...ledger.TargetKind) (*asynq.Task, error) {
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("jobs: unknown target kind %q", k)
		}
	}
	data, err := json.Marshal(ReconcilePayload{Kinds: kinds})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data), nil
}

// NewCleanupTask constructs an idempotency cleanup task.
func NewCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("jobs: retention must be positive, got %s", retention)
	}
	data, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
