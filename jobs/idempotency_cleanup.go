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
)

// DefaultRetention is how long idempotency keys are kept when the payload does not say.
const DefaultRetention = 72 * time.Hour

// KeyCleaner removes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob removes idempotency keys older than the retention window.
type CleanupJob struct {
	Store   KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCleanupJob initialises the cleanup handler.
func NewCleanupJob(store KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *CleanupJob {
	return &CleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle decodes the payload and runs the cleanup.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	payload := CleanupPayload{Retention: DefaultRetention}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency cleanup: decode payload: %w", asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload.Retention)
	return err
}

// Run deletes keys older than retention and returns how many were removed.
func (j *CleanupJob) Run(ctx context.Context, retention time.Duration) (removed int64, err error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		err = tracker.End(err)
	}()
	removed, err = j.Store.Cleanup(ctx, retention)
	if err != nil {
		j.logger().Error("idempotency cleanup failed", slog.Any("error", err))
		return 0, fmt.Errorf("idempotency cleanup: %w", err)
	}
	j.Metrics.AddCleaned(removed)
	j.logger().Info("idempotency keys cleaned", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return removed, nil
}

func (j *CleanupJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger.With(slog.String("job", TaskIdempotencyCleanup))
}
