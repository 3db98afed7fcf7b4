package memory

import (
	"context"
	"errors"
	"time"

	"github.com/tapline/tapline/internal/shared"
)

// CheckAndInsert implements ledger.IdempotencyPort.
func (s *Store) CheckAndInsert(_ context.Context, key, module string) error {
	if key == "" || module == "" {
		return errors.New("idempotency key and module required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.idempotency[key]; exists {
		return shared.ErrIdempotencyConflict
	}
	s.idempotency[key] = idempotencyEntry{module: module, createdAt: s.now()}
	return nil
}

// Delete implements ledger.IdempotencyPort.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idempotency, key)
	return nil
}

// Cleanup removes keys older than olderThan and reports how many were dropped.
func (s *Store) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var removed int64
	for key, entry := range s.idempotency {
		if entry.createdAt.Before(cutoff) {
			delete(s.idempotency, key)
			removed++
		}
	}
	return removed, nil
}

// Record implements the audit port of every service.
func (s *Store) Record(_ context.Context, log shared.AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.At.IsZero() {
		log.At = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, log)
	return nil
}

// AuditLogs returns the recorded audit entries in insertion order.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shared.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}
