package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
)

// ListRoles implements roles.RepositoryPort.
func (s *Store) ListRoles(_ context.Context, filter roles.Filter) ([]roles.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []roles.Role
	for _, role := range s.roles {
		if filter.Matches(role) {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRole implements roles.RepositoryPort.
func (s *Store) GetRole(_ context.Context, id int64) (roles.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return roles.Role{}, fmt.Errorf("memory: role %d: %w", id, shared.ErrNotFound)
	}
	return role, nil
}

// InsertRole implements roles.RepositoryPort.
func (s *Store) InsertRole(_ context.Context, role roles.Role) (roles.Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[role.UserID]; !ok {
		return roles.Role{}, false, shared.NewValidationError("user_id", "references a missing row")
	}
	if _, ok := s.bars[role.BarID]; !ok {
		return roles.Role{}, false, shared.NewValidationError("bar_id", "references a missing row")
	}
	for _, existing := range s.roles {
		if existing.UserID == role.UserID && existing.BarID == role.BarID && existing.Name == role.Name {
			return existing, false, nil
		}
	}
	s.nextRoleID++
	role.ID = s.nextRoleID
	role.CreatedAt = s.now()
	s.roles[role.ID] = role
	return role, true, nil
}

// DeleteRole implements roles.RepositoryPort.
func (s *Store) DeleteRole(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return fmt.Errorf("memory: role %d: %w", id, shared.ErrNotFound)
	}
	delete(s.roles, id)
	return nil
}
