package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/users"
)

func cloneUser(u users.User) users.User {
	u.LastLogin = copyTime(u.LastLogin)
	return u
}

// GetUser implements users.RepositoryPort.
func (s *Store) GetUser(_ context.Context, id int64) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return users.User{}, fmt.Errorf("memory: user %d: %w", id, shared.ErrNotFound)
	}
	return cloneUser(u), nil
}

// FindUserByUsername implements users.RepositoryPort.
func (s *Store) FindUserByUsername(_ context.Context, username string) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return users.User{}, fmt.Errorf("memory: user %q: %w", username, shared.ErrNotFound)
}

// ListUsers implements users.RepositoryPort.
func (s *Store) ListUsers(context.Context) ([]users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]users.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertUser implements users.RepositoryPort.
func (s *Store) InsertUser(_ context.Context, user users.User) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return users.User{}, fmt.Errorf("memory: user %q: %w", user.Username, shared.ErrConflict)
		}
	}
	s.nextUserID++
	user.ID = s.nextUserID
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

// UpdateUser implements users.RepositoryPort.
func (s *Store) UpdateUser(_ context.Context, user users.User) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[user.ID]
	if !ok {
		return users.User{}, fmt.Errorf("memory: user %d: %w", user.ID, shared.ErrNotFound)
	}
	current.FullName = user.FullName
	current.Pseudo = user.Pseudo
	current.PasswordHash = user.PasswordHash
	current.IsActive = user.IsActive
	current.UpdatedAt = s.now()
	s.users[user.ID] = current
	return cloneUser(current), nil
}

// TouchLastLogin implements users.RepositoryPort.
func (s *Store) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("memory: user %d: %w", id, shared.ErrNotFound)
	}
	u.LastLogin = &at
	s.users[id] = u
	return nil
}
