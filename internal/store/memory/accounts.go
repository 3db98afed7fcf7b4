package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tapline/tapline/internal/accounts"
	"github.com/tapline/tapline/internal/shared"
)

// GetAccount implements accounts.RepositoryPort.
func (s *Store) GetAccount(_ context.Context, id int64) (accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return accounts.Account{}, fmt.Errorf("memory: account %d: %w", id, shared.ErrNotFound)
	}
	return acc, nil
}

// FindAccount implements accounts.RepositoryPort.
func (s *Store) FindAccount(_ context.Context, ownerID int64, barID string) (accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acc := range s.accounts {
		if acc.OwnerID == ownerID && acc.BarID == barID {
			return acc, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("memory: account of user %d in bar %q: %w", ownerID, barID, shared.ErrNotFound)
}

// ListAccounts implements accounts.RepositoryPort.
func (s *Store) ListAccounts(_ context.Context, filter accounts.Filter) ([]accounts.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []accounts.Account
	for _, acc := range s.accounts {
		if filter.BarID != "" && acc.BarID != filter.BarID {
			continue
		}
		if filter.OwnerID != 0 && acc.OwnerID != filter.OwnerID {
			continue
		}
		if acc.Deleted && !filter.IncludeDeleted {
			continue
		}
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertAccount implements accounts.RepositoryPort.
func (s *Store) InsertAccount(_ context.Context, account accounts.Account) (accounts.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[account.OwnerID]; !ok {
		return accounts.Account{}, false, shared.NewValidationError("owner_id", "references a missing row")
	}
	if _, ok := s.bars[account.BarID]; !ok {
		return accounts.Account{}, false, shared.NewValidationError("bar_id", "references a missing row")
	}
	for _, existing := range s.accounts {
		if existing.OwnerID == account.OwnerID && existing.BarID == account.BarID {
			return existing, false, nil
		}
	}
	s.nextAccountID++
	account.ID = s.nextAccountID
	account.Balance, account.LedgerSeq = 0, 0
	now := s.now()
	account.CreatedAt, account.UpdatedAt = now, now
	s.accounts[account.ID] = account
	return account, true, nil
}

// SetAccountDeleted implements accounts.RepositoryPort.
func (s *Store) SetAccountDeleted(_ context.Context, id int64, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("memory: account %d: %w", id, shared.ErrNotFound)
	}
	acc.Deleted = deleted
	acc.UpdatedAt = s.now()
	s.accounts[id] = acc
	return nil
}
