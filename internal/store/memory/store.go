// Package memory provides an in-process implementation of every repository port.
// It backs STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tapline/tapline/internal/accounts"
	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/items"
	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/users"
)

type idempotencyEntry struct {
	module    string
	createdAt time.Time
}

// Store keeps all state in maps guarded by one RWMutex. Ledger writers additionally hold a
// per-target lock for the whole transaction.
type Store struct {
	mu sync.RWMutex

	bars        map[string]bars.Bar
	users       map[int64]users.User
	roles       map[int64]roles.Role
	details     map[int64]items.ItemDetails
	sellItems   map[int64]items.SellItem
	stockItems  map[int64]items.StockItem
	accounts    map[int64]accounts.Account
	operations  map[ledger.Target][]ledger.Operation
	idempotency map[string]idempotencyEntry
	audit       []shared.AuditLog

	nextUserID    int64
	nextRoleID    int64
	nextDetailsID int64
	nextSellID    int64
	nextItemID    int64
	nextAccountID int64

	targetLocks shared.KeyedMutex
	now         func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		bars:        make(map[string]bars.Bar),
		users:       make(map[int64]users.User),
		roles:       make(map[int64]roles.Role),
		details:     make(map[int64]items.ItemDetails),
		sellItems:   make(map[int64]items.SellItem),
		stockItems:  make(map[int64]items.StockItem),
		accounts:    make(map[int64]accounts.Account),
		operations:  make(map[ledger.Target][]ledger.Operation),
		idempotency: make(map[string]idempotencyEntry),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// PutItemDetails stores a catalog description and assigns its id when zero.
func (s *Store) PutItemDetails(d items.ItemDetails) items.ItemDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		s.nextDetailsID++
		d.ID = s.nextDetailsID
	} else if d.ID > s.nextDetailsID {
		s.nextDetailsID = d.ID
	}
	s.details[d.ID] = d
	return d
}

// PutSellItem stores a sell item and assigns its id when zero.
func (s *Store) PutSellItem(si items.SellItem) items.SellItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if si.ID == 0 {
		s.nextSellID++
		si.ID = s.nextSellID
	} else if si.ID > s.nextSellID {
		s.nextSellID = si.ID
	}
	s.sellItems[si.ID] = si
	return si
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
