// Package fixture builds fully wired services over the in-memory store for tests.
package fixture

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tapline/tapline/internal/app"
	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/items"
	"github.com/tapline/tapline/internal/rbac"
	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/store/memory"
	_ "github.com/tapline/tapline/internal/testing/guard"
	"github.com/tapline/tapline/internal/users"
)

// Env is a wired application over a fresh memory store with a root bar.
type Env struct {
	Store    *memory.Store
	Svc      *app.Services
	Root     bars.Bar
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// Options tweak New.
type Options struct {
	Policy             *rbac.Policy
	AllowNegativeStock bool
}

// New returns an Env with root bar "root".
func New(t testing.TB) *Env {
	return NewWith(t, Options{})
}

// NewWith returns an Env built with opts.
func NewWith(t testing.TB, opts Options) *Env {
	t.Helper()
	store := memory.New()
	registry := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := app.NewServices(app.MemoryRepositories(store), app.ServiceOptions{
		Policy:             opts.Policy,
		AllowNegativeStock: opts.AllowNegativeStock,
		Registerer:         registry,
		PasswordCost:       bcrypt.MinCost,
	}, logger)
	root, err := app.Bootstrap(context.Background(), svc, app.BootstrapInput{RootID: bars.DefaultRootID, RootName: "Root"}, logger)
	require.NoError(t, err)
	return &Env{Store: store, Svc: svc, Root: root, Registry: registry, Logger: logger}
}

// User inserts an active user with password "password123", bypassing permission checks.
func (e *Env) User(t testing.TB, username string) users.User {
	t.Helper()
	hash, err := users.HashPassword("password123", bcrypt.MinCost)
	require.NoError(t, err)
	u, err := e.Store.InsertUser(context.Background(), users.User{Username: username, FullName: username, PasswordHash: hash, IsActive: true})
	require.NoError(t, err)
	return u
}

// Grant stores a role assignment, bypassing permission checks.
func (e *Env) Grant(t testing.TB, userID int64, barID, role string) roles.Role {
	t.Helper()
	r, _, err := e.Store.InsertRole(context.Background(), roles.Role{UserID: userID, BarID: barID, Name: role})
	require.NoError(t, err)
	require.NoError(t, e.Svc.Resolver.InvalidateUser(context.Background(), userID))
	return r
}

// Bar inserts a bar under parent, bypassing permission checks.
func (e *Env) Bar(t testing.TB, id, parent string) bars.Bar {
	t.Helper()
	b, err := e.Store.InsertBar(context.Background(), bars.Bar{ID: id, Name: id, ParentID: parent})
	require.NoError(t, err)
	return b
}

// Admin returns a principal holding the root admin role.
func (e *Env) Admin(t testing.TB) *shared.Principal {
	t.Helper()
	u := e.User(t, "root-admin")
	e.Grant(t, u.ID, e.Root.ID, e.Svc.Resolver.Policy().RootAdminRole())
	return As(u.ID)
}

// Catalog stores item details and a sell item of barID with the given tax.
func (e *Env) Catalog(t testing.TB, barID string, tax float64) (items.ItemDetails, items.SellItem) {
	t.Helper()
	d := e.Store.PutItemDetails(items.ItemDetails{Name: "Blonde", Brand: "Tapline", Container: "keg"})
	si := e.Store.PutSellItem(items.SellItem{BarID: barID, Name: "Blonde", Tax: tax})
	return d, si
}

// As returns the principal of userID.
func As(userID int64) *shared.Principal {
	return &shared.Principal{UserID: userID}
}
