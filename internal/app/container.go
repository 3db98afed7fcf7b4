package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tapline/tapline/internal/accounts"
	"github.com/tapline/tapline/internal/auth"
	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/items"
	"github.com/tapline/tapline/internal/ledger"
	"github.com/tapline/tapline/internal/platform/db"
	"github.com/tapline/tapline/internal/rbac"
	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/store/memory"
	"github.com/tapline/tapline/internal/users"
	"github.com/tapline/tapline/jobs"
)

// RoleStore serves both role management and permission resolution.
type RoleStore interface {
	roles.RepositoryPort
	rbac.RoleSource
}

// IdempotencyStore deduplicates ledger writes and expires old keys.
type IdempotencyStore interface {
	ledger.IdempotencyPort
	jobs.KeyCleaner
}

// AuditStore persists audit records.
type AuditStore interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Repositories groups every storage port the services need.
type Repositories struct {
	Bars        bars.RepositoryPort
	Roles       RoleStore
	Users       users.RepositoryPort
	Items       items.RepositoryPort
	Accounts    accounts.RepositoryPort
	Ledger      ledger.RepositoryPort
	Idempotency IdempotencyStore
	Audit       AuditStore
	Ping        func(ctx context.Context) error
}

// PostgresRepositories backs every port with pgx repositories over pool.
func PostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Bars:        bars.NewRepository(pool),
		Roles:       roles.NewRepository(pool),
		Users:       users.NewRepository(pool),
		Items:       items.NewRepository(pool),
		Accounts:    accounts.NewRepository(pool),
		Ledger:      ledger.NewRepository(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Audit:       shared.NewAuditLogger(pool),
		Ping:        pool.Ping,
	}
}

// MemoryRepositories backs every port with one in-process store.
func MemoryRepositories(store *memory.Store) Repositories {
	return Repositories{
		Bars:        store,
		Roles:       store,
		Users:       store,
		Items:       store,
		Accounts:    store,
		Ledger:      store,
		Idempotency: store,
		Audit:       store,
		Ping:        store.Ping,
	}
}

// OpenRepositories connects the configured storage driver. The returned close func releases it.
func OpenRepositories(ctx context.Context, cfg *Config, logger *slog.Logger) (Repositories, func(), error) {
	if cfg.StorageDriver == StorageMemory {
		logger.Warn("using in-memory storage, data is lost on exit")
		return MemoryRepositories(memory.New()), func() {}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return Repositories{}, nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return Repositories{}, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database schema applied")
	}
	return PostgresRepositories(pool), pool.Close, nil
}

// ServiceOptions tune service construction.
type ServiceOptions struct {
	// Policy defaults to rbac.DefaultPolicy.
	Policy             *rbac.Policy
	RoleCacheSize      int
	RoleCacheTTL       time.Duration
	AllowNegativeStock bool
	// Registerer receives the ledger metrics. Nil uses the Prometheus default.
	Registerer prometheus.Registerer
	// Redis, when set, carries cache invalidation between processes.
	Redis *redis.Client
	// Tokens is required for the auth service.
	Tokens *auth.TokenStore
	// PasswordCost overrides the bcrypt cost.
	PasswordCost int
}

// Services holds the wired domain services.
type Services struct {
	Repos       Repositories
	Hierarchy   *bars.Hierarchy
	Resolver    *rbac.Resolver
	Broadcaster *rbac.Broadcaster
	Ledger      *ledger.Service
	Bars        *bars.Service
	Roles       *roles.Service
	Users       *users.Service
	Items       *items.Service
	Accounts    *accounts.Service
	Auth        *auth.Service
}

// NewServices wires every service over repos.
func NewServices(repos Repositories, opts ServiceOptions, logger *slog.Logger) *Services {
	if logger == nil {
		logger = slog.Default()
	}
	hierarchy := bars.NewHierarchy(repos.Bars, logger)
	resolver := rbac.NewResolver(hierarchy, repos.Roles, opts.Policy, rbac.NewRoleCache(opts.RoleCacheSize, opts.RoleCacheTTL), logger)
	broadcaster := rbac.NewBroadcaster(opts.Redis, resolver, logger)
	ledgerSvc := ledger.NewService(repos.Ledger, repos.Idempotency, ledger.NewMetrics(opts.Registerer), logger,
		ledger.Options{AllowNegativeStock: opts.AllowNegativeStock})

	usersSvc := users.NewService(repos.Users, resolver, repos.Audit, logger)
	if opts.PasswordCost > 0 {
		usersSvc = usersSvc.WithHashCost(opts.PasswordCost)
	}

	svc := &Services{
		Repos:       repos,
		Hierarchy:   hierarchy,
		Resolver:    resolver,
		Broadcaster: broadcaster,
		Ledger:      ledgerSvc,
		Bars:        bars.NewService(repos.Bars, hierarchy, resolver, repos.Audit, logger),
		Roles:       roles.NewService(repos.Roles, resolver.Policy(), resolver, broadcaster, repos.Audit, logger),
		Users:       usersSvc,
		Items:       items.NewService(repos.Items, ledgerSvc, resolver, repos.Audit, logger),
		Accounts:    accounts.NewService(repos.Accounts, ledgerSvc, resolver, repos.Audit, logger),
	}
	if opts.Tokens != nil {
		svc.Auth = auth.NewService(usersSvc, opts.Tokens)
	}
	return svc
}
