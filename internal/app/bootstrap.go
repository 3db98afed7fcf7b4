package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tapline/tapline/internal/bars"
	"github.com/tapline/tapline/internal/roles"
	"github.com/tapline/tapline/internal/shared"
	"github.com/tapline/tapline/internal/users"
)

// BootstrapInput describes the state every deployment starts from.
type BootstrapInput struct {
	RootID        string
	RootName      string
	AdminUsername string
	AdminPassword string
	PasswordCost  int
}

// Bootstrap ensures the root bar exists and, when credentials are given, that the admin user
// exists and holds the root admin role. It runs outside permission checks and is idempotent.
func Bootstrap(ctx context.Context, svc *Services, in BootstrapInput, logger *slog.Logger) (bars.Bar, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := svc.Bars.EnsureRoot(ctx, in.RootID, in.RootName)
	if err != nil {
		return bars.Bar{}, err
	}
	if in.AdminUsername == "" {
		return root, nil
	}

	username := users.NormalizeUsername(in.AdminUsername)
	admin, err := svc.Repos.Users.FindUserByUsername(ctx, username)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrNotFound):
		hash, herr := users.HashPassword(in.AdminPassword, in.PasswordCost)
		if herr != nil {
			return bars.Bar{}, herr
		}
		admin, err = svc.Repos.Users.InsertUser(ctx, users.User{
			Username:     username,
			FullName:     "Administrator",
			PasswordHash: hash,
			IsActive:     true,
		})
		if err != nil {
			return bars.Bar{}, fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.InfoContext(ctx, "bootstrap admin created", slog.String("username", username))
	default:
		return bars.Bar{}, err
	}

	roleName := svc.Resolver.Policy().RootAdminRole()
	if _, created, err := svc.Repos.Roles.InsertRole(ctx, roles.Role{UserID: admin.ID, BarID: root.ID, Name: roleName}); err != nil {
		return bars.Bar{}, fmt.Errorf("bootstrap admin role: %w", err)
	} else if created {
		_ = svc.Resolver.InvalidateUser(ctx, admin.ID)
		logger.InfoContext(ctx, "bootstrap admin role granted", slog.String("bar_id", root.ID), slog.String("role", roleName))
	}
	return root, nil
}
