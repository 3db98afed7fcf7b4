package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/tapline/tapline/internal/shared"
)

const minPasswordLength = 8

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	InsertUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Authorizer gates user management. User management is scoped to the root bar.
type Authorizer interface {
	Require(ctx context.Context, principal *shared.Principal, barID string, capability shared.Capability) error
}

// AuditPort records user changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	authz  Authorizer
	audit  AuditPort
	logger *slog.Logger
	cost   int
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, authz Authorizer, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, audit: audit, logger: logger, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithHashCost overrides the bcrypt cost, mainly for tests.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// NormalizeUsername applies NFKC normalisation and trims surrounding space.
func NormalizeUsername(raw string) string {
	return norm.NFKC.String(strings.TrimSpace(raw))
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("users: hash password: %w", err)
	}
	return string(hash), nil
}

// Create registers a user. Requires manage-users on the root bar.
func (s *Service) Create(ctx context.Context, principal *shared.Principal, input CreateInput) (User, error) {
	username := NormalizeUsername(input.Username)
	if err := validateUsername(username); err != nil {
		return User{}, err
	}
	if err := validatePassword(input.Password); err != nil {
		return User{}, err
	}
	if err := s.authz.Require(ctx, principal, "", shared.CapManageUsers); err != nil {
		return User{}, err
	}
	if _, err := s.repo.FindUserByUsername(ctx, username); err == nil {
		return User{}, fmt.Errorf("users: %q already exists: %w", username, shared.ErrConflict)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return User{}, err
	}
	hash, err := HashPassword(input.Password, s.cost)
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.InsertUser(ctx, User{
		Username:     username,
		FullName:     strings.TrimSpace(input.FullName),
		Pseudo:       strings.TrimSpace(input.Pseudo),
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, principal, "user.create", user.ID, map[string]any{"username": user.Username})
	return user, nil
}

// Get returns a user. Anonymous callers are rejected.
func (s *Service) Get(ctx context.Context, principal *shared.Principal, id int64) (User, error) {
	if principal == nil || principal.UserID != id {
		if err := s.authz.Require(ctx, principal, "", shared.CapViewUsers); err != nil {
			return User{}, err
		}
	}
	return s.repo.GetUser(ctx, id)
}

// List returns every user.
func (s *Service) List(ctx context.Context, principal *shared.Principal) ([]User, error) {
	if err := s.authz.Require(ctx, principal, "", shared.CapViewUsers); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

// Me returns the signed-in user.
func (s *Service) Me(ctx context.Context, principal *shared.Principal) (User, error) {
	if principal == nil {
		return User{}, fmt.Errorf("users: me: %w", shared.ErrUnauthenticated)
	}
	return s.repo.GetUser(ctx, principal.UserID)
}

// Update edits a profile. Users may edit themselves; others need manage-users.
// Only user managers may change IsActive.
func (s *Service) Update(ctx context.Context, principal *shared.Principal, id int64, input UpdateInput) (User, error) {
	if principal == nil {
		return User{}, fmt.Errorf("users: update: %w", shared.ErrUnauthenticated)
	}
	if principal.UserID != id || input.IsActive != nil {
		if err := s.authz.Require(ctx, principal, "", shared.CapManageUsers); err != nil {
			return User{}, err
		}
	}
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if input.FullName != nil {
		if utf8.RuneCountInString(*input.FullName) > 255 {
			return User{}, shared.NewValidationError("full_name", "too long")
		}
		user.FullName = strings.TrimSpace(*input.FullName)
	}
	if input.Pseudo != nil {
		if utf8.RuneCountInString(*input.Pseudo) > 255 {
			return User{}, shared.NewValidationError("pseudo", "too long")
		}
		user.Pseudo = strings.TrimSpace(*input.Pseudo)
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	updated, err := s.repo.UpdateUser(ctx, user)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, principal, "user.update", id, nil)
	return updated, nil
}

// ChangePassword replaces the caller's password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, principal *shared.Principal, id int64, oldPassword, newPassword string) error {
	if principal == nil {
		return fmt.Errorf("users: change password: %w", shared.ErrUnauthenticated)
	}
	if principal.UserID != id {
		return fmt.Errorf("users: change password of %d: %w", id, shared.ErrPermissionDenied)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("users: old password mismatch: %w", shared.ErrPermissionDenied)
	}
	hash, err := HashPassword(newPassword, s.cost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if _, err := s.repo.UpdateUser(ctx, user); err != nil {
		return err
	}
	s.record(ctx, principal, "user.password", id, nil)
	return nil
}

// Authenticate validates username/password credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	user, err := s.repo.FindUserByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, shared.ErrInvalidCredentials
		}
		return User{}, err
	}
	if !user.IsActive {
		return User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	now := s.now().UTC()
	if err := s.repo.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "touch last login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	} else {
		user.LastLogin = &now
	}
	return user, nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n == 0 {
		return shared.NewValidationError("username", "is required")
	}
	if n > 150 {
		return shared.NewValidationError("username", "too long")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return shared.NewValidationError("username", "must not contain spaces")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return shared.NewValidationError("password", fmt.Sprintf("must have at least %d characters", minPasswordLength))
	}
	if len(password) > 72 {
		return shared.NewValidationError("password", "must have at most 72 bytes")
	}
	return nil
}

func (s *Service) record(ctx context.Context, principal *shared.Principal, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  principal.ActorID(),
		Action:   action,
		Entity:   "user",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
