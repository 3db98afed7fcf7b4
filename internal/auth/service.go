package auth

import (
	"context"

	"github.com/tapline/tapline/internal/users"
)

// Authenticator checks credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (users.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	users  Authenticator
	tokens *TokenStore
}

// NewService constructs a new Service.
func NewService(authenticator Authenticator, tokens *TokenStore) *Service {
	return &Service{users: authenticator, tokens: tokens}
}

// Login validates credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (Token, users.User, error) {
	user, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return Token{}, users.User{}, err
	}
	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return Token{}, users.User{}, err
	}
	return token, user, nil
}

// Logout revokes a token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}
