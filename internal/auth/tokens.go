package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tapline/tapline/internal/shared"
)

const defaultTokenTTL = 24 * time.Hour

// TokenStore keeps bearer tokens in Redis with a sliding TTL.
type TokenStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenStore builds a token store.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenStore{client: client, prefix: "tapline:token:", ttl: ttl, now: time.Now}
}

// TTL reports the token lifetime.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

func (s *TokenStore) key(token string) string {
	return s.prefix + token
}

// Issue creates a token for userID.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (Token, error) {
	now := s.now().UTC()
	token := Token{
		Value:     uuid.NewString(),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(tokenPayload{UserID: userID, IssuedAt: now})
	if err != nil {
		return Token{}, err
	}
	if err := s.client.Set(ctx, s.key(token.Value), data, s.ttl).Err(); err != nil {
		return Token{}, fmt.Errorf("auth: store token: %w", err)
	}
	return token, nil
}

// Resolve returns the principal of a token and refreshes its TTL.
func (s *TokenStore) Resolve(ctx context.Context, token string) (*shared.Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("auth: empty token: %w", shared.ErrUnauthenticated)
	}
	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("auth: unknown token: %w", shared.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("auth: load token: %w", err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.UserID <= 0 {
		return nil, fmt.Errorf("auth: corrupt token: %w", shared.ErrUnauthenticated)
	}
	_ = s.client.Expire(ctx, s.key(token), s.ttl).Err()
	return &shared.Principal{UserID: payload.UserID}, nil
}

// Revoke deletes a token.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}
