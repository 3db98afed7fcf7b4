package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel carries cache invalidation messages between processes.
const InvalidationChannel = "tapline:rbac:invalidate"

const (
	messageAll        = "all"
	messageRoot       = "root"
	messageUserPrefix = "user:"
)

// Broadcaster invalidates the local resolver caches and tells other processes to do the same.
type Broadcaster struct {
	client   *redis.Client
	resolver *Resolver
	channel  string
	logger   *slog.Logger
}

// NewBroadcaster builds a broadcaster. A nil client keeps invalidation process-local.
func NewBroadcaster(client *redis.Client, resolver *Resolver, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, resolver: resolver, channel: InvalidationChannel, logger: logger}
}

// InvalidateUser drops a user's cached roles here and everywhere else.
func (b *Broadcaster) InvalidateUser(ctx context.Context, userID int64) error {
	_ = b.resolver.InvalidateUser(ctx, userID)
	return b.publish(ctx, messageUserPrefix+strconv.FormatInt(userID, 10))
}

// InvalidateRoot drops the root-bar memo and every cached role.
func (b *Broadcaster) InvalidateRoot(ctx context.Context) error {
	b.resolver.InvalidateAll()
	return b.publish(ctx, messageRoot)
}

// InvalidateAll drops every cached role.
func (b *Broadcaster) InvalidateAll(ctx context.Context) error {
	b.resolver.cache.Purge()
	return b.publish(ctx, messageAll)
}

func (b *Broadcaster) publish(ctx context.Context, payload string) error {
	if b.client == nil {
		return nil
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("rbac: publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes to invalidation messages until ctx is cancelled.
// It returns once the subscription is confirmed.
func (b *Broadcaster) Listen(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("rbac: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.apply(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (b *Broadcaster) apply(ctx context.Context, payload string) {
	switch {
	case payload == messageRoot:
		b.resolver.InvalidateAll()
	case payload == messageAll:
		b.resolver.cache.Purge()
	case strings.HasPrefix(payload, messageUserPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(payload, messageUserPrefix), 10, 64)
		if err != nil {
			b.logger.WarnContext(ctx, "rbac invalidation payload", slog.String("payload", payload))
			return
		}
		b.resolver.cache.InvalidateUser(id)
	default:
		b.logger.WarnContext(ctx, "rbac invalidation payload", slog.String("payload", payload))
	}
}
