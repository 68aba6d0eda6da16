// ABOUTME: Redis implementation of the Invite Ledger using go-redis
// ABOUTME: Each invite is a hash under invite:<email>; upsert replaces the whole hash

package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "invite:"

// RedisStore implements InviteStore on a Redis server.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to addr, which may be host:port or a redis:// URL.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger := slog.Default().With("component", "store")
	logger.Info("Redis store initialized", "addr", opts.Addr)
	return &RedisStore{client: client, logger: logger}, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	s.logger.Info("closing Redis store")
	return s.client.Close()
}

func redisKey(email string) string {
	return redisKeyPrefix + email
}

// UpsertInvite replaces the hash for the record's email in one transaction.
func (s *RedisStore) UpsertInvite(ctx context.Context, record *InviteRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	fields := map[string]any{
		"email":      record.Email,
		"created_at": formatTime(record.CreatedAt),
		"expires_at": formatTime(record.ExpiresAt),
	}
	if record.Status != "" {
		fields["status"] = string(record.Status)
	}
	if record.Note != nil {
		fields["note"] = *record.Note
	}

	key := redisKey(record.Email)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting invite: %w", err)
	}
	return nil
}

// GetInvite retrieves an invite by exact email.
func (s *RedisStore) GetInvite(ctx context.Context, email string) (*InviteRecord, error) {
	values, err := s.client.HGetAll(ctx, redisKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("querying invite: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}

	record := &InviteRecord{
		Email:  email,
		Status: InviteStatus(values["status"]),
	}
	if note, ok := values["note"]; ok {
		record.Note = &note
	}
	if record.CreatedAt, err = parseTime(values["created_at"]); err != nil {
		return nil, err
	}
	if record.ExpiresAt, err = parseTime(values["expires_at"]); err != nil {
		return nil, err
	}
	return record, nil
}
