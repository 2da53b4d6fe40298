// Package cache keeps JSON snapshots of brackets in redis so reads can still be
// served while the database is down.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no snapshot is cached for a tournament.
var ErrMiss = errors.New("snapshot not cached")

const DefaultTTL = 24 * time.Hour

// RedisSnapshots implements service.SnapshotCache.
type RedisSnapshots struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string, ttl time.Duration) (*RedisSnapshots, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisSnapshots(rdb, ttl), nil
}

func NewRedisSnapshots(rdb *redis.Client, ttl time.Duration) *RedisSnapshots {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSnapshots{rdb: rdb, ttl: ttl}
}

func (c *RedisSnapshots) Close() error {
	return c.rdb.Close()
}

func snapshotKey(id uuid.UUID) string {
	return fmt.Sprintf("bracket:snapshot:%s", id)
}

func (c *RedisSnapshots) Put(ctx context.Context, snapshot *bracket.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey(snapshot.Tournament.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func (c *RedisSnapshots) Get(ctx context.Context, id uuid.UUID) (*bracket.Snapshot, error) {
	data, err := c.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}

	var snapshot bracket.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}
