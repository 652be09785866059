package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV is the production backend. SETNX gives it a real conditional put,
// which closes the duplicate-issuance window entirely on this backend.
type RedisKV struct {
	client *redis.Client
}

// RedisOptions carries the connection settings the config layer resolves.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisKV connects a client and verifies the server is reachable before
// the issuance service starts taking requests.
func NewRedisKV(ctx context.Context, opts RedisOptions) (*RedisKV, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisKV{client: client}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (r *RedisKV) Put(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	created, err := r.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return created, nil
}

func (r *RedisKV) CountPrefix(ctx context.Context, prefix string) (int, error) {
	// SCAN guarantees at-least-once delivery, so keys are deduplicated
	// before counting.
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		for _, key := range keys {
			seen[key] = struct{}{}
		}
		if next == 0 {
			return len(seen), nil
		}
		cursor = next
	}
}

// Ping is used by health checks.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisKV) Close() error {
	return r.client.Close()
}
