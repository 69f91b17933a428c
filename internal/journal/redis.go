package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL bounds how long a stalled launch stays resumable
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "postlaunch:journal:"

// Redis stores entries as JSON strings with a TTL
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// Options configures the Redis journal connection
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// OpenRedis connects and pings before returning
func OpenRedis(ctx context.Context, opts Options) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedis(rdb, opts.TTL), nil
}

// NewRedis wraps an existing client; ttl <= 0 uses DefaultTTL
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func key(postID string) string { return keyPrefix + postID }

func (r *Redis) Put(ctx context.Context, e Entry) error {
	if e.PostID == "" {
		return errors.New("journal entry without post id")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if err := r.client.Set(ctx, key(e.PostID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, postID string) (Entry, error) {
	val, err := r.client.Get(ctx, key(postID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, fmt.Errorf("decode journal entry %s: %w", postID, err)
	}
	return e, nil
}

func (r *Redis) Delete(ctx context.Context, postID string) error {
	if err := r.client.Del(ctx, key(postID)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
