package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/agsys/depot-dispatch/internal/storage"
)

// Backend is the key/value store behind the session slots
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes it atomically
	Take(ctx context.Context, key string) (string, bool, error)
}

// SQLiteBackend keeps slots in the local database
type SQLiteBackend struct {
	db *storage.DB
}

// NewSQLiteBackend creates a backend over an open database
func NewSQLiteBackend(db *storage.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (string, bool, error) {
	return b.db.GetSlot(ctx, key)
}

func (b *SQLiteBackend) Set(ctx context.Context, key, value string) error {
	return b.db.SetSlot(ctx, key, value)
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	return b.db.DeleteSlot(ctx, key)
}

func (b *SQLiteBackend) Take(ctx context.Context, key string) (string, bool, error) {
	return b.db.TakeSlot(ctx, key)
}

// RedisConfig holds the connection settings for a shared kiosk session
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisBackend keeps slots in Redis so several terminals can share one
// operator session
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend connects and pings the server
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "depot:session:"
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + k
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, b.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis get %s", key)
	}
	return v, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(b.client.Set(ctx, b.key(key), value, b.ttl).Err(), "redis set %s", key)
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(b.client.Del(ctx, b.key(key)).Err(), "redis del %s", key)
}

// Take reads and deletes in one MULTI block; GETDEL needs Redis 6.2
func (b *RedisBackend) Take(ctx context.Context, key string) (string, bool, error) {
	k := b.key(key)
	var get *redis.StringCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, k)
		pipe.Del(ctx, k)
		return nil
	})
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis take %s", key)
	}
	return get.Val(), true, nil
}

// Close releases the connection pool
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
