// Package redisstore implements store.Store on Redis. Each operation maps to
// a single Redis command, so set-add and list-append are atomic server side.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
)

// Store wraps a go-redis client.
type Store struct {
	rdb redis.UniversalClient
}

var _ store.Store = (*Store)(nil)

// Options selects the Redis endpoint.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// New dials lazily; call Ping to verify connectivity.
func New(opts Options) *Store {
	return Wrap(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	}))
}

// NewFromURL parses a redis:// or rediss:// URL.
func NewFromURL(rawURL string) (*Store, error) {
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return Wrap(redis.NewClient(o)), nil
}

// Wrap adapts an existing client (tests, clusters).
func Wrap(c redis.UniversalClient) *Store { return &Store{rdb: c} }

// Close releases the connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// AddIfAbsent is SADD; a reply of 1 means the member was not yet in the set.
func (s *Store) AddIfAbsent(ctx context.Context, setKey, member string) (bool, error) {
	n, err := s.rdb.SAdd(ctx, setKey, member).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd %s: %w", setKey, err)
	}
	return n == 1, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var err error
	if ttl <= 0 {
		err = s.rdb.Persist(ctx, key).Err()
	} else {
		err = s.rdb.Expire(ctx, key, ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, listKey string, values ...string) (int64, error) {
	if len(values) == 0 {
		n, err := s.rdb.LLen(ctx, listKey).Result()
		if err != nil {
			return 0, fmt.Errorf("redis llen %s: %w", listKey, err)
		}
		return n, nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := s.rdb.RPush(ctx, listKey, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rpush %s: %w", listKey, err)
	}
	return n, nil
}

func (s *Store) Range(ctx context.Context, listKey string) ([]string, error) {
	v, err := s.rdb.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", listKey, err)
	}
	if v == nil {
		v = []string{}
	}
	return v, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// FlushForTest empties the selected database. Only test helpers call it.
func (s *Store) FlushForTest(ctx context.Context) error { return s.rdb.FlushDB(ctx).Err() }
