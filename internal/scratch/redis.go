package scratch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore implements Store on Redis with native key expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis at url and verifies the connection.
func NewRedis(ctx context.Context, url, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "scratch: parse redis url")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "scratch: ping redis")
	}
	return NewRedisFromClient(client, keyPrefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) SetIDs(ctx context.Context, key string, ids []int64, ttl time.Duration) error {
	data, err := encodeIDs(ids)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return eris.Wrapf(err, "scratch: set %s", key)
	}
	return nil
}

func (s *RedisStore) GetIDs(ctx context.Context, key string) ([]int64, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "scratch: get %s", key)
	}
	return decodeIDs(data)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return eris.Wrap(s.client.Del(ctx, full...).Err(), "scratch: delete")
}

// Keys lists keys under prefix using SCAN, with the store prefix stripped.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, s.key(prefix)+"*", 500).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if s.prefix != "" {
			k = strings.TrimPrefix(k, s.prefix+":")
		}
		out = append(out, k)
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "scratch: scan keys")
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
