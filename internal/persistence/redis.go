package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisFieldValue     = "value"
	redisFieldWrittenAt = "written_at"
)

// RedisStore keeps each blob in a hash holding the value and its write
// time, so both are read and written atomically.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    Clock
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    utcNow,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), redisFieldValue, redisFieldWrittenAt).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis HMGET failed: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, time.Time{}, ErrNotFound
	}

	value, ok := vals[0].(string)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis returned unexpected value type %T", vals[0])
	}
	writtenAt, err := parseRedisTime(vals[1])
	if err != nil {
		return nil, time.Time{}, err
	}
	return []byte(value), writtenAt, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, redisFieldValue, value, redisFieldWrittenAt, s.now().UnixNano())
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis HSET failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

func (s *RedisStore) LastWrite(ctx context.Context, key string) (time.Time, error) {
	val, err := s.client.HGet(ctx, s.key(key), redisFieldWrittenAt).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis HGET failed: %w", err)
	}
	return parseRedisTime(val)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseRedisTime(raw interface{}) (time.Time, error) {
	str, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("redis returned unexpected timestamp type %T", raw)
	}
	nanos, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", str, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}
