package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "readingroom:"

// RedisStore keeps each blob in a Redis string with a companion version
// counter. Writes run under WATCH on the counter.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed blob store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
}

func (s *RedisStore) dataKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) versionKey(key string) string {
	return s.prefix + key + ":version"
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	values, err := s.client.MGet(ctx, s.dataKey(key), s.versionKey(key)).Result()
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	data, ok := values[0].(string)
	if !ok {
		return nil, "", ErrNotFound
	}
	version, _ := values[1].(string)
	return []byte(data), version, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, version string) (string, error) {
	dataKey := s.dataKey(key)
	versionKey := s.versionKey(key)

	var next string
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Result()
		if errors.Is(err, redis.Nil) {
			current = ""
		} else if err != nil {
			return fmt.Errorf("read version of %s: %w", key, err)
		}
		if current != version {
			return ErrConflict
		}

		counter := int64(0)
		if current != "" {
			counter, err = strconv.ParseInt(current, 10, 64)
			if err != nil {
				return fmt.Errorf("parse version of %s: %w", key, err)
			}
		}
		next = strconv.FormatInt(counter+1, 10)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, dataKey, value, 0)
			pipe.Set(ctx, versionKey, next, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return "", ErrConflict
	}
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return "", err
		}
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return next, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
