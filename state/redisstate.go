package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisConnectTimeout = 5 * time.Second

// RedisStore implements Store on Redis. Each key has a companion "<key>#etag"
// counter that is bumped on every write.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(config Config) (*RedisStore, error) {
	cfg := config.RedisConfig
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreWithClient(client, config.KeyPrefix), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) keys(key string) (string, string) {
	k := r.keyPrefix + key
	return k, k + "#etag"
}

func (r *RedisStore) Get(ctx context.Context, key string) (Item, error) {
	k, etagKey := r.keys(key)
	vals, err := r.client.MGet(ctx, k, etagKey).Result()
	if err != nil {
		return Item{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	value, ok := vals[0].(string)
	if !ok {
		return Item{}, ErrNotFound
	}
	etag, _ := vals[1].(string)
	return Item{Value: []byte(value), ETag: etag}, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, etagKey := r.keys(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k, value, ttl)
		pipe.Incr(ctx, etagKey)
		if ttl > 0 {
			pipe.Expire(ctx, etagKey, ttl)
		} else {
			pipe.Persist(ctx, etagKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) SetIfMatch(ctx context.Context, key string, value []byte, etag string) error {
	k, etagKey := r.keys(key)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, etagKey).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		if etag == "" && exists {
			return ErrConflict
		}
		if etag != "" && (!exists || current != etag) {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, value, 0)
			pipe.Incr(ctx, etagKey)
			pipe.Persist(ctx, etagKey)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, etagKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%s: %w", key, ErrConflict)
	}
	return fmt.Errorf("redis set %s: %w", key, err)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	k, etagKey := r.keys(key)
	if err := r.client.Del(ctx, k, etagKey).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
