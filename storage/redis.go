package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pawsitivecheck/querycache/types"
	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint for SCAN and the DEL batch size.
const scanBatch = 100

// Record is the remote representation of a cached query result.
type Record struct {
	Key       types.QueryKey  `json:"key"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// RedisStore stores query records in Redis under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	codec  RecordCodec
}

// NewRedisStore creates a new Redis-based store.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		codec:  JSONRecordCodec{},
	}, nil
}

func (rs *RedisStore) redisKey(key types.QueryKey) string {
	return rs.prefix + key.Hash()
}

// Get retrieves a record from Redis.
func (rs *RedisStore) Get(ctx context.Context, key types.QueryKey) (*Record, error) {
	val, err := rs.client.Get(ctx, rs.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rec, err := rs.codec.Decode(val)
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	return rec, nil
}

// Set stores a record in Redis.
func (rs *RedisStore) Set(ctx context.Context, rec *Record) error {
	data, err := rs.codec.Encode(rec)
	if err != nil {
		return err
	}
	return rs.client.Set(ctx, rs.redisKey(rec.Key), data, 0).Err()
}

// Delete removes a record from Redis.
func (rs *RedisStore) Delete(ctx context.Context, key types.QueryKey) error {
	return rs.client.Del(ctx, rs.redisKey(key)).Err()
}

// DeleteMatching scans the prefix and removes every record whose key
// matches pred. It returns the number of deleted records.
func (rs *RedisStore) DeleteMatching(ctx context.Context, pred types.Predicate) (int, error) {
	var (
		batch   []string
		deleted int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := rs.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		val, err := rs.client.Get(ctx, redisKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return deleted, err
		}

		rec, err := rs.codec.Decode(val)
		if err != nil {
			// Not ours or corrupt; leave it alone.
			continue
		}
		if !pred.Match(rec.Key) {
			continue
		}

		batch = append(batch, redisKey)
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}

	return deleted, flush()
}

// Clear removes every record under the store prefix.
func (rs *RedisStore) Clear(ctx context.Context) error {
	_, err := rs.DeleteMatching(ctx, types.PredicateFunc(func(types.QueryKey) bool { return true }))
	return err
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// GetClient returns the underlying Redis client.
func (rs *RedisStore) GetClient() *redis.Client {
	return rs.client
}

// ErrNotFound is returned when a key is not found.
var ErrNotFound = errors.New("key not found in redis")
