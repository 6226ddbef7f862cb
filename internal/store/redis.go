package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the two connections a RedisStore holds: a
// short-timeout connection for ordinary ops and a long-timeout connection
// dedicated to blocking stream reads — mirrors get_redis()/
// get_redis_blocking() in the original session store.
type RedisConfig struct {
	Addr             string
	Password         string
	DB               int
	DialTimeout      time.Duration
	ReadTimeout      time.Duration
	BlockReadTimeout time.Duration
}

// RedisStore is the concrete Store backend.
type RedisStore struct {
	client         *redis.Client
	blockingClient *redis.Client
}

// NewRedisStore dials both connections and pings the short-timeout one.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}
	blockTimeout := cfg.BlockReadTimeout
	if blockTimeout == 0 {
		blockTimeout = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: readTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect %s: %w", cfg.Addr, err)
	}

	blocking := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  blockTimeout + 5*time.Second,
		WriteTimeout: blockTimeout + 5*time.Second,
	})

	return &RedisStore{client: client, blockingClient: blocking}, nil
}

// Close closes both connections.
func (s *RedisStore) Close() error {
	err1 := s.client.Close()
	err2 := s.blockingClient.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Ping checks connectivity, used by the health checker.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return s.client.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.client.HDel(ctx, key, fields...).Err()
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, delta).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) LPush(ctx context.Context, key string, value string) error {
	return s.client.LPush(ctx, key, value).Err()
}

func (s *RedisStore) RPush(ctx context.Context, key string, value string) error {
	return s.client.RPush(ctx, key, value).Err()
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

// ScanKeys enumerates keys matching matchPrefix* using SCAN cursors,
// never KEYS, so a large keyspace never blocks the server.
func (s *RedisStore) ScanKeys(ctx context.Context, matchPrefix string) ([]string, error) {
	var out []string
	var cursor uint64
	pattern := matchPrefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return s.client.Eval(ctx, script, keys, args...).Result()
}

func (s *RedisStore) StreamAdd(ctx context.Context, stream string, fields map[string]string, maxLenApprox int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLenApprox,
		Approx: true,
		Values: values,
	}).Result()
}

func (s *RedisStore) StreamRange(ctx context.Context, stream, start, stop string) ([]StreamEntry, error) {
	msgs, err := s.client.XRange(ctx, stream, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return convertMessages(msgs), nil
}

func (s *RedisStore) StreamRead(ctx context.Context, stream, afterID string, count int64, block time.Duration) ([]StreamEntry, error) {
	res, err := s.blockingClient.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, afterID},
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []StreamEntry
	for _, s := range res {
		out = append(out, convertMessages(s.Messages)...)
	}
	return out, nil
}

func (s *RedisStore) StreamLen(ctx context.Context, stream string) (int64, error) {
	return s.client.XLen(ctx, stream).Result()
}

func convertMessages(msgs []redis.XMessage) []StreamEntry {
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if sv, ok := v.(string); ok {
				fields[k] = sv
			} else {
				fields[k] = fmt.Sprintf("%v", v)
			}
		}
		out = append(out, StreamEntry{ID: m.ID, Fields: fields})
	}
	return out
}
