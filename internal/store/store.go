// Package store adapts the keyed-store surface the review pipeline is
// built on (scalar get/set+TTL, atomic hash-field counters, hash fields,
// sequences, ephemeral-set scans, server-side scripted multi-step, and an
// append-only event log) onto a concrete backend. There is no pipelined
// batch operation: every call is its own round trip.
//
// Grounded in original_source's redis_session.py/event_stream.py key
// schema and connection split: one short-timeout connection for ordinary
// ops, one long-timeout connection dedicated to blocking stream reads.
package store

import (
	"context"
	"time"
)

// Store is the keyed-store surface every higher-level package (session,
// versioning, presence, notify, review) is built against. A production
// instance is backed by Redis (see RedisStore); tests use an in-memory fake.
type Store interface {
	// Scalar ops.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Hash ops.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Sequence (list) ops.
	LPush(ctx context.Context, key string, value string) error
	RPush(ctx context.Context, key string, value string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)

	// Ephemeral-set enumeration by key prefix. Backed by SCAN, never KEYS.
	ScanKeys(ctx context.Context, matchPrefix string) ([]string, error)

	// Eval runs a server-side Lua script atomically over the given keys.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	// Event log (stream) ops.
	StreamAdd(ctx context.Context, stream string, fields map[string]string, maxLenApprox int64) (string, error)
	StreamRange(ctx context.Context, stream, start, stop string) ([]StreamEntry, error)
	// StreamRead blocks up to block waiting for entries after afterID ("$"
	// means "only entries added after this call"). Returns (nil, nil) on
	// a clean timeout with no new entries.
	StreamRead(ctx context.Context, stream, afterID string, count int64, block time.Duration) ([]StreamEntry, error)
	StreamLen(ctx context.Context, stream string) (int64, error)
}

// StreamEntry is one entry read from an event-log stream.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}
