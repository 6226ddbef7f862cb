package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// luaLockAcquire acquires KEYS[1] for ARGV[1] (a random per-process token)
// with a PX ttl of ARGV[2] milliseconds. Calling it again while ARGV[1]
// still owns the key renews the ttl instead of failing, so a leader can
// call Acquire repeatedly as a heartbeat rather than needing a separate
// renew script.
const luaLockAcquire = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 1
else
  return 0
end`

// luaLockRelease deletes KEYS[1] only if it is still held by ARGV[1],
// so a replica can never release a lock another replica has since acquired.
const luaLockRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end`

// RedisLock is a SET-NX-PX distributed lock: the Redis equivalent of a
// Postgres pg_try_advisory_lock, used by internal/leader's election. Unlike an advisory lock (held for the life of a connection), a
// Redis lock carries a ttl and must be renewed by calling Acquire again
// while still holding it.
type RedisLock struct {
	store Store
	key   string
	ttl   time.Duration
	token string
}

// NewRedisLock builds a lock over key with the given ttl, identified by a
// random token unique to this process so release can never affect a lock
// another replica has since acquired.
func NewRedisLock(s Store, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{store: s, key: key, ttl: ttl, token: randomToken()}
}

// Acquire attempts to acquire the lock, or renews it if this instance
// already holds it. Matches leader.TryLockFunc's signature so it can be
// passed directly to leader.New.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	res, err := l.store.Eval(ctx, luaLockAcquire, []string{l.key}, l.token, l.ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	return toInt64(res) == 1, nil
}

// Release drops the lock if it is still held by this instance's token.
func (l *RedisLock) Release(ctx context.Context) error {
	_, err := l.store.Eval(ctx, luaLockRelease, []string{l.key}, l.token)
	return err
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
