package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process fake implementing Store, used by package tests
// across session/versioning/presence/notify/review rather than a live Redis.
// Eval recognizes the Lua-script idioms used elsewhere in this module
// (mark-read list scan, meta-field CAS, lock acquire, lock release) well enough to exercise real
// script-driven semantics in tests without embedding a Lua interpreter.
type Memory struct {
	mu        sync.Mutex
	scalars   map[string]string
	hashes    map[string]map[string]string
	lists     map[string][]string
	streams   map[string][]StreamEntry
	streamSeq map[string]int64
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		scalars:   make(map[string]string),
		hashes:    make(map[string]map[string]string),
		lists:     make(map[string][]string),
		streams:   make(map[string][]StreamEntry),
		streamSeq: make(map[string]int64),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.scalars[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scalars[key] = value
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.scalars, k)
		delete(m.hashes, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *Memory) HGet(ctx context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) HSet(ctx context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *Memory) HDel(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (m *Memory) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (m *Memory) LPush(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]string{value}, m.lists[key]...)
	return nil
}

func (m *Memory) RPush(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], value)
	return nil
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	lo, hi := normalizeRange(int64(len(l)), start, stop)
	if lo > hi {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, l[lo:hi+1])
	return out, nil
}

func (m *Memory) LTrim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	lo, hi := normalizeRange(int64(len(l)), start, stop)
	if lo > hi {
		m.lists[key] = []string{}
		return nil
	}
	trimmed := make([]string, hi-lo+1)
	copy(trimmed, l[lo:hi+1])
	m.lists[key] = trimmed
	return nil
}

func (m *Memory) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *Memory) ScanKeys(ctx context.Context, matchPrefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for k := range m.scalars {
		if strings.HasPrefix(k, matchPrefix) {
			seen[k] = true
		}
	}
	for k := range m.hashes {
		if strings.HasPrefix(k, matchPrefix) {
			seen[k] = true
		}
	}
	for k := range m.lists {
		if strings.HasPrefix(k, matchPrefix) {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Eval dispatches to whichever script idiom script matches. Any other
// script is unsupported.
func (m *Memory) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if strings.Contains(script, "cjson") && strings.Contains(script, "read") {
		return m.evalMarkRead(script, keys, args...)
	}
	if strings.Contains(script, "HSET") && !strings.Contains(script, "cjson") {
		return m.evalCASField(keys, args...)
	}
	if strings.Contains(script, "PEXPIRE") && strings.Contains(script, "NX") {
		return m.evalLockAcquire(keys, args...)
	}
	if strings.Contains(script, "DEL") && strings.Contains(script, "GET") {
		return m.evalLockRelease(keys, args...)
	}
	return nil, errUnsupportedEval
}

// evalLockAcquire interprets the acquire-or-renew distributed lock idiom
// used by store.RedisLock: KEYS[1] is the lock key, ARGV is (token, ttlMs).
func (m *Memory) evalLockAcquire(keys []string, args ...interface{}) (interface{}, error) {
	if len(keys) != 1 || len(args) != 2 {
		return nil, errUnsupportedEval
	}
	token, _ := args[0].(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	current, held := m.scalars[keys[0]]
	if held && current != token {
		return int64(0), nil
	}
	m.scalars[keys[0]] = token
	return int64(1), nil
}

// evalLockRelease interprets store.RedisLock's release idiom: delete
// KEYS[1] only if ARGV[1] still owns it.
func (m *Memory) evalLockRelease(keys []string, args ...interface{}) (interface{}, error) {
	if len(keys) != 1 || len(args) != 1 {
		return nil, errUnsupportedEval
	}
	token, _ := args[0].(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scalars[keys[0]] != token {
		return int64(0), nil
	}
	delete(m.scalars, keys[0])
	return int64(1), nil
}

// evalMarkRead interprets the "scan a JSON list, flip an item's read flag,
// write it back" idiom used by notify's mark-read scripts (matched
// generically by the presence of a "target_id"-style single-item selector
// in the script text, rather than an exact string match).
func (m *Memory) evalMarkRead(script string, keys []string, args ...interface{}) (interface{}, error) {
	if len(keys) != 1 {
		return nil, errUnsupportedEval
	}
	markOne := strings.Contains(script, "target_id")

	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[keys[0]]

	var targetID string
	if markOne {
		if len(args) == 0 {
			return nil, errUnsupportedEval
		}
		targetID, _ = args[0].(string)
	}

	count := int64(0)
	for i, raw := range list {
		var item map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		if read, _ := item["read"].(bool); read {
			continue
		}
		if markOne {
			id, _ := item["id"].(string)
			if id != targetID {
				continue
			}
		}
		item["read"] = true
		b, err := json.Marshal(item)
		if err != nil {
			continue
		}
		list[i] = string(b)
		count++
		if markOne {
			return int64(1), nil
		}
	}
	if markOne {
		return int64(0), nil
	}
	return count, nil
}

// evalCASField interprets the meta-field compare-and-swap idiom used by
// session.Repository.CASMetaField: KEYS[1] is the hash key, ARGV is
// (field, expected, newVal). Returns newVal on success, the observed
// (non-matching) value on conflict.
func (m *Memory) evalCASField(keys []string, args ...interface{}) (interface{}, error) {
	if len(keys) != 1 || len(args) != 3 {
		return nil, errUnsupportedEval
	}
	field, _ := args[0].(string)
	expected, _ := args[1].(string)
	newVal, _ := args[2].(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[keys[0]]
	if !ok {
		h = make(map[string]string)
		m.hashes[keys[0]] = h
	}
	current := h[field]
	if current != expected {
		return current, nil
	}
	h[field] = newVal
	return newVal, nil
}

func (m *Memory) StreamAdd(ctx context.Context, stream string, fields map[string]string, maxLenApprox int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamSeq[stream]++
	id := strconv.FormatInt(m.streamSeq[stream], 10) + "-0"
	entries := append(m.streams[stream], StreamEntry{ID: id, Fields: fields})
	if maxLenApprox > 0 && int64(len(entries)) > maxLenApprox {
		entries = entries[int64(len(entries))-maxLenApprox:]
	}
	m.streams[stream] = entries
	return id, nil
}

func (m *Memory) StreamRange(ctx context.Context, stream, start, stop string) ([]StreamEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.streams[stream]
	out := make([]StreamEntry, len(all))
	copy(out, all)
	return out, nil
}

func (m *Memory) StreamRead(ctx context.Context, stream, afterID string, count int64, block time.Duration) ([]StreamEntry, error) {
	m.mu.Lock()
	all := m.streams[stream]
	m.mu.Unlock()

	var out []StreamEntry
	if afterID == "$" || afterID == "" {
		return nil, nil
	}
	for _, e := range all {
		if e.ID > afterID {
			out = append(out, e)
		}
	}
	if count > 0 && int64(len(out)) > count {
		out = out[:count]
	}
	return out, nil
}

func (m *Memory) StreamLen(ctx context.Context, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.streams[stream])), nil
}

func normalizeRange(length, start, stop int64) (int64, int64) {
	if length == 0 {
		return 0, -1
	}
	if start < 0 {
		start = length + start
	}
	if stop < 0 {
		stop = length + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}
