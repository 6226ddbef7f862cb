package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/store"
)

func TestMemory_GetSetDelete(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "mh:sess:1:meta")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "mh:sess:1:meta", "v1", time.Hour))
	v, ok, err := m.Get(ctx, "mh:sess:1:meta")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, m.Delete(ctx, "mh:sess:1:meta"))
	_, ok, err = m.Get(ctx, "mh:sess:1:meta")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_HIncrBy_Accumulates(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	n, err := m.HIncrBy(ctx, "mh:sess:1:meta", "completed_hunts", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = m.HIncrBy(ctx, "mh:sess:1:meta", "completed_hunts", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestMemory_HGetAll_ReturnsAllFields(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.HSet(ctx, "mh:sess:1:meta", "review_status", "submitted"))
	require.NoError(t, m.HSet(ctx, "mh:sess:1:meta", "version", "3"))

	got, err := m.HGetAll(ctx, "mh:sess:1:meta")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"review_status": "submitted", "version": "3"}, got)
}

func TestMemory_ListPushRangeTrim(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.RPush(ctx, "mh:notif:trainer@x", v))
	}

	got, err := m.LRange(ctx, "mh:notif:trainer@x", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)

	require.NoError(t, m.LTrim(ctx, "mh:notif:trainer@x", 0, 1))
	got, err = m.LRange(ctx, "mh:notif:trainer@x", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	n, err := m.LLen(ctx, "mh:notif:trainer@x")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestMemory_ScanKeys_MatchesPrefixOnly(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "mh:presence:sess-1:a@x", "{}", time.Minute))
	require.NoError(t, m.Set(ctx, "mh:presence:sess-1:b@x", "{}", time.Minute))
	require.NoError(t, m.Set(ctx, "mh:sess:1:meta", "{}", time.Minute))

	keys, err := m.ScanKeys(ctx, "mh:presence:sess-1:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mh:presence:sess-1:a@x", "mh:presence:sess-1:b@x"}, keys)
}

func TestMemory_StreamAddAndRange(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.StreamAdd(ctx, "mh:events:sess-1", map[string]string{"event_type": "hunt_start"}, 200)
	require.NoError(t, err)
	id2, err := m.StreamAdd(ctx, "mh:events:sess-1", map[string]string{"event_type": "hunt_done"}, 200)
	require.NoError(t, err)

	entries, err := m.StreamRange(ctx, "mh:events:sess-1", "-", "+")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hunt_done", entries[1].Fields["event_type"])
	assert.Equal(t, id2, entries[1].ID)
}

func TestMemory_StreamAdd_RespectsMaxLenApprox(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.StreamAdd(ctx, "mh:events:sess-1", map[string]string{"n": "x"}, 3)
		require.NoError(t, err)
	}

	n, err := m.StreamLen(ctx, "mh:events:sess-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestMemory_StreamRead_ReturnsOnlyEntriesAfterID(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	id1, err := m.StreamAdd(ctx, "mh:events:sess-1", map[string]string{"n": "1"}, 200)
	require.NoError(t, err)
	_, err = m.StreamAdd(ctx, "mh:events:sess-1", map[string]string{"n": "2"}, 200)
	require.NoError(t, err)

	entries, err := m.StreamRead(ctx, "mh:events:sess-1", id1, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].Fields["n"])
}

func TestMemory_Eval_ReturnsUnsupportedError(t *testing.T) {
	m := store.NewMemory()
	_, err := m.Eval(context.Background(), "return 1", nil)
	require.Error(t, err)
}
