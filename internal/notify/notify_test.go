package notify_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/notify"
	"github.com/reviewlane/reviewer/internal/store"
)

func newService() *notify.Service {
	return notify.New(store.NewMemory(), time.Hour, config.TaskIdentityConfig{
		DisplayIDField: "Task ID",
		FallbackFields: []string{"TaskID", "task_id"},
	})
}

func TestPush_EmptyEmail_NoOp(t *testing.T) {
	svc := newService()
	require.NoError(t, svc.Push(context.Background(), "", "approved", "sess-1", "msg", ""))
}

func TestPush_List_NewestFirst(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	require.NoError(t, svc.Push(ctx, "trainer@x.com", "returned", "sess-1", "first", "T-1"))
	require.NoError(t, svc.Push(ctx, "trainer@x.com", "approved", "sess-1", "second", "T-1"))

	list, err := svc.List(ctx, "trainer@x.com", false, 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Message)
	assert.Equal(t, "first", list[1].Message)
}

func TestList_EmailCaseInsensitive(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	require.NoError(t, svc.Push(ctx, "Trainer@X.com", "approved", "sess-1", "hi", ""))

	list, err := svc.List(ctx, "trainer@x.com", false, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestUnreadCount_OnlyCountsUnread(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	require.NoError(t, svc.Push(ctx, "trainer@x.com", "approved", "sess-1", "a", ""))
	require.NoError(t, svc.Push(ctx, "trainer@x.com", "approved", "sess-2", "b", ""))

	n, err := svc.UnreadCount(ctx, "trainer@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := svc.List(ctx, "trainer@x.com", false, 50)
	require.NoError(t, err)
	ok, err := svc.MarkOneRead(ctx, "trainer@x.com", list[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = svc.UnreadCount(ctx, "trainer@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkOneRead_UnknownID_ReturnsFalse(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	require.NoError(t, svc.Push(ctx, "trainer@x.com", "approved", "sess-1", "a", ""))

	ok, err := svc.MarkOneRead(ctx, "trainer@x.com", "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkAllRead_FlipsEveryUnreadEntry(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	require.NoError(t, svc.Push(ctx, "trainer@x.com", "approved", "sess-1", "a", ""))
	require.NoError(t, svc.Push(ctx, "trainer@x.com", "returned", "sess-2", "b", ""))

	n, err := svc.MarkAllRead(ctx, "trainer@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	unread, err := svc.UnreadCount(ctx, "trainer@x.com")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
}

func TestExtractTaskDisplayID_UsesConfiguredFieldThenFallbacks(t *testing.T) {
	svc := newService()

	assert.Equal(t, "T-100", svc.ExtractTaskDisplayID("sess-12345678", map[string]string{"Task ID": "T-100"}))
	assert.Equal(t, "T-200", svc.ExtractTaskDisplayID("sess-12345678", map[string]string{"TaskID": "T-200"}))
	assert.Equal(t, "sess-123", svc.ExtractTaskDisplayID("sess-12345678", nil))
}

func TestSafeNotify_SwallowsError(t *testing.T) {
	called := false
	notify.SafeNotify(context.Background(), slog.Default(), "test", func(ctx context.Context) error {
		called = true
		return assert.AnError
	})
	assert.True(t, called)
}
