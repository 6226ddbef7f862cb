package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleListNotifications_RequiresIdentity(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", http.NoBody)
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleListNotifications_ReturnsPushedNotifications(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.srv.Notify.Push(h.ctx, "trainer@x.com", "task_returned", "sess-1", "fix it", ""))

	req := asTrainer(httptest.NewRequest(http.MethodGet, "/api/notifications", http.NoBody))
	rec := doRequest(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.EqualValues(t, 1, body["unread_count"])
}

func TestHandleMarkNotificationRead_UnknownID_Returns404(t *testing.T) {
	h := newHarness(t)

	req := asTrainer(httptest.NewRequest(http.MethodPost, "/api/notifications/does-not-exist/read", http.NoBody))
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
