package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSessionEvents_EmitsInitialFrameThenCloses(t *testing.T) {
	h := newHarness(t)
	newDraftSession(t, h, "sess-1", "trainer@x.com")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := asTrainer(httptest.NewRequest(http.MethodGet, "/api/session/sess-1/events", http.NoBody))
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	h.router.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"review_status":"draft"`)
}

func TestHandleSessionEvents_UnknownSession_Returns404(t *testing.T) {
	h := newHarness(t)

	req := asTrainer(httptest.NewRequest(http.MethodGet, "/api/session/nope/events", http.NoBody))
	rec := httptest.NewRecorder()

	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
