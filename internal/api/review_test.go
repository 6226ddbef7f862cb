package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/domain"
)

func TestHandleReview_NoRulesConfigured_PassesTrivially(t *testing.T) {
	h := newHarness(t)
	newDraftSession(t, h, "sess-1", "trainer@x.com")
	require.NoError(t, h.sessions.SetReviews(h.ctx, "sess-1", fourReviews()))

	body, _ := json.Marshal(map[string]interface{}{"session": "sess-1", "checkpoint": "final"})
	req := asTrainer(httptest.NewRequest(http.MethodPost, "/api/review", bytes.NewBuffer(body)))
	rec := doRequest(h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.ReviewResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Passed)
}

func TestHandleReview_RejectsUnknownCheckpoint(t *testing.T) {
	h := newHarness(t)
	newDraftSession(t, h, "sess-1", "trainer@x.com")

	body, _ := json.Marshal(map[string]interface{}{"session": "sess-1", "checkpoint": "not-a-checkpoint"})
	req := asTrainer(httptest.NewRequest(http.MethodPost, "/api/review", bytes.NewBuffer(body)))
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReview_UnknownSession_Returns404(t *testing.T) {
	h := newHarness(t)

	body, _ := json.Marshal(map[string]interface{}{"session": "nope", "checkpoint": "preflight"})
	req := asTrainer(httptest.NewRequest(http.MethodPost, "/api/review", bytes.NewBuffer(body)))
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
