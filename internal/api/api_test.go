package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/api"
	"github.com/reviewlane/reviewer/internal/auth"
	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/notify"
	"github.com/reviewlane/reviewer/internal/presence"
	"github.com/reviewlane/reviewer/internal/review"
	"github.com/reviewlane/reviewer/internal/session"
	"github.com/reviewlane/reviewer/internal/store"
	"github.com/reviewlane/reviewer/internal/teamdir"
	"github.com/reviewlane/reviewer/internal/versioning"
)

func testTeamsConfig() config.TeamsConfig {
	return config.TeamsConfig{
		SuperAdmins: []config.TeamMember{{Email: "root@x.com"}},
		Admins:      []config.AdminEntry{{Email: "admin@x.com", Pods: []string{"pod-a"}}},
		Pods: map[string]config.PodConfig{
			"pod-a": {
				Reviewer: config.TeamMember{Email: "reviewer@x.com"},
				Trainers: []string{"trainer@x.com"},
			},
		},
	}
}

type harness struct {
	srv      *api.Server
	router   http.Handler
	sessions *session.Repository
	ctx      context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewMemory()
	sessions := session.New(s, time.Hour)
	versions := versioning.New(s, time.Hour, time.Hour)
	pres := presence.New(s, time.Minute, time.Hour)
	notif := notify.New(s, time.Hour, config.TaskIdentityConfig{})
	audit := notify.NewAuditLog(s, time.Hour)
	teams := teamdir.New(testTeamsConfig())
	reviewSvc := review.New(sessions, versions, notif, audit, teams, 3, nil)

	srv := &api.Server{
		Sessions: sessions,
		Versions: versions,
		Presence: pres,
		Notify:   notif,
		Audit:    audit,
		Teams:    teams,
		Review:   reviewSvc,
	}
	return &harness{srv: srv, router: api.NewRouter(srv), sessions: sessions, ctx: context.Background()}
}

func newDraftSession(t *testing.T, h *harness, id, trainerEmail string) {
	t.Helper()
	require.NoError(t, h.sessions.CreateSession(h.ctx, id, domain.Config{}, domain.Notebook{}))
	require.NoError(t, h.sessions.SetTrainerEmail(h.ctx, id, trainerEmail))
}

func fourReviews() map[string]domain.ReviewSlot {
	return map[string]domain.ReviewSlot{
		"1": {HuntID: 1, Submitted: true},
		"2": {HuntID: 2, Submitted: true},
		"3": {HuntID: 3, Submitted: true},
		"4": {HuntID: 4, Submitted: true},
	}
}

func asTrainer(req *http.Request) *http.Request {
	req.Header.Set(auth.TrainerEmailHeader, "trainer@x.com")
	return req
}

func asReviewer(req *http.Request) *http.Request {
	req.Header.Set(auth.ReviewerEmailHeader, "reviewer@x.com")
	return req
}

func doRequest(h *harness, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}
