// Package review implements C6, the review state machine: CAS transitions
// on meta.review_status, the round counter, the QC flag, the
// acknowledgement gate, the feedback archive, and bulk operations.
// Grounded directly in original_source's review_actions.py
// (approve_task/return_task/reject_task/_validated_reviewable_session) and
// model-hunter-refactored/routes/session.py (submit_for_review/
// resubmit_for_review/acknowledge_feedback/mark_qc_done).
package review

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/notify"
	"github.com/reviewlane/reviewer/internal/session"
	"github.com/reviewlane/reviewer/internal/teamdir"
	"github.com/reviewlane/reviewer/internal/versioning"
)

// minSubmittedReviews is the fixed "exactly four selections" invariant
// (spec.md §4.6, §8).
const minSubmittedReviews = 4

// StateError carries a suggested HTTP status alongside a human-readable
// message, so C10 can map it directly onto a response without a second
// classification step (spec.md §7: not_found→404, conflict→409,
// precondition_failed→400, forbidden→403).
type StateError struct {
	Status  int
	Message string
}

func (e *StateError) Error() string { return e.Message }

func notFound(msg string) error           { return &StateError{Status: http.StatusNotFound, Message: msg} }
func conflict(msg string) error           { return &StateError{Status: http.StatusConflict, Message: msg} }
func preconditionFailed(msg string) error { return &StateError{Status: http.StatusBadRequest, Message: msg} }
func forbidden(msg string) error          { return &StateError{Status: http.StatusForbidden, Message: msg} }

// TransitionResult is the shared response shape for every single-session
// state transition.
type TransitionResult struct {
	ReviewStatus domain.ReviewStatus
	ReviewRound  int64
	Version      int64
	Escalated    bool
}

// Service implements the review state machine over C2 (session), C3
// (versioning), C5 (notify/audit), and the team directory.
type Service struct {
	sessions  *session.Repository
	versions  *versioning.Service
	notify    *notify.Service
	audit     *notify.AuditLog
	teams     teamdir.Directory
	maxRounds int
	logger    *slog.Logger
}

// New constructs a Service. maxRounds defaults to 3 (spec.md §6).
func New(sessions *session.Repository, versions *versioning.Service, notifier *notify.Service, audit *notify.AuditLog, teams teamdir.Directory, maxRounds int, logger *slog.Logger) *Service {
	if maxRounds <= 0 {
		maxRounds = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, versions: versions, notify: notifier, audit: audit, teams: teams, maxRounds: maxRounds, logger: logger}
}

func countSubmittedReviews(reviews map[string]domain.ReviewSlot) int {
	n := 0
	for _, slot := range reviews {
		if slot.Submitted {
			n++
		}
	}
	return n
}

// loadMeta returns the session's meta, translating "no such session" into
// a StateError the HTTP layer can map to 404 directly.
func (s *Service) loadMeta(ctx context.Context, sessionID string) (domain.Meta, error) {
	meta, err := s.sessions.GetMeta(ctx, sessionID)
	if err != nil {
		return domain.Meta{}, err
	}
	if meta.ReviewStatus == "" {
		return domain.Meta{}, notFound("session not found")
	}
	return meta, nil
}

// validatedReviewableSession loads the session and checks it is reviewable
// by reviewerEmail: submitted tasks can be reviewed by any reviewer;
// escalated tasks only by admin/super_admin. Returns the current status.
func (s *Service) validatedReviewableSession(ctx context.Context, sessionID, reviewerEmail string) (domain.ReviewStatus, error) {
	meta, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return "", err
	}
	switch meta.ReviewStatus {
	case domain.ReviewSubmitted:
		return meta.ReviewStatus, nil
	case domain.ReviewEscalated:
		if reviewerEmail != "" {
			if role, ok := s.teams.GetRole(reviewerEmail); ok && (role == domain.RoleAdmin || role == domain.RoleSuperAdmin) {
				return meta.ReviewStatus, nil
			}
		}
		return "", conflict("task is escalated; only admins can act on escalated tasks")
	default:
		return "", conflict(fmt.Sprintf("task is %q; only submitted or escalated tasks can be reviewed", meta.ReviewStatus))
	}
}

// notifyTrainer pushes a notification to the trainer who owns sessionID,
// swallowing failures so a notification never fails the transition.
func (s *Service) notifyTrainer(ctx context.Context, sessionID, notifType, message string) {
	notify.SafeNotify(ctx, s.logger, fmt.Sprintf("%s notification for %s", notifType, sessionID), func(ctx context.Context) error {
		meta, err := s.sessions.GetMeta(ctx, sessionID)
		if err != nil {
			return err
		}
		if meta.TrainerEmail == "" {
			return nil
		}
		displayID := s.taskDisplayID(ctx, sessionID)
		return s.notify.Push(ctx, meta.TrainerEmail, notifType, sessionID, message, displayID)
	})
}

// notifyReviewerForSession resolves the reviewer responsible for the
// trainer who owns sessionID (via the trainer's pod) and notifies them.
func (s *Service) notifyReviewerForSession(ctx context.Context, sessionID, notifType, message string) {
	notify.SafeNotify(ctx, s.logger, fmt.Sprintf("%s notification for %s", notifType, sessionID), func(ctx context.Context) error {
		meta, err := s.sessions.GetMeta(ctx, sessionID)
		if err != nil {
			return err
		}
		if meta.TrainerEmail == "" {
			return nil
		}
		podID, ok := s.teams.GetPodForEmail(meta.TrainerEmail)
		if !ok {
			return nil
		}
		reviewerEmail, ok := s.teams.GetReviewerEmailForPod(podID)
		if !ok {
			return nil
		}
		displayID := s.taskDisplayID(ctx, sessionID)
		return s.notify.Push(ctx, reviewerEmail, notifType, sessionID, message, displayID)
	})
}

// notifyEscalation notifies every admin/super_admin of an escalated task.
// Swallows errors so the escalation CAS is never undone by a notification
// failure.
func (s *Service) notifyEscalation(ctx context.Context, sessionID string, round int64) {
	notify.SafeNotify(ctx, s.logger, fmt.Sprintf("escalation notification for %s", sessionID), func(ctx context.Context) error {
		displayID := s.taskDisplayID(ctx, sessionID)
		msg := fmt.Sprintf("Task escalated: exceeded %d review rounds (currently round %d). Needs admin decision.", s.maxRounds, round)
		for _, email := range s.teams.GetAdminEmails() {
			if err := s.notify.Push(ctx, email, "task_escalated", sessionID, msg, displayID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) taskDisplayID(ctx context.Context, sessionID string) string {
	fs, err := s.sessions.GetFullState(ctx, sessionID)
	if err != nil {
		return s.notify.ExtractTaskDisplayID(sessionID, nil)
	}
	return s.notify.ExtractTaskDisplayID(sessionID, fs.Notebook.Metadata)
}

// SubmitForReview transitions draft→submitted. Requires exactly 4 submitted
// reviews and qc_done.
func (s *Service) SubmitForReview(ctx context.Context, sessionID string) (*TransitionResult, error) {
	meta, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.sessions.GetReviews(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if countSubmittedReviews(reviews) < minSubmittedReviews {
		return nil, preconditionFailed("complete all 4 human reviews before submitting for review")
	}
	if !meta.QCDone {
		return nil, preconditionFailed("complete the quality check before submitting for review")
	}

	ok, observed, err := s.sessions.CASMetaField(ctx, sessionID, "review_status", string(domain.ReviewDraft), string(domain.ReviewSubmitted))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflict(fmt.Sprintf("cannot submit: task is currently %q; only drafts can be submitted", observed))
	}

	round, err := s.sessions.IncrReviewRound(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.versions.SnapshotForHistory(ctx, sessionID, int(round)); err != nil {
		return nil, err
	}
	if err := s.audit.Log(ctx, sessionID, "trainer", "submitted", "session", ""); err != nil {
		s.logger.Warn("audit log failed", "session_id", sessionID, "error", err)
	}
	s.notifyReviewerForSession(ctx, sessionID, "task_submitted", "A new task has been submitted for your review.")

	version, err := s.versions.IncrVersion(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{ReviewStatus: domain.ReviewSubmitted, ReviewRound: round, Version: version}, nil
}

// MarkQCDone marks the quality check as completed, required before
// submit/resubmit.
func (s *Service) MarkQCDone(ctx context.Context, sessionID string) error {
	if _, err := s.loadMeta(ctx, sessionID); err != nil {
		return err
	}
	return s.sessions.SetQCDone(ctx, sessionID)
}

// Resubmit transitions returned→submitted (or returned→escalated when the
// next round would exceed maxRounds). Requires qc_done and acknowledgement.
func (s *Service) Resubmit(ctx context.Context, sessionID string) (*TransitionResult, error) {
	meta, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !meta.QCDone {
		return nil, preconditionFailed("re-run quality check before resubmitting; reviews may have changed since last QC")
	}
	if meta.AcknowledgedAt == nil {
		return nil, preconditionFailed("acknowledge reviewer feedback before resubmitting")
	}

	if err := s.sessions.SetFeedback(ctx, sessionID, domain.Feedback{}); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	meta.ResubmittedAt = &now
	if err := s.sessions.SetMeta(ctx, sessionID, meta); err != nil {
		return nil, err
	}
	if err := s.versions.ClearAcknowledged(ctx, sessionID); err != nil {
		return nil, err
	}

	nextRound := int64(meta.ReviewRound) + 1
	if nextRound > int64(s.maxRounds) {
		ok, observed, err := s.sessions.CASMetaField(ctx, sessionID, "review_status", string(domain.ReviewReturned), string(domain.ReviewEscalated))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, conflict(fmt.Sprintf("cannot resubmit: task is currently %q", observed))
		}
		round, err := s.sessions.IncrReviewRound(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := s.audit.Log(ctx, sessionID, "trainer", "escalated", "session", fmt.Sprintf("max rounds (%d) exceeded", s.maxRounds)); err != nil {
			s.logger.Warn("audit log failed", "session_id", sessionID, "error", err)
		}
		s.notifyEscalation(ctx, sessionID, round)
		version, err := s.versions.IncrVersion(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return &TransitionResult{ReviewStatus: domain.ReviewEscalated, ReviewRound: round, Version: version, Escalated: true}, nil
	}

	ok, observed, err := s.sessions.CASMetaField(ctx, sessionID, "review_status", string(domain.ReviewReturned), string(domain.ReviewSubmitted))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflict(fmt.Sprintf("cannot resubmit: task is currently %q; only returned tasks can be resubmitted", observed))
	}
	round, err := s.sessions.IncrReviewRound(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.versions.SnapshotForHistory(ctx, sessionID, int(round)); err != nil {
		return nil, err
	}
	if err := s.audit.Log(ctx, sessionID, "trainer", "resubmitted", "session", ""); err != nil {
		s.logger.Warn("audit log failed", "session_id", sessionID, "error", err)
	}
	s.notifyReviewerForSession(ctx, sessionID, "task_resubmitted", "A task has been fixed and resubmitted for your review.")

	version, err := s.versions.IncrVersion(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{ReviewStatus: domain.ReviewSubmitted, ReviewRound: round, Version: version}, nil
}

// Acknowledge records that the trainer acknowledged reviewer feedback.
// Required before resubmit. Only valid when status is "returned".
func (s *Service) Acknowledge(ctx context.Context, sessionID string) (time.Time, error) {
	meta, err := s.loadMeta(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if meta.ReviewStatus != domain.ReviewReturned {
		return time.Time{}, preconditionFailed(fmt.Sprintf("can only acknowledge when status is 'returned'; current: %q", meta.ReviewStatus))
	}
	ts, err := s.versions.SetAcknowledged(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.audit.Log(ctx, sessionID, "trainer", "acknowledged", "session", ""); err != nil {
		s.logger.Warn("audit log failed", "session_id", sessionID, "error", err)
	}
	return ts, nil
}

// Approve transitions submitted|escalated→approved. An optional comment
// becomes the new feedback record; the previous record is moved to the
// feedback archive. Returns the post-transition version.
func (s *Service) Approve(ctx context.Context, sessionID, reviewerEmail, comment string) (int64, error) {
	current, err := s.validatedReviewableSession(ctx, sessionID, reviewerEmail)
	if err != nil {
		return 0, err
	}
	ok, observed, err := s.sessions.CASMetaField(ctx, sessionID, "review_status", string(current), string(domain.ReviewApproved))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, conflict(fmt.Sprintf("conflict: task status changed to %q before your action completed; refresh and try again", observed))
	}
	if comment != "" {
		if err := s.sessions.SetFeedback(ctx, sessionID, domain.Feedback{Overall: comment, Round: 0, At: time.Now().UTC()}); err != nil {
			return 0, err
		}
	}
	if err := s.audit.Log(ctx, sessionID, reviewerEmail, "approved", "session", ""); err != nil {
		s.logger.Warn("audit log failed", "session_id", sessionID, "error", err)
	}
	s.notifyTrainer(ctx, sessionID, "task_approved", "Your task has been approved by the reviewer.")
	version, err := s.versions.IncrVersion(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Return transitions submitted|escalated→returned, saving feedback and clearing
// qc_done so the trainer must re-run QC before resubmit. Returns the
// post-transition version.
func (s *Service) Return(ctx context.Context, sessionID, reviewerEmail string, feedback *domain.Feedback) (int64, error) {
	current, err := s.validatedReviewableSession(ctx, sessionID, reviewerEmail)
	if err != nil {
		return 0, err
	}
	if feedback != nil {
		feedback.At = time.Now().UTC()
		if err := s.sessions.SetFeedback(ctx, sessionID, *feedback); err != nil {
			return 0, err
		}
	}
	ok, observed, err := s.sessions.CASMetaField(ctx, sessionID, "review_status", string(current), string(domain.ReviewReturned))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, conflict(fmt.Sprintf("conflict: task status changed to %q before your action completed; refresh and try again", observed))
	}
	if err := s.sessions.ClearQCDone(ctx, sessionID); err != nil {
		return 0, err
	}
	if err := s.audit.Log(ctx, sessionID, reviewerEmail, "returned", "session", ""); err != nil {
		s.logger.Warn("audit log failed", "session_id", sessionID, "error", err)
	}
	s.notifyTrainer(ctx, sessionID, "task_returned", "Your task has been returned with comments. Please review and fix.")
	version, err := s.versions.IncrVersion(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Reject transitions submitted|escalated→rejected (terminal). Returns the
// post-transition version.
func (s *Service) Reject(ctx context.Context, sessionID, reviewerEmail string, feedback *domain.Feedback) (int64, error) {
	current, err := s.validatedReviewableSession(ctx, sessionID, reviewerEmail)
	if err != nil {
		return 0, err
	}
	if feedback != nil {
		feedback.At = time.Now().UTC()
		if err := s.sessions.SetFeedback(ctx, sessionID, *feedback); err != nil {
			return 0, err
		}
	}
	ok, observed, err := s.sessions.CASMetaField(ctx, sessionID, "review_status", string(current), string(domain.ReviewRejected))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, conflict(fmt.Sprintf("conflict: task status changed to %q before your action completed; refresh and try again", observed))
	}
	if err := s.audit.Log(ctx, sessionID, reviewerEmail, "rejected", "session", ""); err != nil {
		s.logger.Warn("audit log failed", "session_id", sessionID, "error", err)
	}
	s.notifyTrainer(ctx, sessionID, "task_rejected", "Your task has been rejected by the reviewer.")
	version, err := s.versions.IncrVersion(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// BulkApprove approves each session id, capped by the caller at the
// configured batch size, collecting partial success per spec.md §4.6.
func (s *Service) BulkApprove(ctx context.Context, sessionIDs []string, reviewerEmail, comment string) domain.BulkResult {
	var res domain.BulkResult
	for _, id := range sessionIDs {
		if _, err := s.Approve(ctx, id, reviewerEmail, comment); err != nil {
			res.Failed = append(res.Failed, domain.BulkItemResult{ID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}

// BulkResubmit resubmits each session id, collecting partial success.
func (s *Service) BulkResubmit(ctx context.Context, sessionIDs []string) domain.BulkResult {
	var res domain.BulkResult
	for _, id := range sessionIDs {
		if _, err := s.Resubmit(ctx, id); err != nil {
			res.Failed = append(res.Failed, domain.BulkItemResult{ID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}
