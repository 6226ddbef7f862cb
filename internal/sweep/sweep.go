// Package sweep runs a background observability tick on a single elected
// replica (see internal/leader): it logs the size of the idempotency-key
// cache and counts sessions stuck in "escalated" past a configurable age,
// so an operator has a signal before a trainer notices a stalled review.
//
// Adapted from internal/scheduler's tick-loop shape (Start/Stop around a
// context-cancellable goroutine, robfig/cron.Parser for operator-facing
// cadence) — there is no "pipeline run" to fire here, so only the
// ticker/cron/start/stop idiom is reused, not the schedule-store/run-store
// machinery built around it.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/presence"
	"github.com/reviewlane/reviewer/internal/session"
	"github.com/reviewlane/reviewer/internal/store"
	"github.com/reviewlane/reviewer/internal/versioning"
)

// IdempotencyKeyPrefix is the store key prefix versioning.Service stores
// idempotency records under (see versioning.go's idempKey).
const IdempotencyKeyPrefix = "review:idemp:"

// DefaultInterval is the default tick interval between sweeps, used when no
// cron schedule is configured.
const DefaultInterval = time.Minute

// DefaultStaleAfter is the default age past which an escalated session is
// logged as stuck.
const DefaultStaleAfter = 24 * time.Hour

// Worker is the background sweep loop.
type Worker struct {
	sessions   *session.Repository
	versions   *versioning.Service
	store      store.Store
	presence   *presence.Service
	interval   time.Duration
	schedule   cron.Schedule
	staleAfter time.Duration
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// WithPresence attaches a presence.Service so stuck-escalation log lines
// include each session's live event-stream length alongside its staleness.
// Optional: the worker runs without it, it just logs one field less.
func (w *Worker) WithPresence(p *presence.Service) *Worker {
	w.presence = p
	return w
}

// New builds a Worker ticking at a plain interval. interval/staleAfter fall
// back to DefaultInterval/DefaultStaleAfter when zero.
func New(sessions *session.Repository, versions *versioning.Service, st store.Store, interval, staleAfter time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sessions: sessions, versions: versions, store: st, interval: interval, staleAfter: staleAfter, logger: logger}
}

// NewWithSchedule builds a Worker that fires on a cron expression instead of
// a fixed interval, for operators who want sweep cadence configured the same
// way as everything else cron-driven in this deployment (minute hour dom
// month dow, same five fields the teacher's schedule parser accepts).
func NewWithSchedule(sessions *session.Repository, versions *versioning.Service, st store.Store, cronExpr string, staleAfter time.Duration, logger *slog.Logger) (*Worker, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sessions: sessions, versions: versions, store: st, schedule: sched, staleAfter: staleAfter, logger: logger}, nil
}

// Start begins the sweep loop in a background goroutine. Intended to run
// only on the elected leader (see internal/leader.OnElected).
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	if w.schedule != nil {
		go w.runCron(ctx)
		return
	}

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()
}

// runCron fires tick at each cron-computed occurrence rather than a fixed
// interval, re-arming a timer against schedule.Next after every fire.
func (w *Worker) runCron(ctx context.Context) {
	defer close(w.done)

	w.tick(ctx)
	for {
		now := time.Now()
		next := w.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.tick(ctx)
		}
	}
}

// Stop cancels the sweep loop and waits for it to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
}

func (w *Worker) tick(ctx context.Context) {
	w.logIdempotencyCacheSize(ctx)
	w.logStuckEscalations(ctx)
}

func (w *Worker) logIdempotencyCacheSize(ctx context.Context) {
	keys, err := w.store.ScanKeys(ctx, IdempotencyKeyPrefix)
	if err != nil {
		w.logger.Error("sweep: failed to scan idempotency keys", "error", err)
		return
	}
	w.logger.Info("sweep: idempotency cache size", "count", len(keys))
}

func (w *Worker) logStuckEscalations(ctx context.Context) {
	ids, err := w.sessions.ListSessionsByReviewStatus(ctx, domain.ReviewEscalated)
	if err != nil {
		w.logger.Error("sweep: failed to list escalated sessions", "error", err)
		return
	}

	now := time.Now()
	stuck := 0
	for _, id := range ids {
		history, err := w.versions.GetVersionHistory(ctx, id)
		if err != nil {
			w.logger.Warn("sweep: failed to read version history", "session_id", id, "error", err)
			continue
		}
		if len(history) == 0 {
			continue
		}
		lastActivity := history[len(history)-1].Timestamp
		if now.Sub(lastActivity) > w.staleAfter {
			stuck++
			if w.presence != nil {
				if length, err := w.presence.StreamLength(ctx, id); err == nil {
					w.logger.Warn("sweep: session escalated and stale", "session_id", id, "last_activity", lastActivity, "age", now.Sub(lastActivity), "stream_length", length)
					continue
				}
			}
			w.logger.Warn("sweep: session escalated and stale", "session_id", id, "last_activity", lastActivity, "age", now.Sub(lastActivity))
		}
	}
	w.logger.Info("sweep: escalated sessions", "total", len(ids), "stale", stuck)
}
