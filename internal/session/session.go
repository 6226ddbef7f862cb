// Package session is the C2 session repository: per-field granular reads
// and writes over the review:sess:{id}:* key family, grounded in
// original_source's redis_session.py ("each session field is a separate
// Redis key for efficient reads/writes" — appending a hunt result is
// RPUSH, incrementing breaks_found is HINCRBY, no read-modify-write race).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/store"
)

const keyPrefix = "review:sess"

// Repository reads and writes session state field-by-field so that, e.g.,
// writing meta.qc_done never touches reviews.
type Repository struct {
	store store.Store
	ttl   time.Duration
}

// New constructs a Repository backed by s, refreshing every key family to
// ttl on each write (default 4h, spec.md §3).
func New(s store.Store, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Repository{store: s, ttl: ttl}
}

func key(sessionID, field string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, sessionID, field)
}

// sessionFields lists every field of a session's key family, used for bulk
// TTL refresh and deletion.
var sessionFields = []string{
	"config", "notebook", "status", "meta", "results", "all_results",
	"turns", "history", "reviews", "feedback", "feedback_archive",
	"versions", "audit", "presence",
}

func (r *Repository) refreshTTL(ctx context.Context, sessionID string) {
	for _, f := range sessionFields {
		_ = r.store.Expire(ctx, key(sessionID, f), r.ttl)
	}
}

// FullState is the full materialized view of one session, used by the
// snapshot builder and the session detail route.
type FullState struct {
	SessionID string
	Config    domain.Config
	Notebook  domain.Notebook
	Status    domain.ExecutionStatus
	Meta      domain.Meta
	Results   []domain.HuntResult
	Turns     []domain.Turn
	History   []domain.ChatMessage
	Reviews   map[string]domain.ReviewSlot
	Feedback  *domain.Feedback
}

// GetFullState reads every field of a session and assembles it into one
// struct. Returns domain.ErrNotFound if the session's meta hash is empty.
func (r *Repository) GetFullState(ctx context.Context, sessionID string) (*FullState, error) {
	metaRaw, err := r.store.HGetAll(ctx, key(sessionID, "meta"))
	if err != nil {
		return nil, err
	}
	if len(metaRaw) == 0 {
		return nil, domain.ErrNotFound
	}

	meta, err := decodeMeta(metaRaw)
	if err != nil {
		return nil, err
	}

	fs := &FullState{SessionID: sessionID, Meta: meta}

	if err := r.getJSON(ctx, sessionID, "config", &fs.Config); err != nil {
		return nil, err
	}
	if err := r.getJSON(ctx, sessionID, "notebook", &fs.Notebook); err != nil {
		return nil, err
	}
	if err := r.getJSON(ctx, sessionID, "history", &fs.History); err != nil {
		return nil, err
	}
	reviews := map[string]domain.ReviewSlot{}
	if err := r.getJSON(ctx, sessionID, "reviews", &reviews); err != nil {
		return nil, err
	}
	fs.Reviews = reviews

	statusStr, ok, err := r.store.Get(ctx, key(sessionID, "status"))
	if err != nil {
		return nil, err
	}
	if ok {
		fs.Status = domain.ExecutionStatus(statusStr)
	}

	results, err := r.listJSON(ctx, sessionID, "results", func() interface{} { return &domain.HuntResult{} })
	if err != nil {
		return nil, err
	}
	for _, v := range results {
		fs.Results = append(fs.Results, *v.(*domain.HuntResult))
	}

	turns, err := r.listJSON(ctx, sessionID, "turns", func() interface{} { return &domain.Turn{} })
	if err != nil {
		return nil, err
	}
	for _, v := range turns {
		fs.Turns = append(fs.Turns, *v.(*domain.Turn))
	}

	feedbackRaw, ok, err := r.store.Get(ctx, key(sessionID, "feedback"))
	if err != nil {
		return nil, err
	}
	if ok && feedbackRaw != "" {
		var fb domain.Feedback
		if err := json.Unmarshal([]byte(feedbackRaw), &fb); err != nil {
			return nil, err
		}
		fs.Feedback = &fb
	}

	return fs, nil
}

func (r *Repository) getJSON(ctx context.Context, sessionID, field string, out interface{}) error {
	raw, ok, err := r.store.Get(ctx, key(sessionID, field))
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func (r *Repository) setJSON(ctx context.Context, sessionID, field string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, key(sessionID, field), string(b), r.ttl); err != nil {
		return err
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

func (r *Repository) listJSON(ctx context.Context, sessionID, field string, newElem func() interface{}) ([]interface{}, error) {
	raws, err := r.store.LRange(ctx, key(sessionID, field), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(raws))
	for _, raw := range raws {
		elem := newElem()
		if err := json.Unmarshal([]byte(raw), elem); err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	return out, nil
}

// CreateSession initializes a new session's key family.
func (r *Repository) CreateSession(ctx context.Context, sessionID string, cfg domain.Config, nb domain.Notebook) error {
	if err := r.setJSON(ctx, sessionID, "config", cfg); err != nil {
		return err
	}
	if err := r.setJSON(ctx, sessionID, "notebook", nb); err != nil {
		return err
	}
	if err := r.store.Set(ctx, key(sessionID, "status"), string(domain.ExecPending), r.ttl); err != nil {
		return err
	}
	meta := domain.Meta{Version: 1, ReviewStatus: domain.ReviewDraft, ReviewRound: 1}
	return r.SetMeta(ctx, sessionID, meta)
}

// SetStatus updates only the execution-status scalar.
func (r *Repository) SetStatus(ctx context.Context, sessionID string, status domain.ExecutionStatus) error {
	if err := r.store.Set(ctx, key(sessionID, "status"), string(status), r.ttl); err != nil {
		return err
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

// SetReviewStatus updates only the review_status field of the meta hash.
func (r *Repository) SetReviewStatus(ctx context.Context, sessionID string, status domain.ReviewStatus) error {
	if err := r.store.HSet(ctx, key(sessionID, "meta"), "review_status", string(status)); err != nil {
		return err
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

// GetMeta reads the session's meta hash.
func (r *Repository) GetMeta(ctx context.Context, sessionID string) (domain.Meta, error) {
	raw, err := r.store.HGetAll(ctx, key(sessionID, "meta"))
	if err != nil {
		return domain.Meta{}, err
	}
	return decodeMeta(raw)
}

// SetMeta overwrites every field of the meta hash.
func (r *Repository) SetMeta(ctx context.Context, sessionID string, m domain.Meta) error {
	fields := encodeMeta(m)
	for k, v := range fields {
		if err := r.store.HSet(ctx, key(sessionID, "meta"), k, v); err != nil {
			return err
		}
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

// IncrCompletedHunts atomically increments meta.completed_hunts, returning
// the new total.
func (r *Repository) IncrCompletedHunts(ctx context.Context, sessionID string, delta int64) (int64, error) {
	n, err := r.store.HIncrBy(ctx, key(sessionID, "meta"), "completed_hunts", delta)
	if err != nil {
		return 0, err
	}
	r.refreshTTL(ctx, sessionID)
	return n, nil
}

// IncrBreaksFound atomically increments meta.breaks_found.
func (r *Repository) IncrBreaksFound(ctx context.Context, sessionID string, delta int64) (int64, error) {
	n, err := r.store.HIncrBy(ctx, key(sessionID, "meta"), "breaks_found", delta)
	if err != nil {
		return 0, err
	}
	r.refreshTTL(ctx, sessionID)
	return n, nil
}

// IncrVersion atomically bumps meta.version, returning the new value.
func (r *Repository) IncrVersion(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.store.HIncrBy(ctx, key(sessionID, "meta"), "version", 1)
	if err != nil {
		return 0, err
	}
	r.refreshTTL(ctx, sessionID)
	return n, nil
}

// IncrReviewRound atomically bumps meta.review_round, returning the new value.
func (r *Repository) IncrReviewRound(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.store.HIncrBy(ctx, key(sessionID, "meta"), "review_round", 1)
	if err != nil {
		return 0, err
	}
	r.refreshTTL(ctx, sessionID)
	return n, nil
}

// SetQCDone sets meta.qc_done to true.
func (r *Repository) SetQCDone(ctx context.Context, sessionID string) error {
	if err := r.store.HSet(ctx, key(sessionID, "meta"), "qc_done", "true"); err != nil {
		return err
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

// ClearQCDone sets meta.qc_done to false — invoked on return, so a trainer
// must re-run QC before resubmitting.
func (r *Repository) ClearQCDone(ctx context.Context, sessionID string) error {
	if err := r.store.HSet(ctx, key(sessionID, "meta"), "qc_done", "false"); err != nil {
		return err
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

// SetTrainerEmail records which trainer owns a session, used to resolve
// notification targets.
func (r *Repository) SetTrainerEmail(ctx context.Context, sessionID, email string) error {
	if err := r.store.HSet(ctx, key(sessionID, "meta"), "trainer_email", email); err != nil {
		return err
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

// luaCASMetaField atomically compares meta[field] against expected and, on
// match, sets it to newVal — the single serialisation point for concurrent
// reviewer/trainer transitions (spec.md §4.6). Always returns the field's
// value after the operation: equal to newVal on success, the observed
// (non-matching) value on conflict.
const luaCASMetaField = `
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == false then current = '' end
if current ~= ARGV[2] then
    return current
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return ARGV[3]
`

// CASMetaField atomically compares-and-swaps one field of the meta hash.
// Returns ok=true and observed==newVal on success; ok=false and the
// observed current value on conflict.
func (r *Repository) CASMetaField(ctx context.Context, sessionID, field, expected, newVal string) (bool, string, error) {
	res, err := r.store.Eval(ctx, luaCASMetaField, []string{key(sessionID, "meta")}, field, expected, newVal)
	if err != nil {
		return false, "", err
	}
	observed, _ := res.(string)
	r.refreshTTL(ctx, sessionID)
	return observed == newVal, observed, nil
}

// AppendResult RPUSHes a hunt result onto both the current-turn and
// all-accumulated result lists.
func (r *Repository) AppendResult(ctx context.Context, sessionID string, res domain.HuntResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := r.store.RPush(ctx, key(sessionID, "results"), string(b)); err != nil {
		return err
	}
	if err := r.store.RPush(ctx, key(sessionID, "all_results"), string(b)); err != nil {
		return err
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

// ClearCurrentResults empties the current-turn results list, e.g. at the
// start of a new turn, leaving all_results intact.
func (r *Repository) ClearCurrentResults(ctx context.Context, sessionID string) error {
	return r.store.LTrim(ctx, key(sessionID, "results"), 1, 0)
}

// AppendTurn RPUSHes a new turn record.
func (r *Repository) AppendTurn(ctx context.Context, sessionID string, t domain.Turn) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := r.store.RPush(ctx, key(sessionID, "turns"), string(b)); err != nil {
		return err
	}
	r.refreshTTL(ctx, sessionID)
	return nil
}

// GetTurns returns every recorded turn in order.
func (r *Repository) GetTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	raws, err := r.listJSON(ctx, sessionID, "turns", func() interface{} { return &domain.Turn{} })
	if err != nil {
		return nil, err
	}
	out := make([]domain.Turn, 0, len(raws))
	for _, v := range raws {
		out = append(out, *v.(*domain.Turn))
	}
	return out, nil
}

// SetReviews overwrites the reviews map in one write.
func (r *Repository) SetReviews(ctx context.Context, sessionID string, reviews map[string]domain.ReviewSlot) error {
	return r.setJSON(ctx, sessionID, "reviews", reviews)
}

// GetReviews reads the reviews map.
func (r *Repository) GetReviews(ctx context.Context, sessionID string) (map[string]domain.ReviewSlot, error) {
	reviews := map[string]domain.ReviewSlot{}
	if err := r.getJSON(ctx, sessionID, "reviews", &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// SetFeedback overwrites the current feedback record and archives the
// previous one (if any) onto feedback_archive.
func (r *Repository) SetFeedback(ctx context.Context, sessionID string, fb domain.Feedback) error {
	prevRaw, ok, err := r.store.Get(ctx, key(sessionID, "feedback"))
	if err != nil {
		return err
	}
	if ok && prevRaw != "" {
		if err := r.store.RPush(ctx, key(sessionID, "feedback_archive"), prevRaw); err != nil {
			return err
		}
	}
	return r.setJSON(ctx, sessionID, "feedback", fb)
}

// GetFeedbackArchive returns every archived feedback record, oldest first.
func (r *Repository) GetFeedbackArchive(ctx context.Context, sessionID string) ([]domain.Feedback, error) {
	raws, err := r.listJSON(ctx, sessionID, "feedback_archive", func() interface{} { return &domain.Feedback{} })
	if err != nil {
		return nil, err
	}
	out := make([]domain.Feedback, 0, len(raws))
	for _, v := range raws {
		out = append(out, *v.(*domain.Feedback))
	}
	return out, nil
}

// ListSessions scans every session key family and returns their ids.
func (r *Repository) ListSessions(ctx context.Context) ([]string, error) {
	keys, err := r.store.ScanKeys(ctx, keyPrefix+":")
	if err != nil {
		return nil, err
	}
	ids := map[string]bool{}
	for _, k := range keys {
		id := sessionIDFromKey(k)
		if id != "" {
			ids[id] = true
		}
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}

// ListSessionsByReviewStatus returns only sessions whose meta.review_status
// matches status. This performs one HGet per candidate session; callers
// with large fleets should cache/paginate upstream.
func (r *Repository) ListSessionsByReviewStatus(ctx context.Context, status domain.ReviewStatus) ([]string, error) {
	ids, err := r.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		v, ok, err := r.store.HGet(ctx, key(id, "meta"), "review_status")
		if err != nil {
			return nil, err
		}
		if ok && domain.ReviewStatus(v) == status {
			out = append(out, id)
		}
	}
	return out, nil
}

func sessionIDFromKey(k string) string {
	prefix := keyPrefix + ":"
	if len(k) <= len(prefix) {
		return ""
	}
	rest := k[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return ""
}

func encodeMeta(m domain.Meta) map[string]string {
	fields := map[string]string{
		"version":         fmt.Sprintf("%d", m.Version),
		"total_hunts":     fmt.Sprintf("%d", m.TotalHunts),
		"completed_hunts": fmt.Sprintf("%d", m.CompletedHunts),
		"breaks_found":    fmt.Sprintf("%d", m.BreaksFound),
		"review_status":   string(m.ReviewStatus),
		"review_round":    fmt.Sprintf("%d", m.ReviewRound),
		"qc_done":         fmt.Sprintf("%t", m.QCDone),
		"trainer_email":   m.TrainerEmail,
	}
	if m.AcknowledgedAt != nil {
		fields["acknowledged_at"] = m.AcknowledgedAt.Format(time.RFC3339)
	}
	if m.ResubmittedAt != nil {
		fields["resubmitted_at"] = m.ResubmittedAt.Format(time.RFC3339)
	}
	return fields
}

func decodeMeta(fields map[string]string) (domain.Meta, error) {
	var m domain.Meta
	m.Version = atoi64(fields["version"])
	m.TotalHunts = int(atoi64(fields["total_hunts"]))
	m.CompletedHunts = int(atoi64(fields["completed_hunts"]))
	m.BreaksFound = int(atoi64(fields["breaks_found"]))
	m.ReviewStatus = domain.ReviewStatus(fields["review_status"])
	m.ReviewRound = int(atoi64(fields["review_round"]))
	m.QCDone = fields["qc_done"] == "true"
	m.TrainerEmail = fields["trainer_email"]
	if v := fields["acknowledged_at"]; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			m.AcknowledgedAt = &t
		}
	}
	if v := fields["resubmitted_at"]; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			m.ResubmittedAt = &t
		}
	}
	return m, nil
}

func atoi64(s string) int64 {
	var n int64
	var neg bool
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}
