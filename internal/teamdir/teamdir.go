// Package teamdir resolves a trusted identity email to a role and pod.
//
// The real directory service is out of scope for this system (spec.md §1);
// this package is the default implementation used for local runs and tests,
// backed directly by review.yaml's teams block. It is swappable behind the
// Directory interface so a real directory service can replace it without
// touching the HTTP layer.
package teamdir

import (
	"strings"
	"time"

	"github.com/reviewlane/reviewer/internal/cache"
	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/domain"
)

// roleCacheTTL bounds how long a resolved role sticks around after a
// review.yaml reload changes a person's standing — short enough that a
// promotion/demotion takes effect within one request round trip in
// practice, long enough to spare every request a full pods-map scan.
const roleCacheTTL = 10 * time.Second

// Directory resolves identities to roles and pod membership.
type Directory interface {
	GetRole(email string) (domain.Role, bool)
	GetPodForEmail(email string) (string, bool)
	GetTrainerEmailsInPod(podID string) []string
	GetReviewerEmailForPod(podID string) (string, bool)
	GetPodsForAdmin(email string) []string
	GetAllPodIDs() []string
	// GetAllowedTrainerEmailsForRole returns the trainer emails this email is
	// permitted to see sessions for. all=true means "all sessions"
	// (super_admin). ok=false means the email is unknown.
	GetAllowedTrainerEmailsForRole(email string) (emails []string, all bool, ok bool)
	// GetAdminEmails returns every admin and super_admin email, deduplicated —
	// the audience for escalation notifications.
	GetAdminEmails() []string
}

// Static is a YAML-config-backed Directory, grounded in team_config.py.
type Static struct {
	cfg   config.TeamsConfig
	roles *cache.Cache[string, domain.Role]
}

// New builds a Static directory from the teams block of review.yaml.
func New(cfg config.TeamsConfig) *Static {
	return &Static{
		cfg: cfg,
		roles: cache.New[string, domain.Role](cache.Options{
			TTL:        roleCacheTTL,
			MaxEntries: 10000,
		}),
	}
}

func norm(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetRole returns the highest role for this email:
// super_admin > admin > reviewer > trainer. Resolutions are cached for
// roleCacheTTL — called on every authenticated request via auth.RequireIdentity,
// so repeated pods-map scans would otherwise redo the same work per request.
func (d *Static) GetRole(email string) (domain.Role, bool) {
	em := norm(email)
	if em == "" {
		return "", false
	}
	if role, ok := d.roles.Get(em); ok {
		return role, role != ""
	}
	role := d.resolveRole(em)
	d.roles.Set(em, role)
	return role, role != ""
}

// resolveRole scans the team directory for a normalized email. Returns ""
// if unknown — the empty string doubles as the cached "not found" marker,
// which is safe because it is never a valid domain.Role value.
func (d *Static) resolveRole(em string) domain.Role {
	for _, sa := range d.cfg.SuperAdmins {
		if norm(sa.Email) == em {
			return domain.RoleSuperAdmin
		}
	}
	for _, a := range d.cfg.Admins {
		if norm(a.Email) == em {
			return domain.RoleAdmin
		}
	}
	for _, pod := range d.cfg.Pods {
		if norm(pod.Reviewer.Email) == em {
			return domain.RoleReviewer
		}
		for _, t := range pod.Trainers {
			if norm(t) == em {
				return domain.RoleTrainer
			}
		}
	}
	return ""
}

// GetPodForEmail returns the pod ID for a trainer or reviewer. Super admins
// and admins aren't scoped to a single pod.
func (d *Static) GetPodForEmail(email string) (string, bool) {
	em := norm(email)
	if em == "" {
		return "", false
	}
	for podID, pod := range d.cfg.Pods {
		if norm(pod.Reviewer.Email) == em {
			return podID, true
		}
		for _, t := range pod.Trainers {
			if norm(t) == em {
				return podID, true
			}
		}
	}
	return "", false
}

// GetTrainerEmailsInPod returns the normalized trainer emails for a pod.
func (d *Static) GetTrainerEmailsInPod(podID string) []string {
	pod, ok := d.cfg.Pods[podID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(pod.Trainers))
	for _, t := range pod.Trainers {
		if e := norm(t); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// GetReviewerEmailForPod returns the reviewer email assigned to a pod.
func (d *Static) GetReviewerEmailForPod(podID string) (string, bool) {
	pod, ok := d.cfg.Pods[podID]
	if !ok {
		return "", false
	}
	e := norm(pod.Reviewer.Email)
	return e, e != ""
}

// GetPodsForAdmin returns the pod IDs an admin oversees.
func (d *Static) GetPodsForAdmin(email string) []string {
	em := norm(email)
	for _, a := range d.cfg.Admins {
		if norm(a.Email) == em {
			return append([]string(nil), a.Pods...)
		}
	}
	return nil
}

// GetAllPodIDs returns every configured pod ID.
func (d *Static) GetAllPodIDs() []string {
	out := make([]string, 0, len(d.cfg.Pods))
	for id := range d.cfg.Pods {
		out = append(out, id)
	}
	return out
}

// GetAdminEmails returns every admin and super_admin email, deduplicated.
func (d *Static) GetAdminEmails() []string {
	seen := map[string]bool{}
	var out []string
	for _, sa := range d.cfg.SuperAdmins {
		if e := norm(sa.Email); e != "" && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	for _, a := range d.cfg.Admins {
		if e := norm(a.Email); e != "" && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// GetAllowedTrainerEmailsForRole returns the set of trainer emails this
// person may see sessions for. all=true means "every session" (super_admin).
func (d *Static) GetAllowedTrainerEmailsForRole(email string) ([]string, bool, bool) {
	role, ok := d.GetRole(email)
	if !ok {
		return nil, false, false
	}
	switch role {
	case domain.RoleSuperAdmin:
		return nil, true, true
	case domain.RoleAdmin:
		var emails []string
		for _, podID := range d.GetPodsForAdmin(email) {
			emails = append(emails, d.GetTrainerEmailsInPod(podID)...)
		}
		return emails, false, true
	case domain.RoleReviewer:
		podID, found := d.GetPodForEmail(email)
		if !found {
			return nil, false, true
		}
		return d.GetTrainerEmailsInPod(podID), false, true
	default: // trainer
		return []string{norm(email)}, false, true
	}
}
