package teamdir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/domain"
	"github.com/reviewlane/reviewer/internal/teamdir"
)

func testCfg() config.TeamsConfig {
	return config.TeamsConfig{
		SuperAdmins: []config.TeamMember{{Email: "Root@Example.com"}},
		Admins:      []config.AdminEntry{{Email: "admin@example.com", Pods: []string{"pod-a"}}},
		Pods: map[string]config.PodConfig{
			"pod-a": {
				Reviewer: config.TeamMember{Email: "reviewer@example.com"},
				Trainers: []string{"t1@example.com", "T2@Example.com"},
			},
		},
	}
}

func TestGetRole(t *testing.T) {
	d := teamdir.New(testCfg())

	role, ok := d.GetRole("root@example.com")
	require.True(t, ok)
	assert.Equal(t, domain.RoleSuperAdmin, role)

	role, ok = d.GetRole("admin@example.com")
	require.True(t, ok)
	assert.Equal(t, domain.RoleAdmin, role)

	role, ok = d.GetRole("reviewer@example.com")
	require.True(t, ok)
	assert.Equal(t, domain.RoleReviewer, role)

	role, ok = d.GetRole("t2@example.com")
	require.True(t, ok)
	assert.Equal(t, domain.RoleTrainer, role)

	_, ok = d.GetRole("unknown@example.com")
	assert.False(t, ok)
}

func TestGetPodForEmail(t *testing.T) {
	d := teamdir.New(testCfg())

	pod, ok := d.GetPodForEmail("t1@example.com")
	require.True(t, ok)
	assert.Equal(t, "pod-a", pod)

	_, ok = d.GetPodForEmail("admin@example.com")
	assert.False(t, ok)
}

func TestGetAllowedTrainerEmailsForRole(t *testing.T) {
	d := teamdir.New(testCfg())

	emails, all, ok := d.GetAllowedTrainerEmailsForRole("root@example.com")
	require.True(t, ok)
	assert.True(t, all)
	assert.Nil(t, emails)

	emails, all, ok = d.GetAllowedTrainerEmailsForRole("admin@example.com")
	require.True(t, ok)
	assert.False(t, all)
	assert.ElementsMatch(t, []string{"t1@example.com", "t2@example.com"}, emails)

	emails, all, ok = d.GetAllowedTrainerEmailsForRole("reviewer@example.com")
	require.True(t, ok)
	assert.False(t, all)
	assert.ElementsMatch(t, []string{"t1@example.com", "t2@example.com"}, emails)

	emails, all, ok = d.GetAllowedTrainerEmailsForRole("t1@example.com")
	require.True(t, ok)
	assert.False(t, all)
	assert.Equal(t, []string{"t1@example.com"}, emails)

	_, _, ok = d.GetAllowedTrainerEmailsForRole("nobody@example.com")
	assert.False(t, ok)
}
