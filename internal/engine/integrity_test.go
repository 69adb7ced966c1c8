package engine_test

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/engine"
	"castline/internal/store"
	"castline/internal/store/memory"
)

func TestAuditClassifiesOrphans(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Extra"})
	env.seed(t, store.Roles, "r2", map[string]any{"projectId": "p2", "name": "Extra"})
	env.seed(t, store.Roles, "r3", map[string]any{"projectId": "p2", "name": "EXTRA"})
	env.seed(t, store.Submissions, "s-valid", map[string]any{"projectId": "p1", "roleId": "r1", "roleName": "Renamed"})
	env.seed(t, store.Submissions, "s-fix", map[string]any{"projectId": "p1", "roleId": "rX", "roleName": "extra"})
	env.seed(t, store.Submissions, "s-ambiguous", map[string]any{"projectId": "p2", "roleId": "rY", "roleName": "Extra"})
	env.seed(t, store.Submissions, "s-none", map[string]any{"projectId": "p1", "roleId": "rZ", "roleName": "Stunt"})
	env.seed(t, store.Submissions, "s-empty", map[string]any{"projectId": "p1", "roleName": ""})

	rep, err := env.Engine.AuditSubmissionIntegrity(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.SubmissionsScanned)
	assert.Equal(t, 3, rep.RolesScanned)
	assert.Equal(t, engine.IntegrityCounts{Valid: 1, OrphanedFixable: 1, OrphanedUnresolved: 3}, rep.Counts)
	assert.Equal(t, []engine.ProposedFix{{
		SubmissionID: "s-fix", ProjectID: "p1", RoleName: "extra", FromRoleID: "rX", ToRoleID: "r1",
	}}, rep.Fixes)

	reasons := map[string]string{}
	for _, u := range rep.Unresolved {
		reasons[u.SubmissionID] = u.Reason
	}
	assert.Equal(t, map[string]string{
		"s-ambiguous": engine.ReasonAmbiguousMatch,
		"s-none":      engine.ReasonNoMatch,
		"s-empty":     engine.ReasonNoMatch,
	}, reasons)
	assert.Equal(t, float64(3), testutil.ToFloat64(env.Metrics.AuditSubmissions.WithLabelValues("orphaned_unresolved")))

	// Detection never writes.
	assert.Zero(t, env.Store.Attempts())
}

func TestAuditAmbiguousRoleNameIsUnresolved(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Extra"})
	env.seed(t, store.Roles, "r2", map[string]any{"projectId": "p1", "name": "Extra"})
	env.seed(t, store.Submissions, "s1", map[string]any{"projectId": "p1", "roleId": "rX", "roleName": "Extra"})

	rep, err := env.Engine.AuditSubmissionIntegrity(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Fixes)
	require.Len(t, rep.Unresolved, 1)
	assert.Equal(t, []string{"r1", "r2"}, rep.Unresolved[0].Candidates)
}

func TestRepairAppliesFixesAndSkipsStale(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Extra"})
	env.seed(t, store.Roles, "r2", map[string]any{"projectId": "p2", "name": "Extra"})
	env.seed(t, store.Submissions, "s1", map[string]any{"projectId": "p1", "roleId": "rX", "roleName": "Extra"})
	env.seed(t, store.Submissions, "s2", map[string]any{"projectId": "p1", "roleId": "rY", "roleName": "Extra"})
	env.seed(t, store.Submissions, "s3", map[string]any{"projectId": "p1", "roleId": "rZ", "roleName": "Extra"})

	rep, err := env.Engine.AuditSubmissionIntegrity(env.Ctx)
	require.NoError(t, err)
	require.Len(t, rep.Fixes, 3)

	// s2 moved after the audit; s3's proposal is tampered to point across projects.
	env.seed(t, store.Submissions, "s2", map[string]any{"projectId": "p1", "roleId": "r1", "roleName": "Extra"})
	fixes := append(rep.Fixes, rep.Fixes[0])
	fixes[2].ToRoleID = "r2"
	fixes = append(fixes, engine.ProposedFix{SubmissionID: "gone", FromRoleID: "rQ", ToRoleID: "r1"})

	res, err := env.Engine.RepairSubmissions(env.Ctx, fixes, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 1, res.Applied)
	reasons := map[string]int{}
	for _, s := range res.Skipped {
		reasons[s.Reason]++
	}
	assert.Equal(t, map[string]int{
		engine.SkipRoleChanged:       1,
		engine.SkipProjectMismatch:   1,
		engine.SkipDuplicate:         1,
		engine.SkipSubmissionMissing: 1,
	}, reasons)
	assert.Equal(t, "r1", env.doc(t, store.Submissions, "s1")["roleId"])
	assert.Equal(t, "rZ", env.doc(t, store.Submissions, "s3")["roleId"])

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, "", "integrity.repair", "", "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, float64(1), evts[0].Payload["applied"])

	after, err := env.Engine.AuditSubmissionIntegrity(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Counts.Valid)
}

func TestRepairSkipsMissingTarget(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, store.Submissions, "s1", map[string]any{"projectId": "p1", "roleId": "rX", "roleName": "Extra"})
	res, err := env.Engine.RepairSubmissions(env.Ctx, []engine.ProposedFix{{SubmissionID: "s1", FromRoleID: "rX", ToRoleID: "r1"}}, "alice")
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, engine.SkipTargetMissing, res.Skipped[0].Reason)
	assert.Zero(t, env.Store.Attempts())
}

func TestRepairChunksAndReportsPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Crowd"})
	for i := 0; i < 1200; i++ {
		env.seed(t, store.Submissions, fmt.Sprintf("s%04d", i), map[string]any{"projectId": "p1", "roleId": "gone", "roleName": "Crowd"})
	}
	rep, err := env.Engine.AuditSubmissionIntegrity(env.Ctx)
	require.NoError(t, err)
	require.Len(t, rep.Fixes, 1200)

	env.Store.SetHooks(memory.Hooks{BeforeBatch: func(muts []store.Mutation) error {
		if muts[0].ID == "s1000" {
			return errFlaky
		}
		return nil
	}})
	res, err := env.Engine.RepairSubmissions(env.Ctx, rep.Fixes, "alice")
	var incomplete *engine.CascadeIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 1000, res.Applied)
	assert.Equal(t, 200, res.Writes.Failed)
	assert.Equal(t, []int{500, 500}, batchSizes(env.Store.CommittedFor(store.Submissions)))
	assert.Equal(t, float64(1000), testutil.ToFloat64(env.Metrics.RepairsApplied))
}

func TestRepairRequiresActor(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RepairSubmissions(env.Ctx, nil, "")
	assert.ErrorIs(t, err, engine.ErrActorRequired)
}

func TestMigrateLegacySubmissionStatuses(t *testing.T) {
	env := newTestEnv(t)
	seed := map[string]map[string]any{
		"s-pending":  {"projectId": "p1", "status": "pending"},
		"s-reviewed": {"projectId": "p1", "status": "reviewed"},
		"s-selected": {"projectId": "p1", "status": "selected"},
		"s-rejected": {"projectId": "p1", "status": "rejected"},
		"s-custom":   {"projectId": "p1", "status": "custom"},
		"s-pinned":   {"projectId": "p1", "status": "pending", "pinned": true},
		"s-unpinned": {"projectId": "p1", "status": "selected", "pinned": false},
		"s-current":  {"projectId": "p1", "status": nil},
		"s-numeric":  {"projectId": "p1", "status": 3, "pinned": false},
	}
	for id, data := range seed {
		env.seed(t, store.Submissions, id, data)
	}

	plan, err := env.Engine.MigrateLegacySubmissionStatuses(env.Ctx, "ops", true)
	require.NoError(t, err)
	assert.Equal(t, 6, plan.Writes.Matched)
	assert.Zero(t, env.Store.Attempts())

	sum, err := env.Engine.MigrateLegacySubmissionStatuses(env.Ctx, "ops", false)
	require.NoError(t, err)
	assert.Equal(t, 9, sum.Scanned)
	assert.Equal(t, 6, sum.Migrated)
	assert.Equal(t, 1, sum.PinnedOverrides)
	assert.Equal(t, 3, sum.FlagsDropped)
	assert.Equal(t, []string{"3", "custom"}, sum.Unmapped)
	assert.Equal(t, 3, sum.Unchanged)
	assert.Equal(t, map[string]int{
		"pending->new":     1,
		"pending->pinned":  1,
		"reviewed->pinned": 1,
		"selected->booked": 2,
	}, sum.Mapped)

	want := map[string]any{
		"s-pending":  nil,
		"s-reviewed": "pinned",
		"s-selected": "booked",
		"s-rejected": "rejected",
		"s-custom":   "custom",
		"s-pinned":   "pinned",
		"s-unpinned": "booked",
		"s-current":  nil,
		"s-numeric":  float64(3),
	}
	for id, status := range want {
		doc := env.doc(t, store.Submissions, id)
		assert.Equal(t, status, doc["status"], id)
		assert.NotContains(t, doc, "pinned", id)
	}

	again, err := env.Engine.MigrateLegacySubmissionStatuses(env.Ctx, "ops", false)
	require.NoError(t, err)
	assert.Zero(t, again.Migrated)
	assert.Equal(t, 9, again.Unchanged)
}
