package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/domain"
	"castline/internal/engine"
	"castline/internal/repo"
	"castline/internal/status"
	"castline/internal/store"
)

func seedBookable(t *testing.T, env *testEnv) {
	t.Helper()
	env.seed(t, store.Projects, "p1", map[string]any{"title": "Feature", "status": "booking"})
	env.seed(t, store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Nurse"})
	env.seed(t, store.Submissions, "s1", map[string]any{
		"projectId": "p1", "roleId": "r1", "roleName": "Nurse", "userId": "u1", "status": "pinned",
		"profileData": map[string]any{
			"firstName": "Ada",
			"email":     "ada@example.com",
			"physical":  map[string]any{"height": "5'7\""},
			"appearance": map[string]any{
				"hair_color": "Brown",
			},
			"shoeSize": 8.5,
		},
	})
}

func TestBookSubmissionCreatesBookingAtomically(t *testing.T) {
	env := newTestEnv(t)
	seedBookable(t, env)

	b, err := env.Engine.BookSubmission(env.Ctx, "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "bk-001", b.ID)
	assert.Equal(t, domain.BookingPending, b.Status)

	batches := env.Store.Committed()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)

	assert.Equal(t, "booked", env.doc(t, store.Submissions, "s1")["status"])
	doc := env.doc(t, store.Bookings, "bk-001")
	assert.Equal(t, "u1", doc["userId"])
	assert.Equal(t, "s1", doc["submissionId"])
	assert.Equal(t, false, doc["archivedWithProject"])

	profile := doc["talentProfile"].(map[string]any)
	assert.Equal(t, "Ada", profile["firstName"])
	assert.Contains(t, profile, "lastName")
	assert.Nil(t, profile["lastName"])
	physical := profile["physical"].(map[string]any)
	assert.Len(t, physical, len(domain.PhysicalAttributes))
	for _, attr := range domain.PhysicalAttributes {
		assert.Contains(t, physical, attr)
	}
	assert.Equal(t, "5'7\"", physical["height"])
	assert.Equal(t, "Brown", physical["hairColor"])
	assert.Equal(t, "8.5", physical["shoeSize"])
	assert.Nil(t, physical["waist"])

	n, err := env.Engine.ActiveBookingCount(env.Ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.Engine.BookSubmission(env.Ctx, "s1", "alice")
	assert.ErrorIs(t, err, status.ErrIllegalTransition)
}

func TestBookSubmissionRefusesArchivedParents(t *testing.T) {
	env := newTestEnv(t)
	seedBookable(t, env)
	_, err := env.Engine.ArchiveRole(env.Ctx, "r1", "alice", "")
	require.NoError(t, err)
	env.seed(t, store.Submissions, "s2", map[string]any{"projectId": "p1", "roleId": "r1", "roleName": "Nurse", "userId": "u2", "status": nil})

	_, err = env.Engine.BookSubmission(env.Ctx, "s2", "alice")
	assert.ErrorIs(t, err, engine.ErrParentArchived)

	env.seed(t, store.Submissions, "s3", map[string]any{"projectId": "p1", "roleId": "missing", "roleName": "Nurse", "status": nil})
	_, err = env.Engine.BookSubmission(env.Ctx, "s3", "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetSubmissionStatus(t *testing.T) {
	env := newTestEnv(t)
	seedBookable(t, env)

	s, err := env.Engine.SetSubmissionStatus(env.Ctx, "s1", domain.SubmissionRejected, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionRejected, s.Status)

	s, err = env.Engine.SetSubmissionStatus(env.Ctx, "s1", domain.SubmissionNew, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionNew, s.Status)
	assert.Nil(t, env.doc(t, store.Submissions, "s1")["status"])

	s, err = env.Engine.SetSubmissionStatus(env.Ctx, "s1", domain.SubmissionBooked, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionBooked, s.Status)
	bookings, err := env.Engine.Repo.ListBookingsByRole(env.Ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, bookings, 1)

	_, err = env.Engine.SetSubmissionStatus(env.Ctx, "s1", domain.SubmissionPinned, "alice")
	assert.ErrorIs(t, err, status.ErrIllegalTransition)

	s, err = env.Engine.SetSubmissionStatus(env.Ctx, "s1", domain.SubmissionArchived, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionArchived, s.Status)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 0, "p1", "submission.status", "submission", "s1")
	require.NoError(t, err)
	assert.Len(t, evts, 3)
}

func TestSetSubmissionStatusUnderArchivedProject(t *testing.T) {
	env := newTestEnv(t)
	seedBookable(t, env)
	_, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.NoError(t, err)

	_, err = env.Engine.SetSubmissionStatus(env.Ctx, "s1", domain.SubmissionNew, "alice")
	assert.ErrorIs(t, err, engine.ErrParentArchived)
}

func TestSetSubmissionStatusRejectsLegacyValues(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, store.Submissions, "s1", map[string]any{"projectId": "p1", "roleId": "r1", "status": "reviewed"})
	_, err := env.Engine.SetSubmissionStatus(env.Ctx, "s1", domain.SubmissionPinned, "alice")
	assert.ErrorIs(t, err, status.ErrIllegalTransition)
}

func TestSetBookingStatus(t *testing.T) {
	env := newTestEnv(t)
	seedBookable(t, env)
	b, err := env.Engine.BookSubmission(env.Ctx, "s1", "alice")
	require.NoError(t, err)

	b, err = env.Engine.SetBookingStatus(env.Ctx, b.ID, domain.BookingConfirmed, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	b, err = env.Engine.SetBookingStatus(env.Ctx, b.ID, domain.BookingCompleted, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCompleted, b.Status)

	_, err = env.Engine.SetBookingStatus(env.Ctx, b.ID, domain.BookingCancelled, "alice")
	assert.ErrorIs(t, err, status.ErrIllegalTransition)
	assert.Equal(t, "completed", env.doc(t, store.Bookings, b.ID)["status"])
}

func TestSetBookingStatusFrozenAfterCascade(t *testing.T) {
	env := newTestEnv(t)
	seedBookable(t, env)
	b, err := env.Engine.BookSubmission(env.Ctx, "s1", "alice")
	require.NoError(t, err)
	_, err = env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.NoError(t, err)

	_, err = env.Engine.SetBookingStatus(env.Ctx, b.ID, domain.BookingCancelled, "alice")
	assert.ErrorIs(t, err, engine.ErrParentArchived)
}

func TestImportValidatesBeforeWriting(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Import(env.Ctx, engine.Fixtures{
		Projects: []map[string]any{{"id": "p1", "title": "Feature", "status": "booking"}},
		Roles:    []map[string]any{{"id": "r1", "name": "orphan"}},
	})
	require.ErrorIs(t, err, repo.ErrMalformed)
	assert.Zero(t, env.Store.Attempts())
}

func TestImportWritesParentsFirst(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Import(env.Ctx, engine.Fixtures{
		Projects:    []map[string]any{{"id": "p1", "title": "Feature", "status": "booking"}},
		Roles:       []map[string]any{{"id": "r1", "projectId": "p1", "name": "Nurse"}},
		Submissions: []map[string]any{{"id": "s1", "projectId": "p1", "roleId": "r1", "roleName": "Nurse", "status": "reviewed", "pinned": true}},
	})
	require.NoError(t, err)
	require.Len(t, res.Classes, 4)
	assert.Equal(t, engine.ClassProjects, res.Classes[0].Class)
	assert.Zero(t, res.Classes[3].Matched)

	doc := env.doc(t, store.Submissions, "s1")
	assert.Equal(t, "reviewed", doc["status"])
	assert.Equal(t, true, doc["pinned"])
	assert.NotContains(t, doc, "id")
}
