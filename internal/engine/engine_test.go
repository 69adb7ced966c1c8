package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/config"
	"castline/internal/domain"
	"castline/internal/engine"
	"castline/internal/metrics"
	"castline/internal/status"
	"castline/internal/store"
	"castline/internal/store/memory"
)

var errFlaky = errors.New("store unavailable")

type testEnv struct {
	Engine  engine.Engine
	Store   *memory.Store
	Metrics *metrics.Recorder
	Ctx     context.Context
	clock   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New(store.DefaultBatchLimit)
	cfg := config.Default()
	rec := metrics.New(prometheus.NewRegistry())
	env := &testEnv{Store: st, Metrics: rec, Ctx: context.Background(), clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(st, cfg)
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	eng.Metrics = rec
	eng.Now = func() time.Time { return env.clock }
	eng.Events.Now = eng.Now
	seq := 0
	eng.NewID = func() string {
		seq++
		return fmt.Sprintf("bk-%03d", seq)
	}
	eng.Backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	env.Engine = eng
	return env
}

func (env *testEnv) seed(t *testing.T, collection, id string, data map[string]any) {
	t.Helper()
	require.NoError(t, env.Store.Seed(collection, id, data))
}

func (env *testEnv) doc(t *testing.T, collection, id string) map[string]any {
	t.Helper()
	d, err := env.Store.Get(env.Ctx, collection, id)
	require.NoError(t, err)
	return d.Data
}

func (env *testEnv) snapshot(t *testing.T, collections ...string) map[string][]store.Document {
	t.Helper()
	out := map[string][]store.Document{}
	for _, c := range collections {
		docs, err := env.Store.Query(env.Ctx, c)
		require.NoError(t, err)
		out[c] = docs
	}
	return out
}

// seedCastingProject builds p1 with two roles, a booking and two submissions,
// plus an unrelated project p2 with one of each.
func seedCastingProject(t *testing.T, env *testEnv) {
	t.Helper()
	env.seed(t, store.Projects, "p1", map[string]any{"title": "Night Shoot", "status": "booked"})
	env.seed(t, store.Projects, "p2", map[string]any{"title": "Day Shoot", "status": "booking"})
	env.seed(t, store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Extra", "archivedWithProject": false, "archivedIndividually": false})
	env.seed(t, store.Roles, "r2", map[string]any{"projectId": "p1", "name": "Bartender", "archivedIndividually": true, "archiveReason": "cut"})
	env.seed(t, store.Roles, "r3", map[string]any{"projectId": "p2", "name": "Extra"})
	env.seed(t, store.Bookings, "b1", map[string]any{"projectId": "p1", "roleId": "r1", "userId": "u1", "status": "confirmed"})
	env.seed(t, store.Bookings, "b2", map[string]any{"projectId": "p2", "roleId": "r3", "userId": "u2", "status": "pending"})
	env.seed(t, store.Submissions, "s1", map[string]any{"projectId": "p1", "roleId": "r1", "roleName": "Extra", "userId": "u1", "status": "booked"})
	env.seed(t, store.Submissions, "s2", map[string]any{"projectId": "p1", "roleId": "r2", "roleName": "Bartender", "userId": "u3", "status": nil})
	env.seed(t, store.Submissions, "s3", map[string]any{"projectId": "p2", "roleId": "r3", "roleName": "Extra", "userId": "u2", "status": "pinned"})
}

func TestCascadeArchiveProjectArchivesDependents(t *testing.T) {
	env := newTestEnv(t)
	seedCastingProject(t, env)
	unrelated := []struct{ coll, id string }{{store.Projects, "p2"}, {store.Roles, "r3"}, {store.Bookings, "b2"}, {store.Submissions, "s3"}}
	before := map[string]map[string]any{}
	for _, u := range unrelated {
		before[u.coll+"/"+u.id] = env.doc(t, u.coll, u.id)
	}

	res, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.NoError(t, err)
	assert.False(t, res.AlreadyArchived)
	assert.False(t, res.Incomplete)
	assert.Equal(t, "2024-01-01T00:00:00Z", res.ArchivedAt)

	p := env.doc(t, store.Projects, "p1")
	assert.Equal(t, "archived", p["status"])
	assert.Equal(t, "alice", p["archivedBy"])
	assert.Equal(t, "2024-01-01T00:00:00Z", p["archivedAt"])

	for _, id := range []string{"r1", "r2"} {
		r := env.doc(t, store.Roles, id)
		assert.Equal(t, true, r["archivedWithProject"], id)
		assert.Equal(t, false, r["archivedIndividually"], id)
	}
	b := env.doc(t, store.Bookings, "b1")
	assert.Equal(t, "completed", b["status"])
	assert.Equal(t, true, b["archivedWithProject"])
	for _, id := range []string{"s1", "s2"} {
		s := env.doc(t, store.Submissions, id)
		assert.Equal(t, "archived", s["status"], id)
		assert.Equal(t, true, s["archivedWithProject"], id)
	}
	for _, u := range unrelated {
		assert.Equal(t, before[u.coll+"/"+u.id], env.doc(t, u.coll, u.id), u.id)
	}

	classes := map[engine.EntityClass]int{}
	for _, c := range res.Classes {
		classes[c.Class] = c.Succeeded
	}
	assert.Equal(t, map[engine.EntityClass]int{
		engine.ClassProjects:    1,
		engine.ClassRoles:       2,
		engine.ClassBookings:    1,
		engine.ClassSubmissions: 2,
	}, classes)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "p1", "project.archive", "", "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "alice", evts[0].ActorID)
}

func TestCascadeArchiveProjectCommitsProjectFirst(t *testing.T) {
	env := newTestEnv(t)
	seedCastingProject(t, env)
	_, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.NoError(t, err)

	batches := env.Store.Committed()
	require.NotEmpty(t, batches)
	first := map[string]bool{}
	for _, m := range batches[0] {
		first[m.Collection] = true
	}
	assert.Equal(t, map[string]bool{store.Projects: true, store.AuditEvents: true}, first)
}

func TestCascadeArchiveProjectIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedCastingProject(t, env)
	_, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.NoError(t, err)
	entities := []string{store.Projects, store.Roles, store.Bookings, store.Submissions}
	once := env.snapshot(t, entities...)

	env.clock = env.clock.Add(48 * time.Hour)
	res, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "bob")
	require.NoError(t, err)
	assert.True(t, res.AlreadyArchived)
	assert.Equal(t, "2024-01-01T00:00:00Z", res.ArchivedAt)
	assert.Equal(t, once, env.snapshot(t, entities...))
}

func TestCascadeArchiveProjectNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CascadeArchiveProject(env.Ctx, "missing", "alice")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, env.Store.Attempts())
}

func seedLargeProject(t *testing.T, env *testEnv, n int) {
	t.Helper()
	env.seed(t, store.Projects, "p1", map[string]any{"title": "Crowd Scene", "status": "booking"})
	env.seed(t, store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Crowd"})
	for i := 0; i < n; i++ {
		env.seed(t, store.Submissions, fmt.Sprintf("s%04d", i), map[string]any{
			"projectId": "p1", "roleId": "r1", "roleName": "Crowd", "userId": fmt.Sprintf("u%d", i), "status": nil,
		})
	}
}

func batchSizes(batches [][]store.Mutation) []int {
	out := make([]int, 0, len(batches))
	for _, b := range batches {
		out = append(out, len(b))
	}
	return out
}

func TestCascadeArchiveChunksAtBatchCeiling(t *testing.T) {
	env := newTestEnv(t)
	seedLargeProject(t, env, 1200)

	res, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.NoError(t, err)
	subs, ok := res.Class(engine.ClassSubmissions)
	require.True(t, ok)
	assert.Equal(t, 3, subs.Batches)
	assert.Equal(t, 1200, subs.Succeeded)
	assert.Equal(t, []int{500, 500, 200}, batchSizes(env.Store.CommittedFor(store.Submissions)))
	assert.Equal(t, float64(3), testutil.ToFloat64(env.Metrics.BatchesCommitted.WithLabelValues("submissions")))
}

func TestCascadeArchiveReportsIncompleteChunk(t *testing.T) {
	env := newTestEnv(t)
	seedLargeProject(t, env, 1200)
	env.Store.SetHooks(memory.Hooks{BeforeBatch: func(muts []store.Mutation) error {
		if muts[0].Collection == store.Submissions && muts[0].ID == "s0500" {
			return errFlaky
		}
		return nil
	}})

	res, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.Error(t, err)
	var incomplete *engine.CascadeIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, engine.ClassSubmissions, incomplete.Class)
	assert.Equal(t, 500, incomplete.Succeeded)
	assert.Equal(t, 700, incomplete.Failed)
	assert.ErrorIs(t, err, errFlaky)
	assert.ErrorIs(t, err, engine.ErrCascadeIncomplete)
	assert.True(t, res.Incomplete)

	archived, err := env.Store.Query(env.Ctx, store.Submissions, store.Eq("status", "archived"))
	require.NoError(t, err)
	assert.Len(t, archived, 500)
	assert.Equal(t, []int{500}, batchSizes(env.Store.CommittedFor(store.Submissions)))
	// Two retries after the first attempt, then abandoned.
	assert.Equal(t, float64(2), testutil.ToFloat64(env.Metrics.BatchRetries.WithLabelValues("submissions")))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.Metrics.BatchFailures.WithLabelValues("submissions")))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.Metrics.CascadesIncomplete))

	// Re-running finishes the cascade.
	env.Store.SetHooks(memory.Hooks{})
	res, err = env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.NoError(t, err)
	assert.True(t, res.AlreadyArchived)
	archived, err = env.Store.Query(env.Ctx, store.Submissions, store.Eq("status", "archived"))
	require.NoError(t, err)
	assert.Len(t, archived, 1200)
}

func TestCascadeArchiveRetriesTransientFailure(t *testing.T) {
	env := newTestEnv(t)
	seedCastingProject(t, env)
	failures := 1
	env.Store.SetHooks(memory.Hooks{BeforeBatch: func(muts []store.Mutation) error {
		if muts[0].Collection == store.Bookings && failures > 0 {
			failures--
			return errFlaky
		}
		return nil
	}})
	res, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	require.NoError(t, err)
	bookings, _ := res.Class(engine.ClassBookings)
	assert.Equal(t, 1, bookings.Succeeded)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.Metrics.BatchRetries.WithLabelValues("bookings")))
}

func TestCascadeArchiveContinuesAfterClassFailure(t *testing.T) {
	env := newTestEnv(t)
	seedCastingProject(t, env)
	env.Store.SetHooks(memory.Hooks{BeforeQuery: func(collection string, _ []store.Filter) error {
		if collection == store.Bookings {
			return errFlaky
		}
		return nil
	}})
	res, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	var incomplete *engine.CascadeIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, engine.ClassBookings, incomplete.Class)

	subs, _ := res.Class(engine.ClassSubmissions)
	assert.Equal(t, 2, subs.Succeeded)
	assert.Equal(t, "archived", env.doc(t, store.Submissions, "s1")["status"])
	assert.Equal(t, "confirmed", env.doc(t, store.Bookings, "b1")["status"])
}

func TestCascadeArchiveStopsWhenProjectWriteFails(t *testing.T) {
	env := newTestEnv(t)
	seedCastingProject(t, env)
	env.Store.SetHooks(memory.Hooks{BeforeBatch: func(muts []store.Mutation) error {
		if muts[0].Collection == store.Projects {
			return errFlaky
		}
		return nil
	}})
	res, err := env.Engine.CascadeArchiveProject(env.Ctx, "p1", "alice")
	var incomplete *engine.CascadeIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, engine.ClassProjects, incomplete.Class)
	assert.Len(t, res.Classes, 1)
	assert.Empty(t, env.Store.Committed())
	assert.Equal(t, false, env.doc(t, store.Roles, "r1")["archivedWithProject"])
}

func TestCascadeArchiveStopsBetweenChunksOnCancel(t *testing.T) {
	env := newTestEnv(t)
	seedLargeProject(t, env, 1200)
	ctx, cancel := context.WithCancel(env.Ctx)
	defer cancel()
	env.Store.SetHooks(memory.Hooks{BeforeBatch: func(muts []store.Mutation) error {
		if muts[0].Collection == store.Submissions {
			cancel()
		}
		return nil
	}})
	_, err := env.Engine.CascadeArchiveProject(ctx, "p1", "alice")
	var incomplete *engine.CascadeIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 500, incomplete.Succeeded)
	assert.Equal(t, 700, incomplete.Failed)
	assert.Len(t, env.Store.CommittedFor(store.Submissions), 1)
}

func TestAdvanceProjectIsForwardOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, store.Projects, "p1", map[string]any{"title": "Pilot", "status": "booking"})

	adv, err := env.Engine.AdvanceProject(env.Ctx, "p1", domain.ProjectBooked, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectBooked, adv.Project.Status)
	assert.Nil(t, adv.Cascade)

	_, err = env.Engine.AdvanceProject(env.Ctx, "p1", domain.ProjectBooking, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrIllegalTransition)

	adv, err = env.Engine.AdvanceProject(env.Ctx, "p1", domain.ProjectArchived, "alice")
	require.NoError(t, err)
	require.NotNil(t, adv.Cascade)
	assert.Equal(t, domain.ProjectArchived, adv.Project.Status)

	for _, to := range []domain.ProjectStatus{domain.ProjectBooking, domain.ProjectBooked, domain.ProjectArchived} {
		_, err = env.Engine.AdvanceProject(env.Ctx, "p1", to, "alice")
		assert.ErrorIs(t, err, status.ErrIllegalTransition, string(to))
	}
}
