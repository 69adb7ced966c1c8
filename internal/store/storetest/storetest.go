// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/store"
)

// Run exercises a backend. newStore must return an empty store whose batch
// limit is 3.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Get(context.Background(), store.Roles, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("CreateSetUpdate", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		require.NoError(t, st.BatchWrite(ctx, []store.Mutation{
			store.Create(store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Extra", "archiveReason": "x"}),
			store.Set(store.Projects, "p1", map[string]any{"title": "Night Shoot", "status": "booking"}),
		}))
		require.NoError(t, st.BatchWrite(ctx, []store.Mutation{
			store.Update(store.Roles, "r1", map[string]any{"archivedIndividually": true, "count": 2}, "archiveReason"),
		}))
		doc, err := st.Get(ctx, store.Roles, "r1")
		require.NoError(t, err)
		assert.Equal(t, "r1", doc.ID)
		assert.Equal(t, true, doc.Data["archivedIndividually"])
		assert.Equal(t, float64(2), doc.Data["count"])
		assert.Equal(t, "Extra", doc.Data["name"])
		assert.NotContains(t, doc.Data, "archiveReason")

		err = st.BatchWrite(ctx, []store.Mutation{store.Create(store.Roles, "r1", map[string]any{})})
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("BatchIsAtomic", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		err := st.BatchWrite(ctx, []store.Mutation{
			store.Set(store.Projects, "p1", map[string]any{"status": "booking"}),
			store.Update(store.Roles, "missing", map[string]any{"name": "x"}),
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.Get(ctx, store.Projects, "p1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("BatchLimit", func(t *testing.T) {
		st := newStore(t)
		muts := make([]store.Mutation, 0, 4)
		for _, id := range []string{"a", "b", "c", "d"} {
			muts = append(muts, store.Set(store.Submissions, id, map[string]any{}))
		}
		err := st.BatchWrite(context.Background(), muts)
		var tooLarge *store.BatchTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		assert.Equal(t, 4, tooLarge.Size)
		assert.Equal(t, 3, st.BatchLimit())
		docs, err := st.Query(context.Background(), store.Submissions)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("QueryFilters", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)
		require.NoError(t, st.BatchWrite(ctx, []store.Mutation{
			store.Set(store.Submissions, "s1", map[string]any{"roleId": "r1", "status": nil}),
			store.Set(store.Submissions, "s2", map[string]any{"roleId": "r1", "status": "pinned"}),
			store.Set(store.Submissions, "s3", map[string]any{"roleId": "r2"}),
		}))
		docs, err := st.Query(ctx, store.Submissions, store.Eq("roleId", "r1"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"s1", "s2"}, ids(docs))

		docs, err = st.Query(ctx, store.Submissions, store.Eq("status", nil))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"s1", "s3"}, ids(docs))

		docs, err = st.Query(ctx, store.Submissions, store.Eq("roleId", "r1"), store.Eq("status", "pinned"))
		require.NoError(t, err)
		assert.Equal(t, []string{"s2"}, ids(docs))

		docs, err = st.Query(ctx, store.Bookings)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func ids(docs []store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
