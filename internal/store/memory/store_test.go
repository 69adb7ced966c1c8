package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/store"
	"castline/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New(3) })
}

func TestHooksInjectFaults(t *testing.T) {
	ctx := context.Background()
	st := New(0)
	require.NoError(t, st.Seed(store.Roles, "r1", map[string]any{"name": "Extra"}))
	boom := errors.New("boom")
	st.SetHooks(Hooks{
		BeforeGet:   func(string, string) error { return boom },
		BeforeBatch: func([]store.Mutation) error { return boom },
	})

	_, err := st.Get(ctx, store.Roles, "r1")
	assert.ErrorIs(t, err, boom)
	err = st.BatchWrite(ctx, []store.Mutation{store.Set(store.Roles, "r2", map[string]any{})})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, st.Attempts())
	assert.Empty(t, st.Committed())
	assert.Equal(t, 1, st.Count(store.Roles))
}

func TestCommittedFor(t *testing.T) {
	ctx := context.Background()
	st := New(0)
	require.NoError(t, st.BatchWrite(ctx, []store.Mutation{store.Set(store.Projects, "p1", map[string]any{})}))
	require.NoError(t, st.BatchWrite(ctx, []store.Mutation{store.Set(store.Roles, "r1", map[string]any{})}))
	assert.Len(t, st.Committed(), 2)
	assert.Len(t, st.CommittedFor(store.Roles), 1)
}

func TestSeededDocumentsAreCopies(t *testing.T) {
	st := New(0)
	body := map[string]any{"name": "Extra"}
	require.NoError(t, st.Seed(store.Roles, "r1", body))
	body["name"] = "changed"
	doc, err := st.Get(context.Background(), store.Roles, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Extra", doc.Data["name"])
	doc.Data["name"] = "mutated"
	again, _ := st.Get(context.Background(), store.Roles, "r1")
	assert.Equal(t, "Extra", again.Data["name"])
}
