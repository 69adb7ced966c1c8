package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/domain"
	"castline/internal/store"
	"castline/internal/store/memory"
)

func TestDecodeRejectsMalformedDocuments(t *testing.T) {
	cases := []struct {
		name   string
		decode func(store.Document) error
		data   map[string]any
	}{
		{"project unknown status", decodeWith(DecodeProject), map[string]any{"title": "x", "status": "paused"}},
		{"project missing status", decodeWith(DecodeProject), map[string]any{"title": "x"}},
		{"project title wrong type", decodeWith(DecodeProject), map[string]any{"title": 7, "status": "booking"}},
		{"role without project", decodeWith(DecodeRole), map[string]any{"name": "Waiter"}},
		{"role flag wrong type", decodeWith(DecodeRole), map[string]any{"projectId": "p1", "archivedIndividually": "yes"}},
		{"submission without project", decodeWith(DecodeSubmission), map[string]any{"roleId": "r1"}},
		{"submission status wrong type", decodeWith(DecodeSubmission), map[string]any{"projectId": "p1", "status": 3}},
		{"booking without role", decodeWith(DecodeBooking), map[string]any{"projectId": "p1", "status": "pending"}},
		{"booking without project", decodeWith(DecodeBooking), map[string]any{"roleId": "r1", "status": "pending"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.decode(store.Document{ID: "x1", Data: tc.data})
			require.ErrorIs(t, err, ErrMalformed)
			var me *MalformedError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, "x1", me.ID)
		})
	}
}

func decodeWith[T any](fn func(store.Document) (T, error)) func(store.Document) error {
	return func(doc store.Document) error {
		_, err := fn(doc)
		return err
	}
}

func TestDecodeAcceptsLegacyAndPartialDocuments(t *testing.T) {
	s, err := DecodeSubmission(store.Document{ID: "s1", Data: map[string]any{"projectId": "p1", "status": "reviewed"}})
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, domain.SubmissionStatus("reviewed"), s.Status)

	b, err := DecodeBooking(store.Document{ID: "b1", Data: map[string]any{
		"projectId": "p1", "roleId": "r1", "status": "pending", "talentProfile": map[string]any{"firstName": "Ada"},
	}})
	require.NoError(t, err)
	require.NotNil(t, b.TalentProfile)
	assert.NotNil(t, b.TalentProfile.Physical)
}

func TestRepoReads(t *testing.T) {
	ctx := context.Background()
	st := memory.New(0)
	require.NoError(t, st.Seed(store.Roles, "r1", map[string]any{"projectId": "p1", "name": "Waiter"}))
	require.NoError(t, st.Seed(store.Bookings, "b1", map[string]any{"projectId": "p1", "roleId": "r1", "status": "pending"}))
	require.NoError(t, st.Seed(store.Bookings, "b2", map[string]any{"projectId": "p1", "roleId": "r1", "status": "completed", "archivedWithProject": true}))
	require.NoError(t, st.Seed(store.Bookings, "b3", map[string]any{"projectId": "p1", "roleId": "r2", "status": "pending"}))
	r := Repo{Store: st}

	role, err := r.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Waiter", role.Name)

	_, err = r.GetRole(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := r.CountActiveBookings(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
