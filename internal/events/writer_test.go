package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"castline/internal/store"
)

func TestMutation(t *testing.T) {
	w := Writer{
		Now:   func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string { return "evt-1" },
	}
	m := w.Mutation("role.archived", "p1", "role", "r1", "alice", EventPayload{"reason": "cut"})
	assert.Equal(t, store.AuditEvents, m.Collection)
	assert.Equal(t, "evt-1", m.ID)
	assert.Equal(t, "2024-05-01T12:00:00Z", m.Data["ts"])
	assert.Equal(t, "p1", m.Data["projectId"])
	assert.Equal(t, "r1", m.Data["entityId"])
	assert.Equal(t, map[string]any{"reason": "cut"}, m.Data["payload"])
}

func TestMutationOmitsEmptyRefs(t *testing.T) {
	m := Writer{}.Mutation("integrity.repaired", "", "submission", "", "bob", nil)
	assert.NotEmpty(t, m.ID)
	assert.NotContains(t, m.Data, "projectId")
	assert.NotContains(t, m.Data, "entityId")
	assert.Equal(t, map[string]any{}, m.Data["payload"])
}
