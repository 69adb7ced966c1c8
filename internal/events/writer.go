package events

import (
	"time"

	"github.com/google/uuid"

	"castline/internal/store"
)

// Writer builds audit event mutations. Events ride in the same batch as the
// change they describe, so an event exists exactly when its change committed.
type Writer struct {
	Now   func() time.Time
	NewID func() string
}

type EventPayload map[string]any

func (w Writer) Mutation(evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) store.Mutation {
	if w.Now == nil {
		w.Now = time.Now
	}
	if w.NewID == nil {
		w.NewID = func() string { return uuid.NewString() }
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data := map[string]any{
		"ts":         w.Now().UTC().Format(time.RFC3339Nano),
		"type":       evtType,
		"entityKind": entityKind,
		"actorId":    actorID,
		"payload":    map[string]any(payload),
	}
	if projectID != "" {
		data["projectId"] = projectID
	}
	if entityID != "" {
		data["entityId"] = entityID
	}
	return store.Create(store.AuditEvents, w.NewID(), data)
}
