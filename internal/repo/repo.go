package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"castline/internal/domain"
	"castline/internal/store"
)

// Repo is the typed access layer over the document store. It never caches:
// every call reflects the latest stored state.
type Repo struct {
	Store store.Store
}

var ErrNotFound = store.ErrNotFound

var ErrMalformed = errors.New("malformed document")

// MalformedError reports a stored document that cannot be decoded into its
// entity type.
type MalformedError struct {
	Collection string
	ID         string
	Reason     string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s/%s: %s", e.Collection, e.ID, e.Reason)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

func decode(doc store.Document, collection string, out any) error {
	b, err := json.Marshal(doc.Data)
	if err != nil {
		return &MalformedError{Collection: collection, ID: doc.ID, Reason: err.Error()}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &MalformedError{Collection: collection, ID: doc.ID, Reason: err.Error()}
	}
	return nil
}

// Encode converts an entity into a document body; the id lives in the key.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	delete(data, "id")
	return data, nil
}

func DecodeProject(doc store.Document) (domain.Project, error) {
	var p domain.Project
	if err := decode(doc, store.Projects, &p); err != nil {
		return p, err
	}
	p.ID = doc.ID
	if !p.Status.Valid() {
		return p, &MalformedError{Collection: store.Projects, ID: doc.ID, Reason: fmt.Sprintf("unknown status %q", p.Status)}
	}
	return p, nil
}

func DecodeRole(doc store.Document) (domain.Role, error) {
	var r domain.Role
	if err := decode(doc, store.Roles, &r); err != nil {
		return r, err
	}
	r.ID = doc.ID
	if r.ProjectID == "" {
		return r, &MalformedError{Collection: store.Roles, ID: doc.ID, Reason: "projectId is required"}
	}
	return r, nil
}

// DecodeSubmission accepts any stored status string so legacy values survive
// until the status migration rewrites them.
func DecodeSubmission(doc store.Document) (domain.Submission, error) {
	var s domain.Submission
	if err := decode(doc, store.Submissions, &s); err != nil {
		return s, err
	}
	s.ID = doc.ID
	if s.ProjectID == "" {
		return s, &MalformedError{Collection: store.Submissions, ID: doc.ID, Reason: "projectId is required"}
	}
	return s, nil
}

func DecodeBooking(doc store.Document) (domain.Booking, error) {
	var b domain.Booking
	if err := decode(doc, store.Bookings, &b); err != nil {
		return b, err
	}
	b.ID = doc.ID
	if b.ProjectID == "" || b.RoleID == "" {
		return b, &MalformedError{Collection: store.Bookings, ID: doc.ID, Reason: "projectId and roleId are required"}
	}
	if b.TalentProfile != nil {
		b.TalentProfile.Normalize()
	}
	return b, nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	doc, err := r.Store.Get(ctx, store.Projects, id)
	if err != nil {
		return domain.Project{}, err
	}
	return DecodeProject(doc)
}

func (r Repo) GetRole(ctx context.Context, id string) (domain.Role, error) {
	doc, err := r.Store.Get(ctx, store.Roles, id)
	if err != nil {
		return domain.Role{}, err
	}
	return DecodeRole(doc)
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	doc, err := r.Store.Get(ctx, store.Submissions, id)
	if err != nil {
		return domain.Submission{}, err
	}
	return DecodeSubmission(doc)
}

func (r Repo) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	doc, err := r.Store.Get(ctx, store.Bookings, id)
	if err != nil {
		return domain.Booking{}, err
	}
	return DecodeBooking(doc)
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	docs, err := r.Store.Query(ctx, store.Projects)
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, DecodeProject)
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	docs, err := r.Store.Query(ctx, store.Roles)
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, DecodeRole)
}

func (r Repo) ListRolesByProject(ctx context.Context, projectID string) ([]domain.Role, error) {
	docs, err := r.Store.Query(ctx, store.Roles, store.Eq("projectId", projectID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, DecodeRole)
}

func (r Repo) ListSubmissions(ctx context.Context) ([]domain.Submission, error) {
	docs, err := r.Store.Query(ctx, store.Submissions)
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, DecodeSubmission)
}

func (r Repo) ListSubmissionsByProject(ctx context.Context, projectID string) ([]domain.Submission, error) {
	docs, err := r.Store.Query(ctx, store.Submissions, store.Eq("projectId", projectID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, DecodeSubmission)
}

func (r Repo) ListSubmissionsByRole(ctx context.Context, roleID string) ([]domain.Submission, error) {
	docs, err := r.Store.Query(ctx, store.Submissions, store.Eq("roleId", roleID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, DecodeSubmission)
}

// ListSubmissionDocuments returns raw submission bodies, including fields the
// typed entity no longer models (the legacy pinned flag).
func (r Repo) ListSubmissionDocuments(ctx context.Context) ([]store.Document, error) {
	return r.Store.Query(ctx, store.Submissions)
}

func (r Repo) ListBookingsByProject(ctx context.Context, projectID string) ([]domain.Booking, error) {
	docs, err := r.Store.Query(ctx, store.Bookings, store.Eq("projectId", projectID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, DecodeBooking)
}

func (r Repo) ListBookingsByRole(ctx context.Context, roleID string) ([]domain.Booking, error) {
	docs, err := r.Store.Query(ctx, store.Bookings, store.Eq("roleId", roleID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, DecodeBooking)
}

// CountActiveBookings counts bookings on the role that were not archived with
// their project. Documents missing the flag count as active.
func (r Repo) CountActiveBookings(ctx context.Context, roleID string) (int, error) {
	bookings, err := r.ListBookingsByRole(ctx, roleID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range bookings {
		if b.Active() {
			n++
		}
	}
	return n, nil
}

// LatestEvents returns up to n audit events, newest first.
func (r Repo) LatestEvents(ctx context.Context, n int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	var filters []store.Filter
	if projectID != "" {
		filters = append(filters, store.Eq("projectId", projectID))
	}
	if evtType != "" {
		filters = append(filters, store.Eq("type", evtType))
	}
	if entityKind != "" {
		filters = append(filters, store.Eq("entityKind", entityKind))
	}
	if entityID != "" {
		filters = append(filters, store.Eq("entityId", entityID))
	}
	docs, err := r.Store.Query(ctx, store.AuditEvents, filters...)
	if err != nil {
		return nil, err
	}
	events, err := decodeAll(docs, func(doc store.Document) (domain.Event, error) {
		var e domain.Event
		if err := decode(doc, store.AuditEvents, &e); err != nil {
			return e, err
		}
		e.ID = doc.ID
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS > events[j].TS })
	if n > 0 && len(events) > n {
		events = events[:n]
	}
	return events, nil
}

func decodeAll[T any](docs []store.Document, fn func(store.Document) (T, error)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := fn(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
