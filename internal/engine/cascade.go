package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"castline/internal/domain"
	"castline/internal/events"
	"castline/internal/repo"
	"castline/internal/status"
	"castline/internal/store"
)

// CascadeResult reports a cascade archive per entity class. Error holds the
// first failure; later classes are still attempted.
type CascadeResult struct {
	ProjectID       string        `json:"projectId"`
	ActorID         string        `json:"actorId"`
	AlreadyArchived bool          `json:"alreadyArchived"`
	ArchivedAt      string        `json:"archivedAt"`
	Classes         []ClassResult `json:"classes"`
	Incomplete      bool          `json:"incomplete"`
	Error           string        `json:"error,omitempty"`
}

// Class returns the result recorded for class, if any.
func (r CascadeResult) Class(class EntityClass) (ClassResult, bool) {
	for _, c := range r.Classes {
		if c.Class == class {
			return c, true
		}
	}
	return ClassResult{}, false
}

// CascadeArchiveProject archives a project and propagates the archive to its
// roles, bookings and submissions. The project batch commits before any
// dependent batch. Re-running on an archived project re-applies the
// dependent writes with the original archive timestamp and actor, which
// completes an earlier partial cascade without changing finished entities.
func (e Engine) CascadeArchiveProject(ctx context.Context, projectID, actorID string) (CascadeResult, error) {
	if actorID == "" {
		return CascadeResult{}, ErrActorRequired
	}
	started := time.Now()
	log := e.logger().With("project_id", projectID, "actor_id", actorID)
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return CascadeResult{}, err
	}
	res := CascadeResult{ProjectID: projectID, ActorID: actorID}
	var firstErr error
	record := func(cr ClassResult, err error) {
		res.Classes = append(res.Classes, cr)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.Status == domain.ProjectArchived {
		res.AlreadyArchived = true
		res.ArchivedAt = deref(p.ArchivedAt)
		if res.ArchivedAt == "" {
			res.ArchivedAt = e.timestamp()
		}
		if by := deref(p.ArchivedBy); by != "" {
			actorID = by
		}
		log.Info("project already archived; re-applying dependent archive")
	} else {
		if _, err := status.Project(p.Status, domain.ProjectArchived); err != nil {
			return CascadeResult{}, err
		}
		res.ArchivedAt = e.timestamp()
		muts := []store.Mutation{
			store.Update(store.Projects, p.ID, map[string]any{
				"status":     string(domain.ProjectArchived),
				"archivedAt": res.ArchivedAt,
				"archivedBy": actorID,
				"updatedAt":  res.ArchivedAt,
			}),
			e.Events.Mutation("project.archive", p.ID, "project", p.ID, actorID, events.EventPayload{
				"from": string(p.Status),
				"to":   string(domain.ProjectArchived),
			}),
		}
		// Only the project document counts; the event rides along.
		cr := ClassResult{Class: ClassProjects, Matched: 1}
		if err := e.commitChunk(ctx, ClassProjects, 0, muts); err != nil {
			cr.Failed = 1
			incomplete := &CascadeIncompleteError{Class: ClassProjects, Failed: 1, Err: err}
			cr.Error = incomplete.Error()
			record(cr, incomplete)
			// Dependents are never archived under a live project.
			return e.finishCascade(log, started, res, firstErr)
		}
		cr.Succeeded, cr.Batches = 1, 1
		record(cr, nil)
	}

	stamp := res.ArchivedAt
	record(e.archiveDependents(ctx, ClassRoles, store.Roles, projectID, func(doc store.Document) store.Mutation {
		return store.Update(store.Roles, doc.ID, map[string]any{
			"archivedWithProject":  true,
			"archivedIndividually": false,
			"archivedAt":           stamp,
			"archivedBy":           actorID,
			"updatedAt":            stamp,
		})
	}))
	record(e.archiveDependents(ctx, ClassBookings, store.Bookings, projectID, func(doc store.Document) store.Mutation {
		return store.Update(store.Bookings, doc.ID, map[string]any{
			"status":              string(domain.BookingCompleted),
			"archivedWithProject": true,
			"updatedAt":           stamp,
		})
	}))
	record(e.archiveDependents(ctx, ClassSubmissions, store.Submissions, projectID, func(doc store.Document) store.Mutation {
		return store.Update(store.Submissions, doc.ID, map[string]any{
			"status":               string(domain.SubmissionArchived),
			"archivedWithProject":  true,
			"archivedIndividually": false,
			"updatedAt":            stamp,
		})
	}))
	return e.finishCascade(log, started, res, firstErr)
}

func (e Engine) archiveDependents(ctx context.Context, class EntityClass, collection, projectID string, build func(store.Document) store.Mutation) (ClassResult, error) {
	docs, err := e.Store.Query(ctx, collection, store.Eq("projectId", projectID))
	if err != nil {
		e.logger().Error("load dependents failed", "project_id", projectID, "entity_class", class, "err", err)
		return failClass(class, fmt.Errorf("query %s: %w", collection, err))
	}
	muts := make([]store.Mutation, 0, len(docs))
	for _, doc := range docs {
		muts = append(muts, build(doc))
	}
	return e.writeClass(ctx, class, muts)
}

func (e Engine) finishCascade(log *slog.Logger, started time.Time, res CascadeResult, firstErr error) (CascadeResult, error) {
	res.Incomplete = firstErr != nil
	if firstErr != nil {
		res.Error = firstErr.Error()
	}
	e.Metrics.CascadeFinished(started, res.Incomplete)
	attrs := []any{"already_archived", res.AlreadyArchived, "duration", time.Since(started)}
	for _, c := range res.Classes {
		attrs = append(attrs, string(c.Class), fmt.Sprintf("%d/%d", c.Succeeded, c.Matched))
	}
	if res.Incomplete {
		log.Warn("cascade archive incomplete", append(attrs, "err", firstErr)...)
		return res, firstErr
	}
	log.Info("cascade archive finished", attrs...)
	return res, nil
}

// liveParents loads the project and role a child entity hangs off and
// refuses when either is archived.
func (e Engine) liveParents(ctx context.Context, projectID, roleID string) (domain.Project, domain.Role, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, domain.Role{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	if p.Status == domain.ProjectArchived {
		return p, domain.Role{}, fmt.Errorf("project %s: %w", projectID, ErrParentArchived)
	}
	r, err := e.Repo.GetRole(ctx, roleID)
	if err != nil {
		return p, r, fmt.Errorf("role %s: %w", roleID, err)
	}
	if r.Archived() {
		return p, r, fmt.Errorf("role %s: %w", roleID, ErrParentArchived)
	}
	if r.ProjectID != p.ID {
		return p, r, &repo.MalformedError{Collection: store.Roles, ID: r.ID, Reason: fmt.Sprintf("role belongs to project %s, not %s", r.ProjectID, p.ID)}
	}
	return p, r, nil
}
