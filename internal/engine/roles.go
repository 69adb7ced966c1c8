package engine

import (
	"context"
	"fmt"

	"castline/internal/domain"
	"castline/internal/events"
	"castline/internal/store"
)

// RoleArchiveResult describes an individual role archive or restore.
type RoleArchiveResult struct {
	RoleID          string      `json:"roleId"`
	ProjectID       string      `json:"projectId"`
	AlreadyArchived bool        `json:"alreadyArchived,omitempty"`
	AlreadyRestored bool        `json:"alreadyRestored,omitempty"`
	Submissions     ClassResult `json:"submissions"`
}

// ActiveBookingCount counts bookings on the role that were not archived with
// their project. Read errors are returned.
func (e Engine) ActiveBookingCount(ctx context.Context, roleID string) (int, error) {
	return e.Repo.CountActiveBookings(ctx, roleID)
}

// GetActiveBookingCount is the dashboard read. With
// roles.booking_count_fail_open set, a failed read is logged and reported as
// zero.
func (e Engine) GetActiveBookingCount(ctx context.Context, roleID string) (int, error) {
	n, err := e.ActiveBookingCount(ctx, roleID)
	if err != nil {
		if e.config().Roles.BookingCountFailOpen {
			e.logger().Warn("active booking count unavailable; reporting zero", "role_id", roleID, "err", err)
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// ArchiveRole archives one role independently of its project. It is refused
// while any booking on the role is active. The role's submissions are loaded
// and decoded before anything is written, so a malformed submission blocks
// the archive. Non-project-archived submissions are archived after the role
// commits; running it again on an individually archived role re-applies that
// sweep so an interrupted archive can be finished.
func (e Engine) ArchiveRole(ctx context.Context, roleID, actorID, reason string) (RoleArchiveResult, error) {
	if actorID == "" {
		return RoleArchiveResult{}, ErrActorRequired
	}
	r, err := e.Repo.GetRole(ctx, roleID)
	if err != nil {
		return RoleArchiveResult{}, err
	}
	if r.ArchivedWithProject {
		return RoleArchiveResult{}, fmt.Errorf("role %s: %w", roleID, ErrAlreadyArchived)
	}
	log := e.logger().With("role_id", roleID, "project_id", r.ProjectID, "actor_id", actorID)
	res := RoleArchiveResult{RoleID: roleID, ProjectID: r.ProjectID, AlreadyArchived: r.ArchivedIndividually}

	if !r.ArchivedIndividually {
		count, err := e.ActiveBookingCount(ctx, roleID)
		if err != nil {
			if !e.config().Roles.ArchiveFailOpen {
				return RoleArchiveResult{}, fmt.Errorf("count active bookings for role %s: %w", roleID, err)
			}
			log.Warn("active booking check failed; archiving anyway", "err", err)
			count = 0
		}
		if count > 0 {
			return RoleArchiveResult{}, &HasActiveBookingsError{RoleID: roleID, Count: count}
		}
	}

	subs, err := e.Repo.ListSubmissionsByRole(ctx, roleID)
	if err != nil {
		return RoleArchiveResult{}, fmt.Errorf("load submissions for role %s: %w", roleID, err)
	}

	now := e.timestamp()
	if !r.ArchivedIndividually {
		fields := map[string]any{
			"archivedIndividually": true,
			"archivedWithProject":  false,
			"archivedAt":           now,
			"archivedBy":           actorID,
			"updatedAt":            now,
		}
		var remove []string
		payload := events.EventPayload{}
		if reason != "" {
			fields["archiveReason"] = reason
			payload["reason"] = reason
		} else {
			remove = append(remove, "archiveReason")
		}
		roleBatch := []store.Mutation{
			store.Update(store.Roles, roleID, fields, remove...),
			e.Events.Mutation("role.archive", r.ProjectID, "role", roleID, actorID, payload),
		}
		if err := e.commitChunk(ctx, ClassRoles, 0, roleBatch); err != nil {
			return RoleArchiveResult{}, fmt.Errorf("archive role %s: %w", roleID, err)
		}
	}

	var muts []store.Mutation
	for _, s := range subs {
		if s.ArchivedWithProject {
			continue
		}
		muts = append(muts, store.Update(store.Submissions, s.ID, map[string]any{
			"status":               string(domain.SubmissionArchived),
			"archivedIndividually": true,
			"updatedAt":            now,
		}))
	}
	res.Submissions, err = e.writeClass(ctx, ClassSubmissions, muts)
	if err != nil {
		log.Error("role archived with submissions incomplete", "err", err)
		return res, err
	}
	log.Info("role archived", "submissions", res.Submissions.Succeeded, "already_archived", res.AlreadyArchived)
	return res, nil
}

// RestoreRole reverses an individual archive. Roles archived with their
// project must be restored at the project level. archivedAt and archivedBy
// are kept; restored submissions always return to new. Restoring a live role
// re-applies the submission reset so an interrupted restore can be finished.
func (e Engine) RestoreRole(ctx context.Context, roleID, actorID string) (RoleArchiveResult, error) {
	r, err := e.Repo.GetRole(ctx, roleID)
	if err != nil {
		return RoleArchiveResult{}, err
	}
	if r.ArchivedWithProject {
		return RoleArchiveResult{}, fmt.Errorf("role %s: %w", roleID, ErrCannotRestoreProjectArchived)
	}
	log := e.logger().With("role_id", roleID, "project_id", r.ProjectID, "actor_id", actorID)
	res := RoleArchiveResult{RoleID: roleID, ProjectID: r.ProjectID}
	now := e.timestamp()

	if r.ArchivedIndividually {
		roleBatch := []store.Mutation{
			store.Update(store.Roles, roleID, map[string]any{
				"archivedIndividually": false,
				"updatedAt":            now,
			}, "archiveReason"),
			e.Events.Mutation("role.restore", r.ProjectID, "role", roleID, actorID, nil),
		}
		if err := e.commitChunk(ctx, ClassRoles, 0, roleBatch); err != nil {
			return RoleArchiveResult{}, fmt.Errorf("restore role %s: %w", roleID, err)
		}
	} else {
		res.AlreadyRestored = true
	}

	docs, err := e.Store.Query(ctx, store.Submissions, store.Eq("roleId", roleID), store.Eq("archivedIndividually", true))
	if err != nil {
		res.Submissions, err = failClass(ClassSubmissions, fmt.Errorf("query submissions: %w", err))
		log.Error("role restored but submissions not loaded", "err", err)
		return res, err
	}
	muts := make([]store.Mutation, 0, len(docs))
	for _, doc := range docs {
		muts = append(muts, store.Update(store.Submissions, doc.ID, map[string]any{
			"status":               domain.SubmissionNew.Value(),
			"archivedIndividually": false,
			"updatedAt":            now,
		}))
	}
	res.Submissions, err = e.writeClass(ctx, ClassSubmissions, muts)
	if err != nil {
		log.Error("role restored with submissions incomplete", "err", err)
		return res, err
	}
	log.Info("role restored", "submissions", res.Submissions.Succeeded, "already_restored", res.AlreadyRestored)
	return res, nil
}
