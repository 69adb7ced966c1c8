package engine

import (
	"context"
	"fmt"

	"castline/internal/domain"
	"castline/internal/events"
	"castline/internal/repo"
	"castline/internal/status"
	"castline/internal/store"
)

// ProjectAdvance is the result of a project status change. Cascade is set
// when the request archived the project.
type ProjectAdvance struct {
	Project domain.Project `json:"project"`
	Cascade *CascadeResult `json:"cascade,omitempty"`
}

// AdvanceProject moves a project forward. Archiving goes through the
// cascade archiver.
func (e Engine) AdvanceProject(ctx context.Context, projectID string, to domain.ProjectStatus, actorID string) (ProjectAdvance, error) {
	if actorID == "" {
		return ProjectAdvance{}, ErrActorRequired
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ProjectAdvance{}, err
	}
	if _, err := status.Project(p.Status, to); err != nil {
		return ProjectAdvance{}, err
	}
	if to == domain.ProjectArchived {
		res, err := e.CascadeArchiveProject(ctx, projectID, actorID)
		out := ProjectAdvance{Cascade: &res}
		if p, gerr := e.Repo.GetProject(ctx, projectID); gerr == nil {
			out.Project = p
		}
		return out, err
	}
	now := e.timestamp()
	muts := []store.Mutation{
		store.Update(store.Projects, projectID, map[string]any{"status": string(to), "updatedAt": now}),
		e.Events.Mutation("project.status", projectID, "project", projectID, actorID, events.EventPayload{
			"from": string(p.Status),
			"to":   string(to),
		}),
	}
	if err := e.commitChunk(ctx, ClassProjects, 0, muts); err != nil {
		return ProjectAdvance{}, fmt.Errorf("advance project %s: %w", projectID, err)
	}
	p.Status = to
	p.UpdatedAt = now
	return ProjectAdvance{Project: p}, nil
}

// SetSubmissionStatus applies a staff status change. Booking a submission
// delegates to BookSubmission. Submissions under an archived project or role
// only accept archived.
func (e Engine) SetSubmissionStatus(ctx context.Context, submissionID string, to domain.SubmissionStatus, actorID string) (domain.Submission, error) {
	if actorID == "" {
		return domain.Submission{}, ErrActorRequired
	}
	if to == domain.SubmissionBooked {
		if _, err := e.BookSubmission(ctx, submissionID, actorID); err != nil {
			return domain.Submission{}, err
		}
		return e.Repo.GetSubmission(ctx, submissionID)
	}
	s, err := e.Repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return s, err
	}
	if _, err := status.Submission(s.Status, to); err != nil {
		return s, err
	}
	if to != domain.SubmissionArchived {
		if s.ArchivedWithProject || s.ArchivedIndividually {
			return s, fmt.Errorf("submission %s: %w", submissionID, ErrParentArchived)
		}
		if r, err := e.Repo.GetRole(ctx, s.RoleID); err == nil && r.Archived() {
			return s, fmt.Errorf("role %s: %w", s.RoleID, ErrParentArchived)
		}
	}
	now := e.timestamp()
	muts := []store.Mutation{
		store.Update(store.Submissions, submissionID, map[string]any{"status": to.Value(), "updatedAt": now}),
		e.Events.Mutation("submission.status", s.ProjectID, "submission", submissionID, actorID, events.EventPayload{
			"from": s.Status.String(),
			"to":   to.String(),
		}),
	}
	if err := e.commitChunk(ctx, ClassSubmissions, 0, muts); err != nil {
		return s, fmt.Errorf("update submission %s: %w", submissionID, err)
	}
	s.Status = to
	s.UpdatedAt = now
	return s, nil
}

// BookSubmission accepts a submission: it creates a pending booking with a
// sanitized talent profile and marks the submission booked in one batch.
func (e Engine) BookSubmission(ctx context.Context, submissionID, actorID string) (domain.Booking, error) {
	if actorID == "" {
		return domain.Booking{}, ErrActorRequired
	}
	s, err := e.Repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.Booking{}, err
	}
	if _, err := status.Submission(s.Status, domain.SubmissionBooked); err != nil {
		return domain.Booking{}, err
	}
	if _, _, err := e.liveParents(ctx, s.ProjectID, s.RoleID); err != nil {
		return domain.Booking{}, err
	}
	now := e.timestamp()
	tp := domain.BuildTalentProfile(s.ProfileData)
	b := domain.Booking{
		ID:            e.newID(),
		ProjectID:     s.ProjectID,
		RoleID:        s.RoleID,
		UserID:        s.UserID,
		SubmissionID:  s.ID,
		Status:        domain.BookingPending,
		TalentProfile: &tp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	create, err := repo.CreateBooking(b)
	if err != nil {
		return domain.Booking{}, err
	}
	muts := []store.Mutation{
		create,
		store.Update(store.Submissions, s.ID, map[string]any{
			"status":    string(domain.SubmissionBooked),
			"updatedAt": now,
		}),
		e.Events.Mutation("booking.create", s.ProjectID, "booking", b.ID, actorID, events.EventPayload{
			"submissionId": s.ID,
			"roleId":       s.RoleID,
			"userId":       s.UserID,
		}),
	}
	if err := e.commitChunk(ctx, ClassBookings, 0, muts); err != nil {
		return domain.Booking{}, fmt.Errorf("book submission %s: %w", submissionID, err)
	}
	e.logger().Info("submission booked", "submission_id", s.ID, "booking_id", b.ID, "role_id", s.RoleID, "actor_id", actorID)
	return b, nil
}

// SetBookingStatus moves a booking along pending -> confirmed -> completed,
// with cancellation allowed before completion. Bookings archived with their
// project are frozen.
func (e Engine) SetBookingStatus(ctx context.Context, bookingID string, to domain.BookingStatus, actorID string) (domain.Booking, error) {
	if actorID == "" {
		return domain.Booking{}, ErrActorRequired
	}
	b, err := e.Repo.GetBooking(ctx, bookingID)
	if err != nil {
		return b, err
	}
	if b.ArchivedWithProject {
		return b, fmt.Errorf("booking %s: %w", bookingID, ErrParentArchived)
	}
	if _, err := status.Booking(b.Status, to); err != nil {
		return b, err
	}
	now := e.timestamp()
	muts := []store.Mutation{
		store.Update(store.Bookings, bookingID, map[string]any{"status": string(to), "updatedAt": now}),
		e.Events.Mutation("booking.status", b.ProjectID, "booking", bookingID, actorID, events.EventPayload{
			"from": string(b.Status),
			"to":   string(to),
		}),
	}
	if err := e.commitChunk(ctx, ClassBookings, 0, muts); err != nil {
		return b, fmt.Errorf("update booking %s: %w", bookingID, err)
	}
	b.Status = to
	b.UpdatedAt = now
	return b, nil
}
