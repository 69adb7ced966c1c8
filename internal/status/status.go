// Package status validates status changes for projects, submissions and
// bookings and maps legacy submission statuses. It performs no I/O.
package status

import (
	"errors"
	"fmt"

	"castline/internal/domain"
)

var ErrIllegalTransition = errors.New("illegal transition")

// IllegalTransitionError describes a rejected status change.
type IllegalTransitionError struct {
	Kind string
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s status transition %s -> %s", e.Kind, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

var projectRank = map[domain.ProjectStatus]int{
	domain.ProjectBooking:  1,
	domain.ProjectBooked:   2,
	domain.ProjectArchived: 3,
}

// Project accepts only forward moves along booking -> booked -> archived.
// Skipping ahead is allowed; archived is terminal.
func Project(from, to domain.ProjectStatus) (domain.ProjectStatus, error) {
	fromRank, okFrom := projectRank[from]
	toRank, okTo := projectRank[to]
	if !okFrom || !okTo || toRank <= fromRank {
		return from, &IllegalTransitionError{Kind: "project", From: string(from), To: string(to)}
	}
	return to, nil
}

var submissionEdges = map[domain.SubmissionStatus][]domain.SubmissionStatus{
	domain.SubmissionNew:      {domain.SubmissionPinned, domain.SubmissionBooked, domain.SubmissionRejected, domain.SubmissionArchived},
	domain.SubmissionPinned:   {domain.SubmissionNew, domain.SubmissionBooked, domain.SubmissionRejected, domain.SubmissionArchived},
	domain.SubmissionBooked:   {domain.SubmissionArchived},
	domain.SubmissionRejected: {domain.SubmissionNew, domain.SubmissionPinned, domain.SubmissionArchived},
	domain.SubmissionArchived: {domain.SubmissionNew},
}

func Submission(from, to domain.SubmissionStatus) (domain.SubmissionStatus, error) {
	for _, next := range submissionEdges[from] {
		if next == to {
			return to, nil
		}
	}
	return from, &IllegalTransitionError{Kind: "submission", From: from.String(), To: to.String()}
}

var bookingEdges = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingPending:   {domain.BookingConfirmed, domain.BookingCancelled},
	domain.BookingConfirmed: {domain.BookingCompleted, domain.BookingCancelled},
}

func Booking(from, to domain.BookingStatus) (domain.BookingStatus, error) {
	for _, next := range bookingEdges[from] {
		if next == to {
			return to, nil
		}
	}
	return from, &IllegalTransitionError{Kind: "booking", From: string(from), To: string(to)}
}
