package domain

import (
	"encoding/json"
	"fmt"
)

type ProjectStatus string

const (
	ProjectBooking  ProjectStatus = "booking"
	ProjectBooked   ProjectStatus = "booked"
	ProjectArchived ProjectStatus = "archived"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectBooking, ProjectBooked, ProjectArchived:
		return true
	}
	return false
}

// SubmissionStatus is stored as null for new submissions; the zero value
// encodes that state.
type SubmissionStatus string

const (
	SubmissionNew      SubmissionStatus = ""
	SubmissionPinned   SubmissionStatus = "pinned"
	SubmissionBooked   SubmissionStatus = "booked"
	SubmissionRejected SubmissionStatus = "rejected"
	SubmissionArchived SubmissionStatus = "archived"
)

func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionNew, SubmissionPinned, SubmissionBooked, SubmissionRejected, SubmissionArchived:
		return true
	}
	return false
}

// String renders the null status as "new".
func (s SubmissionStatus) String() string {
	if s == SubmissionNew {
		return "new"
	}
	return string(s)
}

// Value is the representation written to the store.
func (s SubmissionStatus) Value() any {
	if s == SubmissionNew {
		return nil
	}
	return string(s)
}

func (s SubmissionStatus) MarshalJSON() ([]byte, error) {
	if s == SubmissionNew {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *SubmissionStatus) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = SubmissionNew
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("submission status: %w", err)
	}
	*s = SubmissionStatus(v)
	return nil
}

// ParseSubmissionStatus accepts "new" and "" for the null status.
func ParseSubmissionStatus(v string) (SubmissionStatus, error) {
	if v == "new" {
		return SubmissionNew, nil
	}
	s := SubmissionStatus(v)
	if !s.Valid() {
		return s, fmt.Errorf("unknown submission status %q", v)
	}
	return s, nil
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

type Project struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Status         ProjectStatus `json:"status" enum:"booking,booked,archived"`
	ShootDateStart string        `json:"shootDateStart,omitempty"`
	ShootDateEnd   string        `json:"shootDateEnd,omitempty"`
	ArchivedAt     *string       `json:"archivedAt,omitempty" format:"date-time"`
	ArchivedBy     *string       `json:"archivedBy,omitempty"`
	CreatedAt      string        `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt      string        `json:"updatedAt,omitempty" format:"date-time"`
}

type Role struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"projectId"`
	Name                 string  `json:"name"`
	Requirements         string  `json:"requirements,omitempty"`
	Rate                 any     `json:"rate,omitempty"`
	Date                 string  `json:"date,omitempty"`
	Location             string  `json:"location,omitempty"`
	ArchivedWithProject  bool    `json:"archivedWithProject"`
	ArchivedIndividually bool    `json:"archivedIndividually"`
	ArchiveReason        *string `json:"archiveReason,omitempty"`
	ArchivedAt           *string `json:"archivedAt,omitempty" format:"date-time"`
	ArchivedBy           *string `json:"archivedBy,omitempty"`
	CreatedAt            string  `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt            string  `json:"updatedAt,omitempty" format:"date-time"`
}

// Archived reports whether the role is archived through either path.
func (r Role) Archived() bool {
	return r.ArchivedWithProject || r.ArchivedIndividually
}

type Submission struct {
	ID                   string           `json:"id"`
	UserID               string           `json:"userId"`
	RoleID               string           `json:"roleId"`
	RoleName             string           `json:"roleName"`
	ProjectID            string           `json:"projectId"`
	ProjectTitle         string           `json:"projectTitle,omitempty"`
	Status               SubmissionStatus `json:"status"`
	ProfileData          map[string]any   `json:"profileData,omitempty"`
	ArchivedWithProject  bool             `json:"archivedWithProject"`
	ArchivedIndividually bool             `json:"archivedIndividually"`
	CreatedAt            string           `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt            string           `json:"updatedAt,omitempty" format:"date-time"`
}

type Booking struct {
	ID                  string         `json:"id"`
	ProjectID           string         `json:"projectId"`
	RoleID              string         `json:"roleId"`
	UserID              string         `json:"userId"`
	SubmissionID        string         `json:"submissionId,omitempty"`
	Status              BookingStatus  `json:"status" enum:"pending,confirmed,completed,cancelled"`
	TalentProfile       *TalentProfile `json:"talentProfile,omitempty"`
	ArchivedWithProject bool           `json:"archivedWithProject"`
	CreatedAt           string         `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt           string         `json:"updatedAt,omitempty" format:"date-time"`
}

// Active bookings block individual role archiving.
func (b Booking) Active() bool {
	return !b.ArchivedWithProject
}

type Event struct {
	ID         string         `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"projectId,omitempty"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId,omitempty"`
	ActorID    string         `json:"actorId"`
	Payload    map[string]any `json:"payload,omitempty"`
}
