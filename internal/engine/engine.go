package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"castline/internal/config"
	"castline/internal/events"
	"castline/internal/metrics"
	"castline/internal/repo"
	"castline/internal/store"
)

// Engine runs the casting workflow operations. It holds no mutable state of
// its own; the store is the only shared resource.
type Engine struct {
	Store   store.Store
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
	NewID   func() string
	// Backoff builds the retry schedule for one chunk; nil uses the
	// exponential schedule from Config.Retry.
	Backoff func() backoff.BackOff
}

func New(st store.Store, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		Store:  st,
		Repo:   repo.Repo{Store: st},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
	e.Events = events.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// EntityClass names a collection processed as one unit of a multi-entity
// operation.
type EntityClass string

const (
	ClassProjects    EntityClass = "projects"
	ClassRoles       EntityClass = "roles"
	ClassBookings    EntityClass = "bookings"
	ClassSubmissions EntityClass = "submissions"
	ClassEvents      EntityClass = "audit_events"
)

var (
	ErrAlreadyArchived              = errors.New("already archived")
	ErrCannotRestoreProjectArchived = errors.New("role was archived with its project; restore the project instead")
	ErrHasActiveBookings            = errors.New("role has active bookings")
	ErrCascadeIncomplete            = errors.New("cascade incomplete")
	ErrParentArchived               = errors.New("parent entity is archived")
	ErrActorRequired                = errors.New("actor is required")
)

// HasActiveBookingsError refuses an individual role archive.
type HasActiveBookingsError struct {
	RoleID string
	Count  int
}

func (e *HasActiveBookingsError) Error() string {
	return fmt.Sprintf("role %s has %d active booking(s)", e.RoleID, e.Count)
}

func (e *HasActiveBookingsError) Is(target error) bool { return target == ErrHasActiveBookings }

// CascadeIncompleteError reports an entity class whose chunks could not all
// be committed. Succeeded mutations stay committed.
type CascadeIncompleteError struct {
	Class     EntityClass
	Succeeded int
	Failed    int
	Err       error
}

func (e *CascadeIncompleteError) Error() string {
	return fmt.Sprintf("%s incomplete: %d succeeded, %d failed: %v", e.Class, e.Succeeded, e.Failed, e.Err)
}

func (e *CascadeIncompleteError) Unwrap() error { return e.Err }

func (e *CascadeIncompleteError) Is(target error) bool { return target == ErrCascadeIncomplete }

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
