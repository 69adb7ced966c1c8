package server

import (
	"castline/internal/domain"
	"castline/internal/engine"
)

// Request payloads

type AdvanceProjectRequest struct {
	Status string `json:"status" enum:"booking,booked,archived"`
}

type ArchiveRoleRequest struct {
	Reason string `json:"reason,omitempty" maxLength:"500"`
}

type SubmissionStatusRequest struct {
	Status string `json:"status" enum:"new,pinned,booked,rejected,archived"`
}

type BookingStatusRequest struct {
	Status string `json:"status" enum:"pending,confirmed,completed,cancelled"`
}

type RepairRequest struct {
	// Report names an exported integrity report in the configured sink.
	// Fixes is used when Report is empty.
	Report string               `json:"report,omitempty"`
	Fixes  []engine.ProposedFix `json:"fixes,omitempty"`
}

type TokenRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type ProjectDetailResponse struct {
	Project domain.Project `json:"project"`
	Roles   []RoleResponse `json:"roles"`
}

type RoleResponse struct {
	domain.Role
	ActiveBookings int `json:"activeBookings"`
}

type ActiveBookingsResponse struct {
	RoleID string `json:"roleId"`
	Count  int    `json:"count"`
}

type AuditResponse struct {
	Report   engine.IntegrityReport `json:"report"`
	Location string                 `json:"location,omitempty"`
}

type CascadeResponse struct {
	engine.CascadeResult
	Location string `json:"location,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type EventsResponse struct {
	Items []domain.Event `json:"items"`
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
