// Package castlinesdk is a minimal client for the castline admin API.
package castlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal castline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     30 * time.Second,
	}
}

// Project is the API project model (partial).
type Project struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	ArchivedAt *string `json:"archivedAt,omitempty"`
	ArchivedBy *string `json:"archivedBy,omitempty"`
}

// Role is the API role model (partial).
type Role struct {
	ID                   string `json:"id"`
	ProjectID            string `json:"projectId"`
	Name                 string `json:"name"`
	ArchivedWithProject  bool   `json:"archivedWithProject"`
	ArchivedIndividually bool   `json:"archivedIndividually"`
	ActiveBookings       int    `json:"activeBookings"`
}

// Booking is the API booking model (partial).
type Booking struct {
	ID           string `json:"id"`
	ProjectID    string `json:"projectId"`
	RoleID       string `json:"roleId"`
	UserID       string `json:"userId"`
	SubmissionID string `json:"submissionId,omitempty"`
	Status       string `json:"status"`
}

// ClassResult reports the writes made to one entity class.
type ClassResult struct {
	Class     string `json:"entityClass"`
	Matched   int    `json:"matched"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Batches   int    `json:"batches"`
	Error     string `json:"error,omitempty"`
}

// CascadeResult is returned by ArchiveProject. Incomplete results are not
// errors; call ArchiveProject again to finish them.
type CascadeResult struct {
	ProjectID       string        `json:"projectId"`
	ActorID         string        `json:"actorId"`
	AlreadyArchived bool          `json:"alreadyArchived"`
	ArchivedAt      string        `json:"archivedAt"`
	Classes         []ClassResult `json:"classes"`
	Incomplete      bool          `json:"incomplete"`
	Error           string        `json:"error,omitempty"`
	Location        string        `json:"location,omitempty"`
}

// RoleResult is returned by ArchiveRole and RestoreRole.
type RoleResult struct {
	RoleID          string      `json:"roleId"`
	ProjectID       string      `json:"projectId"`
	AlreadyArchived bool        `json:"alreadyArchived,omitempty"`
	AlreadyRestored bool        `json:"alreadyRestored,omitempty"`
	Submissions     ClassResult `json:"submissions"`
}

// Fix proposes a new roleId for an orphaned submission.
type Fix struct {
	SubmissionID string `json:"submissionId"`
	ProjectID    string `json:"projectId"`
	RoleName     string `json:"roleName"`
	FromRoleID   string `json:"fromRoleId"`
	ToRoleID     string `json:"toRoleId"`
}

// IntegrityReport is the result of an audit.
type IntegrityReport struct {
	GeneratedAt        string `json:"generatedAt"`
	SubmissionsScanned int    `json:"submissionsScanned"`
	Counts             struct {
		Valid              int `json:"valid"`
		OrphanedFixable    int `json:"orphanedFixable"`
		OrphanedUnresolved int `json:"orphanedUnresolved"`
	} `json:"counts"`
	Fixes      []Fix            `json:"fixes"`
	Unresolved []map[string]any `json:"unresolved"`
}

// RepairResult reports a repair pass.
type RepairResult struct {
	Requested int              `json:"requested"`
	Applied   int              `json:"applied"`
	Skipped   []map[string]any `json:"skipped"`
	Writes    ClassResult      `json:"writes"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListProjects lists projects, optionally filtered by status.
func (c *Client) ListProjects(ctx context.Context, status string) ([]Project, error) {
	endpoint := "projects"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ArchiveProject archives a project and its dependents.
func (c *Client) ArchiveProject(ctx context.Context, projectID string, export bool) (CascadeResult, error) {
	endpoint := fmt.Sprintf("projects/%s/archive", url.PathEscape(projectID))
	if export {
		endpoint += "?export=true"
	}
	var resp CascadeResult
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ActiveBookings returns the dashboard booking count for a role.
func (c *Client) ActiveBookings(ctx context.Context, roleID string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("roles/%s/active-bookings", url.PathEscape(roleID)), nil, &resp)
	return resp.Count, err
}

// ArchiveRole archives a single role.
func (c *Client) ArchiveRole(ctx context.Context, roleID, reason string) (RoleResult, error) {
	var resp RoleResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("roles/%s/archive", url.PathEscape(roleID)), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// RestoreRole restores an individually archived role.
func (c *Client) RestoreRole(ctx context.Context, roleID string) (RoleResult, error) {
	var resp RoleResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("roles/%s/restore", url.PathEscape(roleID)), nil, &resp)
	return resp, err
}

// BookSubmission books a submission and returns the new booking.
func (c *Client) BookSubmission(ctx context.Context, submissionID string) (Booking, error) {
	var resp Booking
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("submissions/%s/book", url.PathEscape(submissionID)), nil, &resp)
	return resp, err
}

// AuditIntegrity runs a read-only integrity audit.
func (c *Client) AuditIntegrity(ctx context.Context) (IntegrityReport, error) {
	var resp struct {
		Report IntegrityReport `json:"report"`
	}
	err := c.do(ctx, http.MethodGet, "integrity/submissions", nil, &resp)
	return resp.Report, err
}

// Repair applies fixes, typically taken from AuditIntegrity.
func (c *Client) Repair(ctx context.Context, fixes []Fix) (RepairResult, error) {
	var resp RepairResult
	err := c.do(ctx, http.MethodPost, "integrity/submissions/repair", map[string]any{"fixes": fixes}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
