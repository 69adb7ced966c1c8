package engine

import (
	"context"
	"fmt"
	"strings"

	"castline/internal/events"
	"castline/internal/store"
)

// Classification of a submission's role reference.
type Classification string

const (
	ClassValid              Classification = "valid"
	ClassOrphanedFixable    Classification = "orphaned_fixable"
	ClassOrphanedUnresolved Classification = "orphaned_unresolved"
)

// Reasons an orphaned submission could not be matched.
const (
	ReasonNoMatch        = "no_match"
	ReasonAmbiguousMatch = "ambiguous_role_match"
)

// ProposedFix rewrites one submission's roleId.
type ProposedFix struct {
	SubmissionID string `json:"submissionId"`
	ProjectID    string `json:"projectId"`
	RoleName     string `json:"roleName"`
	FromRoleID   string `json:"fromRoleId"`
	ToRoleID     string `json:"toRoleId"`
}

// UnresolvedSubmission is reported for human review and never repaired.
type UnresolvedSubmission struct {
	SubmissionID string   `json:"submissionId"`
	ProjectID    string   `json:"projectId"`
	RoleID       string   `json:"roleId"`
	RoleName     string   `json:"roleName"`
	Reason       string   `json:"reason"`
	Candidates   []string `json:"candidates,omitempty"`
}

type IntegrityCounts struct {
	Valid              int `json:"valid"`
	OrphanedFixable    int `json:"orphanedFixable"`
	OrphanedUnresolved int `json:"orphanedUnresolved"`
}

// IntegrityReport is the output of an audit. Fixes are proposals only.
type IntegrityReport struct {
	GeneratedAt        string                 `json:"generatedAt"`
	SubmissionsScanned int                    `json:"submissionsScanned"`
	RolesScanned       int                    `json:"rolesScanned"`
	Counts             IntegrityCounts        `json:"counts"`
	Fixes              []ProposedFix          `json:"fixes"`
	Unresolved         []UnresolvedSubmission `json:"unresolved"`
}

type roleRef struct {
	id        string
	name      string
	projectID string
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func (e Engine) loadRoleRefs(ctx context.Context) ([]roleRef, error) {
	docs, err := e.Store.Query(ctx, store.Roles)
	if err != nil {
		return nil, fmt.Errorf("scan roles: %w", err)
	}
	refs := make([]roleRef, 0, len(docs))
	for _, doc := range docs {
		refs = append(refs, roleRef{id: doc.ID, name: stringField(doc.Data, "name"), projectID: stringField(doc.Data, "projectId")})
	}
	return refs, nil
}

// AuditSubmissionIntegrity scans every role and submission and classifies
// each submission's roleId. An orphan is fixable only when exactly one role
// in the same project has the same name, compared case-insensitively.
func (e Engine) AuditSubmissionIntegrity(ctx context.Context) (IntegrityReport, error) {
	roles, err := e.loadRoleRefs(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	subs, err := e.Store.Query(ctx, store.Submissions)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("scan submissions: %w", err)
	}
	known := make(map[string]bool, len(roles))
	for _, r := range roles {
		known[r.id] = true
	}
	rep := IntegrityReport{
		GeneratedAt:        e.timestamp(),
		SubmissionsScanned: len(subs),
		RolesScanned:       len(roles),
		Fixes:              []ProposedFix{},
		Unresolved:         []UnresolvedSubmission{},
	}
	for _, doc := range subs {
		roleID := stringField(doc.Data, "roleId")
		if roleID != "" && known[roleID] {
			rep.Counts.Valid++
			continue
		}
		roleName := stringField(doc.Data, "roleName")
		projectID := stringField(doc.Data, "projectId")
		var matches []string
		if roleName != "" {
			for _, r := range roles {
				if r.projectID == projectID && strings.EqualFold(r.name, roleName) {
					matches = append(matches, r.id)
				}
			}
		}
		if len(matches) == 1 {
			rep.Counts.OrphanedFixable++
			rep.Fixes = append(rep.Fixes, ProposedFix{
				SubmissionID: doc.ID,
				ProjectID:    projectID,
				RoleName:     roleName,
				FromRoleID:   roleID,
				ToRoleID:     matches[0],
			})
			continue
		}
		rep.Counts.OrphanedUnresolved++
		u := UnresolvedSubmission{SubmissionID: doc.ID, ProjectID: projectID, RoleID: roleID, RoleName: roleName, Reason: ReasonNoMatch}
		if len(matches) > 1 {
			u.Reason = ReasonAmbiguousMatch
			u.Candidates = matches
		}
		rep.Unresolved = append(rep.Unresolved, u)
	}
	e.Metrics.AuditFinished(rep.Counts.Valid, rep.Counts.OrphanedFixable, rep.Counts.OrphanedUnresolved)
	e.logger().Info("integrity audit finished",
		"submissions", rep.SubmissionsScanned, "roles", rep.RolesScanned,
		"valid", rep.Counts.Valid, "fixable", rep.Counts.OrphanedFixable, "unresolved", rep.Counts.OrphanedUnresolved)
	return rep, nil
}

// Reasons a proposed fix was skipped by repair.
const (
	SkipDuplicate         = "duplicate"
	SkipSubmissionMissing = "submission_missing"
	SkipRoleChanged       = "role_reference_changed"
	SkipTargetMissing     = "target_role_missing"
	SkipProjectMismatch   = "target_role_in_other_project"
)

type SkippedFix struct {
	Fix    ProposedFix `json:"fix"`
	Reason string      `json:"reason"`
}

// RepairResult reports a repair pass.
type RepairResult struct {
	Requested int          `json:"requested"`
	Applied   int          `json:"applied"`
	Skipped   []SkippedFix `json:"skipped"`
	Writes    ClassResult  `json:"writes"`
}

// RepairSubmissions applies previously audited fixes in chunks. A fix is
// skipped when the submission's roleId has moved since the audit or the
// target role is gone, so a stale report never overwrites newer data.
func (e Engine) RepairSubmissions(ctx context.Context, fixes []ProposedFix, actorID string) (RepairResult, error) {
	if actorID == "" {
		return RepairResult{}, ErrActorRequired
	}
	res := RepairResult{Requested: len(fixes), Skipped: []SkippedFix{}}
	if len(fixes) == 0 {
		res.Writes = ClassResult{Class: ClassSubmissions}
		return res, nil
	}
	roles, err := e.loadRoleRefs(ctx)
	if err != nil {
		return res, err
	}
	rolesByID := make(map[string]roleRef, len(roles))
	for _, r := range roles {
		rolesByID[r.id] = r
	}
	subs, err := e.Store.Query(ctx, store.Submissions)
	if err != nil {
		return res, fmt.Errorf("scan submissions: %w", err)
	}
	current := make(map[string]map[string]any, len(subs))
	for _, doc := range subs {
		current[doc.ID] = doc.Data
	}

	now := e.timestamp()
	seen := map[string]bool{}
	var muts []store.Mutation
	var applied []ProposedFix
	skip := func(f ProposedFix, reason string) {
		res.Skipped = append(res.Skipped, SkippedFix{Fix: f, Reason: reason})
	}
	for _, f := range fixes {
		if seen[f.SubmissionID] {
			skip(f, SkipDuplicate)
			continue
		}
		seen[f.SubmissionID] = true
		data, ok := current[f.SubmissionID]
		if !ok {
			skip(f, SkipSubmissionMissing)
			continue
		}
		if stringField(data, "roleId") != f.FromRoleID {
			skip(f, SkipRoleChanged)
			continue
		}
		target, ok := rolesByID[f.ToRoleID]
		if !ok {
			skip(f, SkipTargetMissing)
			continue
		}
		if target.projectID != stringField(data, "projectId") {
			skip(f, SkipProjectMismatch)
			continue
		}
		muts = append(muts, store.Update(store.Submissions, f.SubmissionID, map[string]any{
			"roleId":    f.ToRoleID,
			"updatedAt": now,
		}))
		applied = append(applied, f)
	}

	res.Writes, err = e.writeClass(ctx, ClassSubmissions, muts)
	res.Applied = res.Writes.Succeeded
	e.Metrics.RepairApplied(res.Applied)
	log := e.logger().With("actor_id", actorID, "requested", res.Requested, "applied", res.Applied, "skipped", len(res.Skipped))
	if res.Applied > 0 {
		ids := make([]string, 0, res.Applied)
		for _, f := range applied[:res.Applied] {
			ids = append(ids, f.SubmissionID)
		}
		evt := e.Events.Mutation("integrity.repair", "", "submission", "", actorID, events.EventPayload{
			"applied":     res.Applied,
			"skipped":     len(res.Skipped),
			"submissions": ids,
		})
		if evtErr := e.commitChunk(ctx, ClassEvents, 0, []store.Mutation{evt}); evtErr != nil {
			log.Warn("repair event not recorded", "err", evtErr)
		}
	}
	if err != nil {
		log.Error("repair incomplete", "err", err)
		return res, err
	}
	log.Info("repair finished")
	return res, nil
}
