package engine

import (
	"context"
	"fmt"

	"castline/internal/repo"
	"castline/internal/store"
)

// Fixtures is an intake payload. Documents are kept raw so legacy fields
// (old statuses, the pinned flag) survive until migrated.
type Fixtures struct {
	Projects    []map[string]any `json:"projects"`
	Roles       []map[string]any `json:"roles"`
	Submissions []map[string]any `json:"submissions"`
	Bookings    []map[string]any `json:"bookings"`
}

type ImportResult struct {
	Classes []ClassResult `json:"classes"`
}

var importOrder = []struct {
	class      EntityClass
	collection string
	validate   func(store.Document) error
}{
	{ClassProjects, store.Projects, func(d store.Document) error { _, err := repo.DecodeProject(d); return err }},
	{ClassRoles, store.Roles, func(d store.Document) error { _, err := repo.DecodeRole(d); return err }},
	{ClassSubmissions, store.Submissions, func(d store.Document) error { _, err := repo.DecodeSubmission(d); return err }},
	{ClassBookings, store.Bookings, func(d store.Document) error { _, err := repo.DecodeBooking(d); return err }},
}

// Import validates every document before writing anything, then upserts
// each class in chunks, parents first.
func (e Engine) Import(ctx context.Context, f Fixtures) (ImportResult, error) {
	byClass := map[EntityClass][]map[string]any{
		ClassProjects:    f.Projects,
		ClassRoles:       f.Roles,
		ClassSubmissions: f.Submissions,
		ClassBookings:    f.Bookings,
	}
	plan := map[EntityClass][]store.Mutation{}
	for _, step := range importOrder {
		for i, raw := range byClass[step.class] {
			id, _ := raw["id"].(string)
			if id == "" {
				return ImportResult{}, fmt.Errorf("%s[%d]: id is required", step.collection, i)
			}
			body, err := store.Normalize(raw)
			if err != nil {
				return ImportResult{}, fmt.Errorf("%s/%s: %w", step.collection, id, err)
			}
			if err := step.validate(store.Document{ID: id, Data: body}); err != nil {
				return ImportResult{}, err
			}
			plan[step.class] = append(plan[step.class], store.Set(step.collection, id, body))
		}
	}
	var res ImportResult
	for _, step := range importOrder {
		cr, err := e.writeClass(ctx, step.class, plan[step.class])
		res.Classes = append(res.Classes, cr)
		if err != nil {
			return res, err
		}
	}
	e.logger().Info("import finished",
		"projects", len(f.Projects), "roles", len(f.Roles), "submissions", len(f.Submissions), "bookings", len(f.Bookings))
	return res, nil
}
