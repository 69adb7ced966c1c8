package repo

import (
	"context"
	"fmt"

	"castline/internal/domain"
	"castline/internal/store"
)

// PutProject returns an upsert mutation for the whole project document.
func PutProject(p domain.Project) (store.Mutation, error) {
	return put(store.Projects, p.ID, p)
}

func PutRole(r domain.Role) (store.Mutation, error) {
	return put(store.Roles, r.ID, r)
}

func PutSubmission(s domain.Submission) (store.Mutation, error) {
	return put(store.Submissions, s.ID, s)
}

// CreateBooking returns a create mutation; booking ids are never reused.
func CreateBooking(b domain.Booking) (store.Mutation, error) {
	if b.TalentProfile != nil {
		b.TalentProfile.Normalize()
	}
	data, err := Encode(b)
	if err != nil {
		return store.Mutation{}, fmt.Errorf("encode booking %s: %w", b.ID, err)
	}
	return store.Create(store.Bookings, b.ID, data), nil
}

func PutBooking(b domain.Booking) (store.Mutation, error) {
	if b.TalentProfile != nil {
		b.TalentProfile.Normalize()
	}
	return put(store.Bookings, b.ID, b)
}

func put(collection, id string, v any) (store.Mutation, error) {
	if id == "" {
		return store.Mutation{}, fmt.Errorf("%s: id is required", collection)
	}
	data, err := Encode(v)
	if err != nil {
		return store.Mutation{}, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return store.Set(collection, id, data), nil
}

// WriteChunked writes mutations in consecutive batches at the store ceiling.
// It stops at the first failing batch and reports how many were committed.
func (r Repo) WriteChunked(ctx context.Context, mutations []store.Mutation) (int, error) {
	written := 0
	for _, chunk := range store.Chunk(mutations, r.Store.BatchLimit()) {
		if err := r.Store.BatchWrite(ctx, chunk); err != nil {
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}
