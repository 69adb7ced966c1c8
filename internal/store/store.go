// Package store defines the document store contract shared by every backend:
// keyed reads, equality-filtered collection scans and atomic batch writes
// bounded by a fixed mutation ceiling.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Collection names used by the casting domain.
const (
	Projects    = "projects"
	Roles       = "roles"
	Submissions = "submissions"
	Bookings    = "bookings"
	AuditEvents = "audit_events"
)

// DefaultBatchLimit is the per-batch mutation ceiling of the document store.
const DefaultBatchLimit = 500

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrBatchTooLarge = errors.New("batch too large")
)

// BatchTooLargeError reports a batch rejected for exceeding the ceiling.
type BatchTooLargeError struct {
	Size  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d mutations exceeds limit of %d", e.Size, e.Limit)
}

func (e *BatchTooLargeError) Is(target error) bool { return target == ErrBatchTooLarge }

// Document is a stored record: its id plus a JSON-shaped body.
type Document struct {
	ID   string
	Data map[string]any
}

// Filter is an equality predicate on a top-level field. A nil Value matches
// documents where the field is null or missing.
type Filter struct {
	Field string
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type Op int

const (
	// OpCreate inserts a document and fails if the id is taken.
	OpCreate Op = iota + 1
	// OpSet replaces (or inserts) the whole document body.
	OpSet
	// OpUpdate merges Fields into an existing document and removes Delete keys.
	OpUpdate
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Mutation is a single write inside a batch.
type Mutation struct {
	Op         Op
	Collection string
	ID         string
	Data       map[string]any
	Fields     map[string]any
	Delete     []string
}

func Create(collection, id string, data map[string]any) Mutation {
	return Mutation{Op: OpCreate, Collection: collection, ID: id, Data: data}
}

func Set(collection, id string, data map[string]any) Mutation {
	return Mutation{Op: OpSet, Collection: collection, ID: id, Data: data}
}

func Update(collection, id string, fields map[string]any, remove ...string) Mutation {
	return Mutation{Op: OpUpdate, Collection: collection, ID: id, Fields: fields, Delete: remove}
}

// Store is implemented by every document store backend. BatchWrite applies
// all mutations atomically or none of them; it never splits a batch and
// rejects batches larger than BatchLimit with a *BatchTooLargeError.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	BatchWrite(ctx context.Context, mutations []Mutation) error
	BatchLimit() int
}

// CheckBatch validates a batch before any backend touches storage.
func CheckBatch(mutations []Mutation, limit int) error {
	if limit > 0 && len(mutations) > limit {
		return &BatchTooLargeError{Size: len(mutations), Limit: limit}
	}
	for i, m := range mutations {
		if m.Collection == "" || m.ID == "" {
			return fmt.Errorf("mutation %d: collection and id required", i)
		}
		switch m.Op {
		case OpCreate, OpSet, OpUpdate:
		default:
			return fmt.Errorf("mutation %d: unknown op %s", i, m.Op)
		}
	}
	return nil
}

// Chunk splits mutations into consecutive slices of at most size entries.
func Chunk(mutations []Mutation, size int) [][]Mutation {
	if size <= 0 {
		size = DefaultBatchLimit
	}
	var out [][]Mutation
	for start := 0; start < len(mutations); start += size {
		end := start + size
		if end > len(mutations) {
			end = len(mutations)
		}
		out = append(out, mutations[start:end])
	}
	return out
}

// Apply computes the document body produced by m given the current body
// (nil when the document does not exist).
func Apply(current map[string]any, m Mutation) (map[string]any, error) {
	switch m.Op {
	case OpCreate:
		if current != nil {
			return nil, fmt.Errorf("%s/%s: %w", m.Collection, m.ID, ErrAlreadyExists)
		}
		return Normalize(m.Data)
	case OpSet:
		return Normalize(m.Data)
	case OpUpdate:
		if current == nil {
			return nil, fmt.Errorf("%s/%s: %w", m.Collection, m.ID, ErrNotFound)
		}
		next := make(map[string]any, len(current)+len(m.Fields))
		for k, v := range current {
			next[k] = v
		}
		for k, v := range m.Fields {
			next[k] = v
		}
		for _, k := range m.Delete {
			delete(next, k)
		}
		return Normalize(next)
	}
	return nil, fmt.Errorf("unknown op %s", m.Op)
}

// Normalize round-trips a body through JSON so every backend sees the same
// value shapes (float64 numbers, []any arrays, map[string]any objects).
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	delete(out, "id")
	return out, nil
}

// Matches reports whether data satisfies every filter.
func Matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if f.Value == nil {
			if ok && v != nil {
				return false
			}
			continue
		}
		if !ok || !equalValues(v, f.Value) {
			return false
		}
	}
	return true
}

// equalValues compares a stored (JSON-normalized) value against a filter
// value that may be a named string type or a Go integer.
func equalValues(stored, want any) bool {
	rv := reflect.ValueOf(want)
	switch rv.Kind() {
	case reflect.String:
		want = rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		want = float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		want = float64(rv.Uint())
	case reflect.Float32:
		want = rv.Float()
	}
	return reflect.DeepEqual(stored, want)
}

// SortByID orders documents by id for deterministic processing.
func SortByID(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

// Describe renders filters for logs and errors.
func Describe(filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Field, f.Value))
	}
	return strings.Join(parts, ",")
}
