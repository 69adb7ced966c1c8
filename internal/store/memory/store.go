// Package memory provides an in-process document store with the same batch
// semantics as the persistent backends, plus hooks for injecting faults.
package memory

import (
	"context"
	"fmt"
	"sync"

	"castline/internal/store"
)

// Compile-time contract assertion.
var _ store.Store = (*Store)(nil)

// Hooks let tests fail individual store calls. A non-nil error returned by a
// hook is returned from the call without touching state.
type Hooks struct {
	BeforeGet   func(collection, id string) error
	BeforeQuery func(collection string, filters []store.Filter) error
	BeforeBatch func(mutations []store.Mutation) error
}

// Store keeps collections in maps guarded by a single lock.
type Store struct {
	mu        sync.RWMutex
	limit     int
	data      map[string]map[string]map[string]any
	hooks     Hooks
	attempts  int
	committed [][]store.Mutation
}

// New returns an empty store; limit <= 0 selects store.DefaultBatchLimit.
func New(limit int) *Store {
	if limit <= 0 {
		limit = store.DefaultBatchLimit
	}
	return &Store{
		limit: limit,
		data:  make(map[string]map[string]map[string]any),
	}
}

// SetHooks replaces the fault injection hooks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

func (s *Store) BatchLimit() int { return s.limit }

// Seed writes a document directly, bypassing batch accounting.
func (s *Store) Seed(collection, id string, data map[string]any) error {
	body, err := store.Normalize(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(collection)[id] = body
	return nil
}

func (s *Store) collection(name string) map[string]map[string]any {
	c, ok := s.data[name]
	if !ok {
		c = make(map[string]map[string]any)
		s.data[name] = c
	}
	return c
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hooks.BeforeGet != nil {
		if err := s.hooks.BeforeGet(collection, id); err != nil {
			return store.Document{}, err
		}
	}
	body, ok := s.data[collection][id]
	if !ok {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return store.Document{ID: id, Data: clone(body)}, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...store.Filter) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hooks.BeforeQuery != nil {
		if err := s.hooks.BeforeQuery(collection, filters); err != nil {
			return nil, err
		}
	}
	var out []store.Document
	for id, body := range s.data[collection] {
		if store.Matches(body, filters) {
			out = append(out, store.Document{ID: id, Data: clone(body)})
		}
	}
	store.SortByID(out)
	return out, nil
}

func (s *Store) BatchWrite(ctx context.Context, mutations []store.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.CheckBatch(mutations, s.limit); err != nil {
		return err
	}
	if len(mutations) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.hooks.BeforeBatch != nil {
		if err := s.hooks.BeforeBatch(mutations); err != nil {
			return err
		}
	}
	// Stage every write first so a failing mutation leaves state untouched.
	staged := make(map[string]map[string]map[string]any)
	lookup := func(coll, id string) (map[string]any, bool) {
		if c, ok := staged[coll]; ok {
			if body, ok := c[id]; ok {
				return body, true
			}
		}
		body, ok := s.data[coll][id]
		return body, ok
	}
	for _, m := range mutations {
		current, ok := lookup(m.Collection, m.ID)
		if !ok {
			current = nil
		}
		next, err := store.Apply(current, m)
		if err != nil {
			return err
		}
		if staged[m.Collection] == nil {
			staged[m.Collection] = make(map[string]map[string]any)
		}
		staged[m.Collection][m.ID] = next
	}
	for coll, docs := range staged {
		c := s.collection(coll)
		for id, body := range docs {
			c[id] = body
		}
	}
	s.committed = append(s.committed, append([]store.Mutation(nil), mutations...))
	return nil
}

// Attempts returns the number of BatchWrite calls that reached the hooks.
func (s *Store) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Committed returns the batches that were applied, in order.
func (s *Store) Committed() [][]store.Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][]store.Mutation(nil), s.committed...)
}

// CommittedFor returns the applied batches touching collection.
func (s *Store) CommittedFor(collection string) [][]store.Mutation {
	var out [][]store.Mutation
	for _, batch := range s.Committed() {
		for _, m := range batch {
			if m.Collection == collection {
				out = append(out, batch)
				break
			}
		}
	}
	return out
}

// Count returns the number of documents in collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

func clone(body map[string]any) map[string]any {
	cp, err := store.Normalize(body)
	if err != nil {
		panic(err)
	}
	return cp
}
