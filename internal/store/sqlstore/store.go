// Package sqlstore keeps documents as JSON bodies in a single SQL table so
// the document store contract can run on sqlite or postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"castline/internal/db"
	"castline/internal/store"
)

// Compile-time contract assertion.
var _ store.Store = (*Store)(nil)

type Store struct {
	DB      *sql.DB
	Dialect string
	Limit   int
	Now     func() time.Time
}

// New wraps an open, migrated connection.
func New(conn *sql.DB, dialect string, limit int) *Store {
	if limit <= 0 {
		limit = store.DefaultBatchLimit
	}
	return &Store{DB: conn, Dialect: dialect, Limit: limit, Now: time.Now}
}

func (s *Store) BatchLimit() int { return s.Limit }

func (s *Store) q(query string) string { return db.Rebind(s.Dialect, query) }

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) load(ctx context.Context, qr queryer, collection, id string) (map[string]any, error) {
	var body string
	err := qr.QueryRowContext(ctx, s.q(`SELECT body FROM documents WHERE collection=? AND id=?`), collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	data, err := s.load(ctx, s.DB, collection, id)
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{ID: id, Data: data}, nil
}

// Query scans the collection and applies the equality filters in process;
// bodies are opaque JSON to the SQL layer.
func (s *Store) Query(ctx context.Context, collection string, filters ...store.Filter) ([]store.Document, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT id, body FROM documents WHERE collection=? ORDER BY id`), collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		data, err := decodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
		}
		if store.Matches(data, filters) {
			out = append(out, store.Document{ID: id, Data: data})
		}
	}
	return out, rows.Err()
}

// BatchWrite applies the batch inside one SQL transaction.
func (s *Store) BatchWrite(ctx context.Context, mutations []store.Mutation) error {
	if err := store.CheckBatch(mutations, s.Limit); err != nil {
		return err
	}
	if len(mutations) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := s.Now().UTC().Format(time.RFC3339Nano)
	for _, m := range mutations {
		current, err := s.load(ctx, tx, m.Collection, m.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		next, err := store.Apply(current, m)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", m.Collection, m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO documents(collection,id,body,updated_at) VALUES (?,?,?,?)
ON CONFLICT(collection,id) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`),
			m.Collection, m.ID, string(payload), now); err != nil {
			return fmt.Errorf("write %s/%s: %w", m.Collection, m.ID, err)
		}
	}
	return tx.Commit()
}

func decodeBody(body string) (map[string]any, error) {
	data := map[string]any{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return nil, fmt.Errorf("decode document body: %w", err)
	}
	return data, nil
}
