// Package mongostore implements the document store contract on MongoDB.
// Batches run inside a multi-document transaction, so the target deployment
// must be a replica set (a single-node replica set is enough).
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"castline/internal/store"
)

// Compile-time contract assertion.
var _ store.Store = (*Store)(nil)

const defaultDatabase = "castline"

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	limit  int
}

// Connect dials uri and pings the primary before returning.
func Connect(ctx context.Context, uri, database string, limit int) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri required")
	}
	if database == "" {
		database = defaultDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	if limit <= 0 {
		limit = store.DefaultBatchLimit
	}
	return &Store{client: client, db: client.Database(database), limit: limit}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) BatchLimit() int { return s.limit }

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	return s.get(ctx, collection, id)
}

func (s *Store) get(ctx context.Context, collection, id string) (store.Document, error) {
	var raw bson.Raw
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, err
	}
	data, err := fromRaw(raw)
	if err != nil {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	return store.Document{ID: id, Data: data}, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...store.Filter) ([]store.Document, error) {
	filter := bson.M{}
	for _, f := range filters {
		filter[f.Field] = filterValue(f.Value)
	}
	cur, err := s.db.Collection(collection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []store.Document
	for cur.Next(ctx) {
		id, ok := cur.Current.Lookup("_id").StringValueOK()
		if !ok {
			return nil, fmt.Errorf("%s: document with non-string _id", collection)
		}
		data, err := fromRaw(cur.Current)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
		}
		out = append(out, store.Document{ID: id, Data: data})
	}
	return out, cur.Err()
}

// BatchWrite resolves each mutation against the document as seen inside the
// transaction and replaces it, so create/update semantics match the other
// backends exactly.
func (s *Store) BatchWrite(ctx context.Context, mutations []store.Mutation) error {
	if err := store.CheckBatch(mutations, s.limit); err != nil {
		return err
	}
	if len(mutations) == 0 {
		return nil
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, m := range mutations {
			var current map[string]any
			doc, err := s.get(sc, m.Collection, m.ID)
			switch {
			case err == nil:
				current = doc.Data
			case errors.Is(err, store.ErrNotFound):
			default:
				return nil, err
			}
			next, err := store.Apply(current, m)
			if err != nil {
				return nil, err
			}
			_, err = s.db.Collection(m.Collection).ReplaceOne(sc, bson.M{"_id": m.ID}, next, options.Replace().SetUpsert(true))
			if err != nil {
				return nil, fmt.Errorf("write %s/%s: %w", m.Collection, m.ID, err)
			}
		}
		return nil, nil
	})
	return err
}

// fromRaw converts BSON into the JSON-shaped maps the rest of the system uses.
func fromRaw(raw bson.Raw) (map[string]any, error) {
	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if err := json.Unmarshal(ext, &data); err != nil {
		return nil, err
	}
	delete(data, "_id")
	return data, nil
}

func filterValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return v
}
