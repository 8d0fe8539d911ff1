// Package docstore is the document database contract the attendance core
// depends on, with in-memory, Firestore and Postgres implementations.
//
// Collections are slash separated paths such as "classes" or
// "classes/c1/attendance/2024-07-17/records". Documents are flat maps of
// JSON-compatible values.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrWatchEnded is passed to a subscription callback when the live query
	// stopped on its own. No further calls follow it.
	ErrWatchEnded = errors.New("docstore: live query ended")
)

// Doc is one stored document.
type Doc struct {
	Collection string
	ID         string
	Data       map[string]any
}

// Filter is an equality condition on a top level field.
type Filter struct {
	Field string
	Value any
}

// Eq builds a Filter.
func Eq(field string, value any) Filter { return Filter{Field: field, Value: value} }

// Subscription is a live query. Stop releases it and may be called more than once.
type Subscription interface {
	Stop()
}

// Store is the set of operations the core needs from a document database.
type Store interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error)
	// QueryGroup queries every collection whose last path segment is group.
	QueryGroup(ctx context.Context, group string, filters ...Filter) ([]Doc, error)
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	// Merge updates the given fields of an existing document.
	Merge(ctx context.Context, collection, id string, data map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	// Subscribe calls fn with the matching documents now and after every change
	// until the returned Subscription is stopped or ctx is done. A failed
	// refresh is reported as fn(nil, err); an error wrapping ErrWatchEnded is
	// the last call.
	Subscribe(ctx context.Context, collection string, filters []Filter, fn func([]Doc, error)) (Subscription, error)
	Close() error
}

// Join builds a collection path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Group returns the last segment of a collection path.
func Group(collection string) string {
	if i := strings.LastIndex(collection, "/"); i >= 0 {
		return collection[i+1:]
	}
	return collection
}

// normalize round-trips data through JSON so every backend hands back the same
// value types (float64 numbers, []any, map[string]any).
func normalize(data map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !reflect.DeepEqual(v, normalizeValue(f.Value)) {
			return false
		}
	}
	return true
}

func sortDocs(docs []Doc) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Collection != docs[j].Collection {
			return docs[i].Collection < docs[j].Collection
		}
		return docs[i].ID < docs[j].ID
	})
}
