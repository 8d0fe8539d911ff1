package docstore

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store used for local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	docs     map[string]map[string]map[string]any
	notifier *LocalNotifier
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]map[string]map[string]any),
		notifier: NewLocalNotifier(),
	}
}

func (m *Memory) Get(_ context.Context, collection, id string) (Doc, error) {
	m.mu.RLock()
	data, ok := m.docs[collection][id]
	m.mu.RUnlock()
	if !ok {
		return Doc{}, ErrNotFound
	}
	return Doc{Collection: collection, ID: id, Data: cloneData(data)}, nil
}

func (m *Memory) Query(_ context.Context, collection string, filters ...Filter) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(c string) bool { return c == collection }, filters), nil
}

func (m *Memory) QueryGroup(_ context.Context, group string, filters ...Filter) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(c string) bool { return Group(c) == group }, filters), nil
}

func (m *Memory) collect(want func(string) bool, filters []Filter) []Doc {
	var out []Doc
	for collection, docs := range m.docs {
		if !want(collection) {
			continue
		}
		for id, data := range docs {
			if matches(data, filters) {
				out = append(out, Doc{Collection: collection, ID: id, Data: cloneData(data)})
			}
		}
	}
	sortDocs(out)
	return out
}

func (m *Memory) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	return id, m.Set(ctx, collection, id, data)
}

func (m *Memory) Set(ctx context.Context, collection, id string, data map[string]any) error {
	norm, err := normalize(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]map[string]any)
	}
	m.docs[collection][id] = norm
	m.mu.Unlock()
	return m.notifier.Publish(ctx, collection)
}

func (m *Memory) Merge(ctx context.Context, collection, id string, data map[string]any) error {
	patch, err := normalize(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	cur, ok := m.docs[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	maps.Copy(cur, patch)
	m.mu.Unlock()
	return m.notifier.Publish(ctx, collection)
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	delete(m.docs[collection], id)
	m.mu.Unlock()
	return m.notifier.Publish(ctx, collection)
}

func (m *Memory) Subscribe(ctx context.Context, collection string, filters []Filter, fn func([]Doc, error)) (Subscription, error) {
	query := func(ctx context.Context) ([]Doc, error) { return m.Query(ctx, collection, filters...) }
	return watchQuery(ctx, m.notifier, collection, query, fn)
}

func (m *Memory) Close() error { return nil }

func cloneData(data map[string]any) map[string]any {
	out, err := normalize(data)
	if err != nil {
		return maps.Clone(data)
	}
	return out
}
