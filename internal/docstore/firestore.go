package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore adapts a Cloud Firestore client. Live queries use Firestore query
// snapshots, so no Notifier is involved.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore wraps a client created from the Firebase app.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (Doc, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, err
	}
	return Doc{Collection: collection, ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (f *Firestore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	return readAll(where(f.client.Collection(collection).Query, filters).Documents(ctx))
}

func (f *Firestore) QueryGroup(ctx context.Context, group string, filters ...Filter) ([]Doc, error) {
	return readAll(where(f.client.CollectionGroup(group).Query, filters).Documents(ctx))
}

func (f *Firestore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (f *Firestore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := f.client.Collection(collection).Doc(id).Set(ctx, data)
	return err
}

func (f *Firestore) Merge(ctx context.Context, collection, id string, data map[string]any) error {
	updates := make([]firestore.Update, 0, len(data))
	for k, v := range data {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	_, err := f.client.Collection(collection).Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (f *Firestore) Delete(ctx context.Context, collection, id string) error {
	_, err := f.client.Collection(collection).Doc(id).Delete(ctx)
	return err
}

func (f *Firestore) Subscribe(ctx context.Context, collection string, filters []Filter, fn func([]Doc, error)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := where(f.client.Collection(collection).Query, filters).Snapshots(ctx)

	// The first snapshot is read synchronously so callers see the current state
	// before Subscribe returns, matching the other backends.
	snap, err := it.Next()
	if err != nil {
		it.Stop()
		cancel()
		return nil, err
	}
	docs, err := readAll(snap.Documents)
	if err != nil {
		it.Stop()
		cancel()
		return nil, err
	}
	fn(docs, nil)

	s := &snapshotSub{it: it, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		forwardSnapshots(ctx, it.Next, func(snap *firestore.QuerySnapshot) ([]Doc, error) {
			return readAll(snap.Documents)
		}, fn)
	}()
	return s, nil
}

// forwardSnapshots passes each snapshot from next to fn until next fails. A
// failed read is reported and skipped. A failure of next itself ends the
// stream with ErrWatchEnded, unless ctx was canceled by Stop.
func forwardSnapshots[S any](ctx context.Context, next func() (S, error), read func(S) ([]Doc, error), fn func([]Doc, error)) {
	for {
		snap, err := next()
		if err != nil {
			if ctx.Err() == nil {
				fn(nil, fmt.Errorf("%w: %v", ErrWatchEnded, err))
			}
			return
		}
		docs, err := read(snap)
		if err != nil {
			fn(nil, err)
			continue
		}
		fn(docs, nil)
	}
}

func (f *Firestore) Close() error { return f.client.Close() }

type snapshotSub struct {
	it     *firestore.QuerySnapshotIterator
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *snapshotSub) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.it.Stop()
		<-s.done
	})
}

func where(q firestore.Query, filters []Filter) firestore.Query {
	for _, f := range filters {
		q = q.Where(f.Field, "==", f.Value)
	}
	return q
}

func readAll(it *firestore.DocumentIterator) ([]Doc, error) {
	defer it.Stop()
	var res []Doc
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		res = append(res, Doc{
			Collection: relativePath(snap.Ref.Parent.Path),
			ID:         snap.Ref.ID,
			Data:       snap.Data(),
		})
	}
	return res, nil
}

// relativePath strips the "projects/p/databases/d/documents/" prefix.
func relativePath(full string) string {
	const marker = "/documents/"
	if i := strings.Index(full, marker); i >= 0 {
		return full[i+len(marker):]
	}
	return full
}
