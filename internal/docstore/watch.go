package docstore

import (
	"context"
	"sync"
)

// watch re-runs a query whenever its collection changes.
type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the watch and waits for its goroutine to exit. It must not be
// called from inside the subscription callback.
func (w *watch) Stop() {
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

func watchQuery(ctx context.Context, n Notifier, collection string, query func(context.Context) ([]Doc, error), fn func([]Doc, error)) (Subscription, error) {
	signals, release, err := n.Listen(ctx, collection)
	if err != nil {
		return nil, err
	}
	docs, err := query(ctx)
	if err != nil {
		release()
		return nil, err
	}
	fn(docs, nil)

	ctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		defer release()
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
				docs, err := query(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					// the next change signal retries
					fn(nil, err)
					continue
				}
				fn(docs, nil)
			}
		}
	}()
	return w, nil
}
