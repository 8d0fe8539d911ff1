package docstore

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier fans out "collection changed" signals to live queries.
type Notifier interface {
	Publish(ctx context.Context, collection string) error
	// Listen returns a channel signalled after changes to collection and a
	// function that releases the listener.
	Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error)
}

// LocalNotifier delivers change signals inside one process.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners map[string]map[chan struct{}]struct{}
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every listener of collection without blocking.
func (n *LocalNotifier) Publish(_ context.Context, collection string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.listeners[collection] {
		select {
		case ch <- struct{}{}:
		default:
			// a signal is already pending; the listener will re-read anyway
		}
	}
	return nil
}

// Listen registers a listener for collection.
func (n *LocalNotifier) Listen(_ context.Context, collection string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	if n.listeners[collection] == nil {
		n.listeners[collection] = make(map[chan struct{}]struct{})
	}
	n.listeners[collection][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners[collection], ch)
			if len(n.listeners[collection]) == 0 {
				delete(n.listeners, collection)
			}
			n.mu.Unlock()
		})
	}
	return ch, release, nil
}

// listenerCount is used by tests to check that subscriptions are released.
func (n *LocalNotifier) listenerCount(collection string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners[collection])
}

// RedisNotifier delivers change signals across processes over Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier publishes on channels named prefix+collection.
func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "docstore:"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Publish announces a change to collection.
func (n *RedisNotifier) Publish(ctx context.Context, collection string) error {
	return n.client.Publish(ctx, n.prefix+collection, "changed").Err()
}

// Listen subscribes to change announcements for collection.
func (n *RedisNotifier) Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	ps := n.client.Subscribe(ctx, n.prefix+collection)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		msgs := ps.Channel()
		for {
			select {
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, release, nil
}
