package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a key based pub/sub used by the lock manager to announce lock and
// unlock events. Events carry no payload; subscribers re-read whatever state
// they are interested in.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, key string, ch chan struct{}) error
}

// Metrics reports how many events a bus published and delivered.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// fanOut delivers an event to every channel without blocking. Subscribers
// that have not drained their previous event simply coalesce.
func fanOut(chans []chan struct{}, delivered *atomic.Uint64) {
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			delivered.Add(1)
		default:
		}
	}
}

// removeChan drops ch from chans and closes it. It reports whether ch was found.
func removeChan(chans []chan struct{}, ch chan struct{}) ([]chan struct{}, bool) {
	for i, c := range chans {
		if c == ch {
			chans[i] = chans[len(chans)-1]
			close(c)
			return chans[:len(chans)-1], true
		}
	}
	return chans, false
}

// InMemoryBus is a single process implementation of Bus.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan struct{})}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	b.mu.Lock()
	chans := append([]chan struct{}(nil), b.subs[key]...)
	b.published.Add(1)
	fanOut(chans, &b.delivered)
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is done.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, _ := removeChan(b.subs[key], ch)
	if len(subs) == 0 {
		delete(b.subs, key)
		return nil
	}
	b.subs[key] = subs
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
