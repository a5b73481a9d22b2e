package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dberrors "github.com/mirkobrombin/go-dblock/v1/errors"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-dblock/v1/syncbus")

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan struct{}
}

// RedisBus implements Bus on top of Redis pub/sub so that lock events reach
// every node sharing the same Redis instance.
type RedisBus struct {
	client *redis.Client

	mu        sync.Mutex
	subs      map[string]*redisSubscription
	closed    bool
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, subs: make(map[string]*redisSubscription)}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "RedisBus.Publish", trace.WithAttributes(attribute.String("warp.bus.key", key)))
	defer span.End()

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return dberrors.ErrConnectionClosed
	}
	if err := b.client.Publish(ctx, key, "1").Err(); err != nil {
		span.RecordError(err)
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first subscription to a key
// waits for Redis to confirm it without holding the bus lock.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	if !b.attach(key, ch) {
		ps := b.client.Subscribe(ctx, key)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			_ = ps.Close()
			return nil, dberrors.ErrConnectionClosed
		}
		sub := b.subs[key]
		if sub == nil {
			sub = &redisSubscription{pubsub: ps}
			b.subs[key] = sub
			go b.dispatch(sub)
		} else {
			// another caller subscribed to key meanwhile
			defer ps.Close()
		}
		sub.chans = append(sub.chans, ch)
		b.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// attach adds ch to an existing subscription of key. It reports false when
// there is none yet.
func (b *RedisBus) attach(key string, ch chan struct{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.subs[key]
	if sub == nil {
		return false
	}
	sub.chans = append(sub.chans, ch)
	return true
}

func (b *RedisBus) dispatch(sub *redisSubscription) {
	for range sub.pubsub.Channel() {
		b.mu.Lock()
		chans := append([]chan struct{}(nil), sub.chans...)
		fanOut(chans, &b.delivered)
		b.mu.Unlock()
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	sub.chans, _ = removeChan(sub.chans, ch)
	if len(sub.chans) > 0 {
		b.mu.Unlock()
		return nil
	}
	delete(b.subs, key)
	b.mu.Unlock()
	return sub.pubsub.Close()
}

// Close drops every subscription. Subsequent calls fail with
// ErrConnectionClosed.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*redisSubscription)
	for _, sub := range subs {
		for _, c := range sub.chans {
			close(c)
		}
		sub.chans = nil
	}
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.pubsub.Close()
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
