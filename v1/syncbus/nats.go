package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan struct{}
}

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn, subs: make(map[string]*natsSubscription)}
}

// subject maps a bus key to a NATS subject. Characters NATS gives a meaning
// to are escaped with '_', and '_' itself is doubled, so distinct keys never
// share a subject.
func subject(key string) string {
	out := []byte("dblock.")
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '_':
			out = append(out, "__"...)
		case '*':
			out = append(out, "_a"...)
		case '>':
			out = append(out, "_g"...)
		case '.':
			out = append(out, "_d"...)
		case ' ':
			out = append(out, "_s"...)
		case '\t':
			out = append(out, "_t"...)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	if err := b.conn.Publish(subject(key), []byte("1")); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		sub = &natsSubscription{}
		ns, err := b.conn.Subscribe(subject(key), func(_ *nats.Msg) {
			b.mu.Lock()
			chans := append([]chan struct{}(nil), sub.chans...)
			fanOut(chans, &b.delivered)
			b.mu.Unlock()
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub.sub = ns
		b.subs[key] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	// Flush so the subscription is known to the server before we return.
	if err := b.conn.Flush(); err != nil {
		_ = b.Unsubscribe(context.Background(), key, ch)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
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
	return sub.sub.Unsubscribe()
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
