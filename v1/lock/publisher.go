package lock

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-dblock/v1/syncbus"
)

// eventBuffer bounds the number of events waiting to be published.
const eventBuffer = 1024

// publisher forwards lock events to a bus from a single goroutine, so events
// keep the order they were queued in and a slow bus never stalls the
// manager.
type publisher struct {
	bus    syncbus.Bus
	log    logrus.FieldLogger
	events chan string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	dropped atomic.Uint64
}

func newPublisher(bus syncbus.Bus, log logrus.FieldLogger) *publisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &publisher{
		bus:    bus,
		log:    log,
		events: make(chan string, eventBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case key := <-p.events:
			if err := p.bus.Publish(p.ctx, key); err != nil && p.ctx.Err() == nil {
				p.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("publishing lock event failed")
			}
		}
	}
}

// send queues key without blocking. When the buffer is full the event is
// dropped; subscribers re-read the state on the next event anyway.
func (p *publisher) send(key string) {
	select {
	case p.events <- key:
	default:
		if p.dropped.Add(1) == 1 {
			p.log.WithField("key", key).Warn("lock event buffer full, dropping events")
		}
	}
}

// close stops the publishing goroutine, abandoning queued events and
// cancelling an in-flight publish.
func (p *publisher) close() {
	p.cancel()
	<-p.done
}
