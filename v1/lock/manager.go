package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dberrors "github.com/mirkobrombin/go-dblock/v1/errors"
	"github.com/mirkobrombin/go-dblock/v1/metrics"
	"github.com/mirkobrombin/go-dblock/v1/request"
	"github.com/mirkobrombin/go-dblock/v1/syncbus"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-dblock/v1/lock")

// GlobalName is the resource name used in bus keys for a global hold.
const GlobalName = "*"

// ChangedKey is published after every grant or release.
const ChangedKey = "lock-table"

// LockKey returns the bus key announcing that name was granted. The global
// resource is spelled "*".
func LockKey(name string) string { return "lock:" + name }

// UnlockKey returns the bus key announcing that name was released.
func UnlockKey(name string) string { return "unlock:" + name }

type waiter struct {
	owner   string
	req     *request.Request
	ready   chan struct{}
	granted bool
}

type grant struct {
	owner string
	req   *request.Request
	since time.Time
}

// Holder describes a granted request.
type Holder struct {
	Owner       string    `json:"owner"`
	Reads       []string  `json:"reads"`
	Writes      []string  `json:"writes"`
	GlobalRead  bool      `json:"global_read"`
	GlobalWrite bool      `json:"global_write"`
	Since       time.Time `json:"since"`
}

// Stats is a point in time view of the manager.
type Stats struct {
	Active    int    `json:"active"`
	Waiting   int    `json:"waiting"`
	Parallel  int    `json:"parallel"`
	Granted   uint64 `json:"granted"`
	Cancelled uint64 `json:"cancelled"`
	// DroppedEvents counts bus events discarded because the publish buffer
	// was full.
	DroppedEvents uint64 `json:"dropped_events"`
}

// Manager grants lock requests on behalf of operations identified by an
// owner string. Each owner holds at most one request at a time.
type Manager struct {
	mu      sync.Mutex
	table   table
	gate    admission
	queue   []*waiter
	waiting map[string]*waiter
	grants  map[string]*grant

	granted   uint64
	cancelled uint64

	name         string
	bus          syncbus.Bus
	pub          *publisher
	registry     prometheus.Registerer
	log          logrus.FieldLogger
	traceEnabled bool
}

// NewManager returns a Manager without admission limit unless configured
// with WithParallel.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		table:   newTable(),
		waiting: make(map[string]*waiter),
		grants:  make(map[string]*grant),
		name:    "default",
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus != nil {
		m.pub = newPublisher(m.bus, m.log)
	}
	if m.registry != nil {
		m.registerMetrics(m.registry)
	}
	return m
}

// Close stops publishing lock events. Queued events that were not yet
// published are discarded. The manager keeps granting requests after Close.
func (m *Manager) Close() {
	if m.pub != nil {
		m.pub.close()
	}
}

// Acquire blocks until r can be granted as a whole to owner. An unfinished
// request is resolved without a session first; r itself is never modified.
//
// If ctx is done before the grant, nothing is held and the returned error
// wraps both errors.ErrAborted and ctx.Err(), plus errors.ErrTimeout when
// the deadline expired. Calling Acquire for an owner
// that is already waiting or holding panics with *errors.ContractError.
func (m *Manager) Acquire(ctx context.Context, owner string, r *request.Request) error {
	req := r.Clone().Finish(nil)

	var span trace.Span
	if m.traceEnabled {
		ctx, span = tracer.Start(ctx, "Manager.Acquire", trace.WithAttributes(
			attribute.String("warp.lock.owner", owner),
			attribute.String("warp.lock.reads", req.Reads.String()),
			attribute.String("warp.lock.writes", req.Writes.String()),
		))
		defer span.End()
	}
	start := time.Now()

	m.mu.Lock()
	m.checkIdle(owner)
	w := &waiter{owner: owner, req: req, ready: make(chan struct{})}
	m.enqueue(w)
	m.announce(nil, m.dispatch())
	immediate := w.granted
	m.mu.Unlock()

	if !immediate {
		m.log.WithFields(logrus.Fields{"owner": owner, "request": req.String()}).Debug("waiting for locks")
		select {
		case <-w.ready:
		case <-ctx.Done():
			if err := m.abort(w, ctx.Err()); err != nil {
				if span != nil {
					span.SetAttributes(attribute.String("warp.lock.result", "aborted"))
					span.RecordError(err)
				}
				return err
			}
		}
	}

	wait := time.Since(start)
	metrics.WaitHistogram.Observe(wait.Seconds())
	if span != nil {
		span.SetAttributes(
			attribute.String("warp.lock.result", "granted"),
			attribute.Int64("warp.lock.wait_ms", wait.Milliseconds()),
		)
	}
	m.log.WithFields(logrus.Fields{"owner": owner, "request": req.String(), "wait": wait}).Debug("locks granted")
	return nil
}

// abort withdraws w after its context ended. A grant that raced with the
// cancellation is rolled back so the caller is left holding nothing.
func (m *Manager) abort(w *waiter, cause error) error {
	m.mu.Lock()
	if w.granted {
		m.announce(m.releaseLocked(w.owner))
	} else {
		m.queue = slices.DeleteFunc(m.queue, func(q *waiter) bool { return q == w })
		delete(m.waiting, w.owner)
		metrics.WaitingGauge.Dec()
	}
	m.cancelled++
	m.mu.Unlock()

	metrics.CancelledCounter.Inc()
	m.log.WithFields(logrus.Fields{"owner": w.owner, "error": cause}).Debug("lock request aborted")
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", dberrors.ErrAborted, dberrors.ErrTimeout, cause)
	}
	return fmt.Errorf("%w: %w", dberrors.ErrAborted, cause)
}

// TryAcquire grants r to owner only if that is possible without waiting.
func (m *Manager) TryAcquire(owner string, r *request.Request) bool {
	req := r.Clone().Finish(nil)

	m.mu.Lock()
	m.checkIdle(owner)
	if !m.gate.available() || !m.table.grantable(req) {
		m.mu.Unlock()
		return false
	}
	w := &waiter{owner: owner, req: req, ready: make(chan struct{})}
	m.grantLocked(w)
	m.announce(nil, []*waiter{w})
	m.mu.Unlock()
	return true
}

// Release frees everything granted to owner and wakes waiters that became
// grantable. Releasing an owner without a granted request panics with
// *errors.ContractError.
func (m *Manager) Release(owner string) {
	m.mu.Lock()
	if _, ok := m.grants[owner]; !ok {
		m.mu.Unlock()
		panic(&dberrors.ContractError{Owner: owner, Rule: "release without acquire"})
	}
	freed, granted := m.releaseLocked(owner)
	m.announce(freed, granted)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"owner": owner, "request": freed.String()}).Debug("locks released")
}

func (m *Manager) checkIdle(owner string) {
	if _, ok := m.grants[owner]; ok {
		m.mu.Unlock()
		panic(&dberrors.ContractError{Owner: owner, Rule: "acquire while holding"})
	}
	if _, ok := m.waiting[owner]; ok {
		m.mu.Unlock()
		panic(&dberrors.ContractError{Owner: owner, Rule: "acquire while waiting"})
	}
}

func (m *Manager) enqueue(w *waiter) {
	m.queue = append(m.queue, w)
	m.waiting[w.owner] = w
	metrics.WaitingGauge.Inc()
}

// dispatch grants queued requests in arrival order. One pass is enough:
// granting only ever adds to the table and takes slots, so it never makes a
// request that was skipped earlier in the pass grantable.
func (m *Manager) dispatch() []*waiter {
	var granted []*waiter
	kept := m.queue[:0]
	for _, w := range m.queue {
		if m.gate.available() && m.table.grantable(w.req) {
			m.grantLocked(w)
			metrics.WaitingGauge.Dec()
			granted = append(granted, w)
			continue
		}
		kept = append(kept, w)
	}
	clear(m.queue[len(kept):])
	m.queue = kept
	return granted
}

func (m *Manager) grantLocked(w *waiter) {
	m.table.add(w.req)
	m.gate.enter()
	m.grants[w.owner] = &grant{owner: w.owner, req: w.req, since: time.Now()}
	delete(m.waiting, w.owner)
	w.granted = true
	close(w.ready)
	m.granted++
	metrics.AcquiredCounter.Inc()
	metrics.ActiveGauge.Inc()
}

func (m *Manager) releaseLocked(owner string) (*request.Request, []*waiter) {
	g := m.grants[owner]
	delete(m.grants, owner)
	m.table.remove(g.req)
	m.gate.leave()
	metrics.ActiveGauge.Dec()
	return g.req, m.dispatch()
}

// announce queues unlock events for freed and lock events for granted. It
// is called with m.mu held so events follow the order of table changes.
func (m *Manager) announce(freed *request.Request, granted []*waiter) {
	if m.pub == nil || (freed == nil && len(granted) == 0) {
		return
	}
	if freed != nil {
		for _, n := range names(freed) {
			m.pub.send(UnlockKey(n))
		}
	}
	for _, w := range granted {
		for _, n := range names(w.req) {
			m.pub.send(LockKey(n))
		}
	}
	m.pub.send(ChangedKey)
}

// names lists the resources r holds, with "*" standing for a global hold.
func names(r *request.Request) []string {
	if r.Writes.Global() {
		return []string{GlobalName}
	}
	var out []string
	if r.Reads.Global() {
		out = append(out, GlobalName)
	} else {
		out = append(out, r.Reads.Names()...)
	}
	return append(out, r.Writes.Names()...)
}

// Active returns the granted requests ordered by grant time.
func (m *Manager) Active() []Holder {
	m.mu.Lock()
	out := make([]Holder, 0, len(m.grants))
	for _, g := range m.grants {
		out = append(out, Holder{
			Owner:       g.owner,
			Reads:       g.req.Reads.Names(),
			Writes:      g.req.Writes.Names(),
			GlobalRead:  g.req.Reads.Global(),
			GlobalWrite: g.req.Writes.Global(),
			Since:       g.since,
		})
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Holder) int {
		if c := a.Since.Compare(b.Since); c != 0 {
			return c
		}
		if a.Owner < b.Owner {
			return -1
		}
		if a.Owner > b.Owner {
			return 1
		}
		return 0
	})
	return out
}

// Holds reports whether owner currently has a granted request.
func (m *Manager) Holds(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grants[owner]
	return ok
}

// State reports the lifecycle state of owner's request. Owners the manager
// does not know about are reported as released.
func (m *Manager) State(owner string) request.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[owner]; ok {
		return request.Granted
	}
	if _, ok := m.waiting[owner]; ok {
		return request.Waiting
	}
	return request.Released
}

// HeldMode reports how name is currently held by local (non global) grants.
func (m *Manager) HeldMode(name string) (Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.held(name)
}

// Idle reports whether nothing is granted or waiting.
func (m *Manager) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.empty() && len(m.grants) == 0 && len(m.queue) == 0
}

// Waiting returns the number of queued requests.
func (m *Manager) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Parallel returns the configured admission limit, zero meaning unbounded.
func (m *Manager) Parallel() int {
	if m.gate.limit < 0 {
		return 0
	}
	return m.gate.limit
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Active:    len(m.grants),
		Waiting:   len(m.queue),
		Parallel:  m.Parallel(),
		Granted:   m.granted,
		Cancelled: m.cancelled,
	}
	if m.pub != nil {
		st.DroppedEvents = m.pub.dropped.Load()
	}
	return st
}

// registerMetrics exposes this manager's counters on reg, labelled with the
// manager name.
func (m *Manager) registerMetrics(reg prometheus.Registerer) {
	labels := prometheus.Labels{"manager": m.name}
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "warp_lock_manager_active",
			Help:        "Current number of granted lock requests per manager",
			ConstLabels: labels,
		}, func() float64 { return float64(m.Stats().Active) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "warp_lock_manager_waiting",
			Help:        "Current number of queued lock requests per manager",
			ConstLabels: labels,
		}, func() float64 { return float64(m.Stats().Waiting) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "warp_lock_manager_granted_total",
			Help:        "Total number of granted lock requests per manager",
			ConstLabels: labels,
		}, func() float64 { return float64(m.Stats().Granted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "warp_lock_manager_cancelled_total",
			Help:        "Total number of cancelled lock requests per manager",
			ConstLabels: labels,
		}, func() float64 { return float64(m.Stats().Cancelled) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			m.log.WithFields(logrus.Fields{"manager": m.name, "error": err}).Warn("registering lock metrics failed")
		}
	}
}
