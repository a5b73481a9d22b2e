package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-dblock/v1/lock"
	"github.com/mirkobrombin/go-dblock/v1/request"
	"github.com/mirkobrombin/go-dblock/v1/resource"
)

// Workload describes the generated load.
type Workload struct {
	Workers   int
	Requests  int
	Resources int
	MaxHold   time.Duration
	Seed      int64
}

// Result summarizes a finished workload.
type Result struct {
	Granted int
	Global  int
	MaxWait time.Duration
}

var reserved = []string{resource.Context, resource.Users, resource.Repository, resource.Backup}

// session simulates the database opened by a client.
type session struct{ db string }

func (s session) CurrentDatabase() (string, bool) { return s.db, s.db != "" }

// newRequest builds one operation's lock request the way a query compiler
// would: a few databases, occasionally the opened one or a system resource,
// and rarely a runtime-computed target that forces a global lock.
func newRequest(rng *rand.Rand, dbs []string) *request.Request {
	r := request.New()
	switch rng.Intn(40) {
	case 0:
		return r.WriteAll().Finish(nil)
	case 1:
		r.ReadAll()
	}
	for _, db := range dbs {
		switch rng.Intn(5) {
		case 0:
			r.Read(db)
		case 1:
			r.Write(db)
		}
	}
	if rng.Intn(10) == 0 {
		name := reserved[rng.Intn(len(reserved))]
		r.Declare(request.Declaration{Writes: []string{name}})
	}
	var s request.Session
	if rng.Intn(8) == 0 {
		r.ReadCurrent()
		if rng.Intn(2) == 0 {
			s = session{db: dbs[rng.Intn(len(dbs))]}
		}
	}
	return r.Finish(s)
}

// Run executes w against m and waits for every worker.
func Run(ctx context.Context, m *lock.Manager, w Workload) (Result, error) {
	dbs := make([]string, w.Resources)
	for i := range dbs {
		dbs[i] = fmt.Sprintf("db%d", i+1)
	}

	var mu sync.Mutex
	var res Result
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.Workers; i++ {
		rng := rand.New(rand.NewSource(w.Seed + int64(i)))
		g.Go(func() error {
			for j := 0; j < w.Requests; j++ {
				owner := uuid.NewString()
				r := newRequest(rng, dbs)
				start := time.Now()
				if err := m.Acquire(ctx, owner, r); err != nil {
					return fmt.Errorf("request %s (%v): %w", owner, r, err)
				}
				wait := time.Since(start)
				if w.MaxHold > 0 {
					time.Sleep(time.Duration(rng.Int63n(int64(w.MaxHold))))
				}
				m.Release(owner)

				mu.Lock()
				res.Granted++
				if r.Reads.Global() || r.Writes.Global() {
					res.Global++
				}
				res.MaxWait = max(res.MaxWait, wait)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return res, err
}
