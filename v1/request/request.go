// Package request builds the lock requests handed to the lock manager: one
// name set for reads, one for writes, resolved against the session before
// use.
package request

import (
	"fmt"

	"github.com/mirkobrombin/go-dblock/v1/resource"
)

// Current is the placeholder for the database opened in the issuing session.
const Current = "%current"

// State describes where a request is in its lifecycle.
type State int

const (
	Unfinished State = iota
	Finished
	Waiting
	Granted
	Released
)

func (s State) String() string {
	switch s {
	case Unfinished:
		return "unfinished"
	case Finished:
		return "finished"
	case Waiting:
		return "waiting"
	case Granted:
		return "granted"
	case Released:
		return "released"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session exposes the context needed to resolve placeholders.
type Session interface {
	// CurrentDatabase returns the name of the opened database, if any.
	CurrentDatabase() (string, bool)
}

// Declaration holds the resources an extension function declared it reads
// and writes.
type Declaration struct {
	Reads  []string
	Writes []string
}

// Request describes everything one operation must lock before it runs.
type Request struct {
	Reads  *resource.Set
	Writes *resource.Set

	finished bool
}

// New returns an empty request.
func New() *Request {
	return &Request{Reads: resource.NewSet(), Writes: resource.NewSet()}
}

// Read adds names to the read set.
func (r *Request) Read(names ...string) *Request {
	for _, n := range names {
		r.Reads.Add(n)
	}
	return r
}

// Write adds names to the write set.
func (r *Request) Write(names ...string) *Request {
	for _, n := range names {
		r.Writes.Add(n)
	}
	return r
}

// ReadAll marks the request as reading every resource. Used when the target
// is only known at runtime.
func (r *Request) ReadAll() *Request {
	r.Reads.AddGlobal()
	return r
}

// WriteAll marks the request as writing every resource.
func (r *Request) WriteAll() *Request {
	r.Writes.AddGlobal()
	return r
}

// ReadCurrent reads the database opened in the session.
func (r *Request) ReadCurrent() *Request {
	return r.Read(Current)
}

// WriteCurrent writes the database opened in the session.
func (r *Request) WriteCurrent() *Request {
	return r.Write(Current)
}

// Declare merges the lock declaration of an extension function.
func (r *Request) Declare(d Declaration) *Request {
	r.Read(d.Reads...)
	return r.Write(d.Writes...)
}

// Finish resolves placeholders against s and normalizes the sets. Only the
// first call has an effect. A nil session behaves like a session without an
// opened database.
func (r *Request) Finish(s Session) *Request {
	if r.finished {
		return r
	}
	r.finished = true

	name, ok := "", false
	if s != nil {
		name, ok = s.CurrentDatabase()
	}
	resolve(r.Reads, name, ok)
	resolve(r.Writes, name, ok)

	if r.Writes.Global() {
		r.Reads = resource.NewSet()
		return r
	}
	for n := range r.Writes.All() {
		r.Reads.Remove(n)
	}
	return r
}

func resolve(s *resource.Set, name string, ok bool) {
	if !s.Contains(Current) {
		return
	}
	if ok {
		s.Replace(Current, name)
		return
	}
	s.Remove(Current)
	s.AddGlobal()
}

// Finished reports whether Finish has been called.
func (r *Request) Finished() bool {
	return r.finished
}

// Empty reports whether the request locks nothing.
func (r *Request) Empty() bool {
	return r.Reads.Empty() && r.Writes.Empty()
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	return &Request{Reads: r.Reads.Clone(), Writes: r.Writes.Clone(), finished: r.finished}
}

func (r *Request) String() string {
	return fmt.Sprintf("read%s write%s", r.Reads, r.Writes)
}
