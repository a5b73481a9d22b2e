package request

import (
	"slices"
	"testing"

	"github.com/mirkobrombin/go-dblock/v1/resource"
)

type session struct{ db string }

func (s session) CurrentDatabase() (string, bool) { return s.db, s.db != "" }

func TestFinishResolvesCurrent(t *testing.T) {
	r := New().ReadCurrent().Write("logs").Finish(session{db: "books"})
	if !slices.Equal(r.Reads.Names(), []string{"books"}) {
		t.Fatalf("unexpected reads %v", r.Reads)
	}
	if r.Reads.Global() {
		t.Fatal("resolved set must not be global")
	}
}

func TestFinishPromotesWithoutDatabase(t *testing.T) {
	r := New().WriteCurrent().Read("a").Finish(session{})
	if !r.Writes.Global() {
		t.Fatal("writes should be global without an opened database")
	}
	if r.Writes.Contains(Current) {
		t.Fatal("placeholder must be removed")
	}
	if !r.Reads.Empty() {
		t.Fatalf("global write should clear reads, got %v", r.Reads)
	}

	r = New().ReadCurrent().Finish(nil)
	if !r.Reads.Global() {
		t.Fatal("nil session should promote to global")
	}
}

func TestFinishWriteDominatesRead(t *testing.T) {
	r := New().Read("a", "b", "c").Write("b", "d").Finish(nil)
	if !slices.Equal(r.Reads.Names(), []string{"a", "c"}) {
		t.Fatalf("unexpected reads %v", r.Reads)
	}
	if !slices.Equal(r.Writes.Names(), []string{"b", "d"}) {
		t.Fatalf("unexpected writes %v", r.Writes)
	}
}

func TestFinishKeepsExplicitGlobal(t *testing.T) {
	r := New().ReadAll().Write("x").Finish(session{db: "y"})
	if !r.Reads.Global() {
		t.Fatal("explicit global read lost")
	}
	if r.Writes.Global() {
		t.Fatal("writes should stay local")
	}
}

func TestFinishIdempotent(t *testing.T) {
	r := New().ReadCurrent().Finish(session{db: "one"})
	r.Finish(session{db: "two"})
	if !r.Finished() {
		t.Fatal("request should be finished")
	}
	if !slices.Equal(r.Reads.Names(), []string{"one"}) {
		t.Fatalf("second finish changed request: %v", r.Reads)
	}
}

func TestDeclareMergesExtensionLocks(t *testing.T) {
	r := New().Read(resource.Users).Declare(Declaration{
		Reads:  []string{"geo"},
		Writes: []string{resource.Repository},
	}).Finish(nil)
	if !r.Reads.Contains("geo") || !r.Reads.Contains(resource.Users) {
		t.Fatalf("declared reads missing: %v", r.Reads)
	}
	if !r.Writes.Contains(resource.Repository) {
		t.Fatalf("declared writes missing: %v", r.Writes)
	}
	if New().Empty() != true || r.Empty() {
		t.Fatal("unexpected emptiness")
	}
	if got := New().Read("a").Write("b").String(); got != "read{a} write{b}" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestStateString(t *testing.T) {
	if Granted.String() != "granted" || State(42).String() != "State(42)" {
		t.Fatal("unexpected state names")
	}
}
