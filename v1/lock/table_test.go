package lock

import (
	"testing"

	"github.com/mirkobrombin/go-dblock/v1/request"
)

func TestTableCompatibility(t *testing.T) {
	tests := []struct {
		name string
		held *request.Request
		want *request.Request
		ok   bool
	}{
		{"read read", request.New().Read("a"), request.New().Read("a"), true},
		{"read write", request.New().Read("a"), request.New().Write("a"), false},
		{"write read", request.New().Write("a"), request.New().Read("a"), false},
		{"write write", request.New().Write("a"), request.New().Write("a"), false},
		{"disjoint writes", request.New().Write("a"), request.New().Write("b"), true},
		{"global write vs read", request.New().WriteAll(), request.New().Read("b"), false},
		{"global write vs empty", request.New().WriteAll(), request.New(), true},
		{"global read vs write", request.New().ReadAll(), request.New().Write("b"), false},
		{"global read vs read", request.New().ReadAll(), request.New().Read("b"), true},
		{"global read vs global read", request.New().ReadAll(), request.New().ReadAll(), true},
		{"read vs global write", request.New().Read("a"), request.New().WriteAll(), false},
		{"empty vs global write", request.New(), request.New().WriteAll(), true},
		{"write vs global read", request.New().Write("a"), request.New().ReadAll(), false},
		{"read vs global read", request.New().Read("a"), request.New().ReadAll(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTable()
			held := tt.held.Finish(nil)
			tb.add(held)
			if got := tb.grantable(tt.want.Finish(nil)); got != tt.ok {
				t.Fatalf("grantable = %v, want %v", got, tt.ok)
			}
			tb.remove(held)
			if !tb.empty() {
				t.Fatalf("table not empty after remove: %+v", tb)
			}
		})
	}
}

func TestTableSharedReadCounts(t *testing.T) {
	tb := newTable()
	r1 := request.New().Read("a").Finish(nil)
	r2 := request.New().Read("a", "b").Finish(nil)
	tb.add(r1)
	tb.add(r2)
	tb.remove(r1)
	if mode, ok := tb.held("a"); !ok || mode != Read {
		t.Fatalf("a should still be read-held, got %v %v", mode, ok)
	}
	if tb.grantable(request.New().Write("a").Finish(nil)) {
		t.Fatal("write must wait for the remaining reader")
	}
	tb.remove(r2)
	if !tb.empty() {
		t.Fatal("table should be empty")
	}
}

func TestTableDropUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	tb := newTable()
	tb.remove(request.New().Read("ghost").Finish(nil))
}

func TestAdmission(t *testing.T) {
	a := admission{limit: 1}
	if !a.available() {
		t.Fatal("slot should be free")
	}
	a.enter()
	if a.available() {
		t.Fatal("limit reached")
	}
	a.leave()
	unbounded := admission{}
	for i := 0; i < 100; i++ {
		unbounded.enter()
	}
	if !unbounded.available() {
		t.Fatal("zero limit must be unbounded")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on extra leave")
		}
	}()
	a.leave()
}

func TestModeString(t *testing.T) {
	if Read.String() != "read" || Write.String() != "write" {
		t.Fatal("unexpected mode names")
	}
}
