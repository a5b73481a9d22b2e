package lock

import "github.com/mirkobrombin/go-dblock/v1/request"

// Mode is the access mode of a held resource.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

type entry struct {
	mode    Mode
	holders int
}

// table records every granted resource. It is only touched under the
// manager mutex.
type table struct {
	entries     map[string]*entry
	writes      int
	globalReads int
	globalWrite bool
}

func newTable() table {
	return table{entries: make(map[string]*entry)}
}

// grantable reports whether r is compatible with everything in the table.
func (t *table) grantable(r *request.Request) bool {
	if r.Empty() {
		return true
	}
	if t.globalWrite {
		return false
	}
	if r.Writes.Global() {
		return len(t.entries) == 0 && t.globalReads == 0
	}
	if r.Reads.Global() && t.writes > 0 {
		return false
	}
	if r.Writes.Len() > 0 && t.globalReads > 0 {
		return false
	}
	for n := range r.Writes.All() {
		if _, held := t.entries[n]; held {
			return false
		}
	}
	if r.Reads.Global() {
		return true
	}
	for n := range r.Reads.All() {
		if e, held := t.entries[n]; held && e.mode == Write {
			return false
		}
	}
	return true
}

// add records r. The caller must have checked grantable.
func (t *table) add(r *request.Request) {
	if r.Writes.Global() {
		t.globalWrite = true
		return
	}
	if r.Reads.Global() {
		t.globalReads++
	} else {
		for n := range r.Reads.All() {
			t.hold(n, Read)
		}
	}
	for n := range r.Writes.All() {
		t.hold(n, Write)
	}
}

// remove undoes add for the same request.
func (t *table) remove(r *request.Request) {
	if r.Writes.Global() {
		t.globalWrite = false
		return
	}
	if r.Reads.Global() {
		t.globalReads--
	} else {
		for n := range r.Reads.All() {
			t.drop(n)
		}
	}
	for n := range r.Writes.All() {
		t.drop(n)
	}
}

func (t *table) hold(name string, mode Mode) {
	if e, ok := t.entries[name]; ok {
		e.holders++
		return
	}
	t.entries[name] = &entry{mode: mode, holders: 1}
	if mode == Write {
		t.writes++
	}
}

func (t *table) drop(name string) {
	e, ok := t.entries[name]
	if !ok {
		panic("lock: releasing resource that is not held: " + name)
	}
	e.holders--
	if e.holders > 0 {
		return
	}
	delete(t.entries, name)
	if e.mode == Write {
		t.writes--
	}
}

// held returns the mode name is held in, if any. Global holds are not
// reflected.
func (t *table) held(name string) (Mode, bool) {
	e, ok := t.entries[name]
	if !ok {
		return Read, false
	}
	return e.mode, true
}

func (t *table) empty() bool {
	return len(t.entries) == 0 && t.globalReads == 0 && !t.globalWrite
}
