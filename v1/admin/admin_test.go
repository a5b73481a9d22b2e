package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-dblock/v1/lock"
	"github.com/mirkobrombin/go-dblock/v1/request"
	"github.com/mirkobrombin/go-dblock/v1/syncbus"
)

func TestActiveHandler(t *testing.T) {
	m := lock.NewManager(lock.WithParallel(3))
	if err := m.Acquire(context.Background(), "job-1", request.New().Read("db1").Write("db2")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer m.Release("job-1")

	rec := httptest.NewRecorder()
	ActiveHandler(m)(rec, httptest.NewRequest(http.MethodGet, "/active", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Stats.Active != 1 || snap.Stats.Parallel != 3 {
		t.Fatalf("unexpected stats %+v", snap.Stats)
	}
	if len(snap.Holders) != 1 || snap.Holders[0].Owner != "job-1" || snap.Holders[0].Writes[0] != "db2" {
		t.Fatalf("unexpected holders %+v", snap.Holders)
	}
}

func readSnapshot(t *testing.T, conn *websocket.Conn) Snapshot {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read: %v", err)
	}
	return snap
}

func TestWatchHandlerStreamsResourceEvents(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	m := lock.NewManager(lock.WithBus(bus))
	defer m.Close()
	srv := httptest.NewServer(WatchHandler(m, bus))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?resource=db1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if snap := readSnapshot(t, conn); len(snap.Holders) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", snap)
	}

	// subscriptions are registered before the first snapshot is written
	if err := m.Acquire(context.Background(), "writer", request.New().Write("db1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	snap := readSnapshot(t, conn)
	if len(snap.Holders) != 1 || snap.Holders[0].Owner != "writer" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	m.Release("writer")
	if snap := readSnapshot(t, conn); len(snap.Holders) != 0 {
		t.Fatalf("expected empty snapshot after release, got %+v", snap)
	}
}

func TestWatchHandlerStreamsGlobalHolds(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	m := lock.NewManager(lock.WithBus(bus))
	defer m.Close()
	srv := httptest.NewServer(WatchHandler(m, bus))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?resource=db1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readSnapshot(t, conn)

	// a global write covers db1 without naming it
	if err := m.Acquire(context.Background(), "backup", request.New().WriteAll()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	snap := readSnapshot(t, conn)
	if len(snap.Holders) != 1 || !snap.Holders[0].GlobalWrite {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	m.Release("backup")
	if snap := readSnapshot(t, conn); len(snap.Holders) != 0 {
		t.Fatalf("expected empty snapshot after release, got %+v", snap)
	}
}
