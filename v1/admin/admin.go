// Package admin exposes the lock manager to operational tooling: a JSON view
// of granted requests and a WebSocket stream that pushes a fresh view
// whenever a watched resource is locked or unlocked.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-dblock/v1/lock"
	"github.com/mirkobrombin/go-dblock/v1/syncbus"
)

// Snapshot is the document served by ActiveHandler and WatchHandler.
type Snapshot struct {
	Time    time.Time     `json:"time"`
	Stats   lock.Stats    `json:"stats"`
	Holders []lock.Holder `json:"holders"`
}

// Source is the part of the lock manager read by the handlers.
type Source interface {
	Active() []lock.Holder
	Stats() lock.Stats
}

// Take builds a snapshot of src.
func Take(src Source) Snapshot {
	return Snapshot{Time: time.Now(), Stats: src.Stats(), Holders: src.Active()}
}

// ActiveHandler serves the granted requests of src as JSON.
func ActiveHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Take(src)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

var upgrader = websocket.Upgrader{}

// WatchHandler streams snapshots of src over WebSocket. With a "resource"
// query parameter only lock and unlock events of that resource, or of a
// global hold covering it, trigger a push; otherwise every change of the
// lock table does. A snapshot is sent
// right after the connection is established.
func WatchHandler(src Source, bus syncbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := []string{lock.ChangedKey}
		if res := r.URL.Query().Get("resource"); res != "" {
			keys = []string{
				lock.LockKey(res), lock.UnlockKey(res),
				lock.LockKey(lock.GlobalName), lock.UnlockKey(lock.GlobalName),
			}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		events := make(chan struct{}, 1)
		for _, key := range keys {
			ch, err := bus.Subscribe(ctx, key)
			if err != nil {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
				return
			}
			go forward(ctx, ch, events)
		}
		// detect the client going away
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		if err := conn.WriteJSON(Take(src)); err != nil {
			return
		}
		for {
			select {
			case <-events:
				if err := conn.WriteJSON(Take(src)); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func forward(ctx context.Context, in chan struct{}, out chan<- struct{}) {
	for {
		select {
		case _, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- struct{}{}:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}
