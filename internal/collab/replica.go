package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jareynolds/UbeCode-sub002/internal/canvas"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// RemoteGuard remembers the store revisions written by remote snapshots.
// The local observer skips exactly those commits, so local edits landing
// from other goroutines during an apply are still broadcast.
type RemoteGuard struct {
	mu   sync.Mutex
	revs map[uint64]struct{}
}

// Mark records rev as a remote write.
func (g *RemoteGuard) Mark(rev uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.revs == nil {
		g.revs = make(map[uint64]struct{})
	}
	g.revs[rev] = struct{}{}
}

// Consume reports whether rev was a remote write and forgets it.
func (g *RemoteGuard) Consume(rev uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.revs[rev]; !ok {
		return false
	}
	delete(g.revs, rev)
	return true
}

// Replica keeps a canvas store and the channel in step: local commits are
// broadcast, grid-changes for the same page overwrite the store.
type Replica struct {
	store  *canvas.Store
	client *Client
	guard  RemoteGuard

	unsubscribe func()
	applied     atomic.Int64
	sent        atomic.Int64
}

func NewReplica(store *canvas.Store, client *Client) *Replica {
	r := &Replica{store: store, client: client}
	r.unsubscribe = store.Subscribe(r.observe)
	client.OnGridChange(func(change GridChange) {
		if err := r.ApplyRemote(change); err != nil {
			client.logger.Warn("remote snapshot not applied", slog.String("user", change.UserID), slog.String("err", err.Error()))
		}
	})
	return r
}

func (r *Replica) observe(rev uint64, st domain.CanvasState) {
	if r.guard.Consume(rev) {
		return
	}
	err := r.client.BroadcastState(r.store.Page(), st)
	if err != nil && !errors.Is(err, ErrNotJoined) {
		r.client.logger.Warn("broadcast failed", slog.String("err", err.Error()))
		return
	}
	if err == nil {
		r.sent.Add(1)
	}
}

// ApplyRemote overwrites the store with a snapshot from a peer. Changes for
// another page or of another update type are ignored.
func (r *Replica) ApplyRemote(change GridChange) error {
	if change.Page != string(r.store.Page()) || change.UpdateType != UpdateState {
		return nil
	}
	var st domain.CanvasState
	if err := json.Unmarshal(change.Data, &st); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	r.store.ReplaceMarked(st, r.guard.Mark)
	r.applied.Add(1)
	return nil
}

// Applied counts remote snapshots written into the store.
func (r *Replica) Applied() int64 { return r.applied.Load() }

// Sent counts local commits handed to BroadcastState.
func (r *Replica) Sent() int64 { return r.sent.Load() }

func (r *Replica) Close() {
	r.unsubscribe()
	r.client.OnGridChange(nil)
}
