package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jareynolds/UbeCode-sub002/internal/canvas"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
	"github.com/jareynolds/UbeCode-sub002/internal/storage"
)

// ErrNothingToUndo is returned by Undo and Redo at either end of history.
var ErrNothingToUndo = errors.New("nothing to undo")

// ─────────────────────────────────────────────────────────────
// Canvas Service: live canvas stores backed by SQLite
// ─────────────────────────────────────────────────────────────

// CanvasService owns one live canvas.Store per workspace page. Every
// committed mutation is persisted and recorded in the undo history.
// Mutations landing within MinUndoInterval of the entry that opened a burst
// amend that entry instead of adding a new one.
type CanvasService struct {
	states  domain.CanvasStateStore
	undo    *storage.UndoStore
	emitter EventEmitter
	logger  *slog.Logger

	// MinUndoInterval coalesces bursts such as drags into one history entry
	// holding the burst's latest state.
	MinUndoInterval time.Duration

	mu     sync.Mutex
	stores map[string]*liveCanvas

	activeMu sync.Mutex
	active   string
	gen      uint64
}

type liveCanvas struct {
	workspaceID string
	page        domain.Page
	store       *canvas.Store
	restoring   atomic.Bool

	histMu    sync.Mutex
	burstNode string
	burstAt   time.Time
}

func NewCanvasService(states domain.CanvasStateStore, undo *storage.UndoStore, emitter EventEmitter) *CanvasService {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &CanvasService{
		states:          states,
		undo:            undo,
		emitter:         emitter,
		logger:          log.WithComponent("service"),
		MinUndoInterval: time.Second,
		stores:          map[string]*liveCanvas{},
	}
}

func canvasKey(workspaceID string, page domain.Page) string {
	return workspaceID + "/" + string(page)
}

// Store returns the live store of a workspace page, loading it on first use.
func (s *CanvasService) Store(ctx context.Context, workspaceID string, page domain.Page) (*canvas.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := domain.ParsePage(string(page)); err != nil {
		return nil, err
	}
	key := canvasKey(workspaceID, page)
	s.mu.Lock()
	defer s.mu.Unlock()
	if lc, ok := s.stores[key]; ok {
		return lc.store, nil
	}

	st, err := s.states.LoadState(workspaceID, page)
	if err != nil {
		// Transient read failures start from an empty canvas.
		s.logger.Warn("load canvas failed, starting empty",
			slog.String("workspace", workspaceID), slog.String("page", string(page)), slog.String("err", err.Error()))
		st = domain.EmptyState()
	}

	lc := &liveCanvas{workspaceID: workspaceID, page: page, store: canvas.New(canvas.WithPage(page))}
	lc.store.Replace(st)
	lc.store.Subscribe(func(rev uint64, next domain.CanvasState) {
		s.committed(lc, rev, next)
	})

	if s.undo != nil {
		scope := storage.UndoScope(workspaceID, page)
		if tree, err := s.undo.LoadTree(scope); err == nil && tree == nil {
			if _, err := s.undo.Push(scope, "open", lc.store.State()); err != nil {
				s.logger.Warn("seed undo history", slog.String("err", err.Error()))
			}
		}
	}
	s.stores[key] = lc
	return lc.store, nil
}

func (s *CanvasService) committed(lc *liveCanvas, rev uint64, next domain.CanvasState) {
	logger := s.logger.With(slog.String("workspace", lc.workspaceID), slog.String("page", string(lc.page)))
	if err := s.states.SaveState(lc.workspaceID, lc.page, next); err != nil {
		logger.Error("persist canvas", slog.String("err", err.Error()))
	}
	if s.undo != nil && !lc.restoring.Load() {
		s.record(lc, next, logger)
	}
	s.emitter.Emit(context.Background(), EventCanvasChanged, ChangeEvent{
		WorkspaceID: lc.workspaceID,
		Page:        lc.page,
		Revision:    rev,
		State:       next,
	})
}

// record adds next to the undo history, or folds it into the open burst.
func (s *CanvasService) record(lc *liveCanvas, next domain.CanvasState, logger *slog.Logger) {
	scope := storage.UndoScope(lc.workspaceID, lc.page)
	lc.histMu.Lock()
	defer lc.histMu.Unlock()

	now := time.Now()
	if lc.burstNode != "" && now.Sub(lc.burstAt) < s.MinUndoInterval {
		amended, err := s.undo.Amend(scope, lc.burstNode, next)
		if err != nil {
			logger.Warn("amend undo", slog.String("err", err.Error()))
		}
		if amended {
			return
		}
	}
	node, err := s.undo.Push(scope, "edit", next)
	if err != nil {
		logger.Warn("push undo", slog.String("err", err.Error()))
		lc.burstNode = ""
		return
	}
	lc.burstNode, lc.burstAt = node.ID, now
}

// ChangeEvent is the payload of EventCanvasChanged.
type ChangeEvent struct {
	WorkspaceID string             `json:"workspaceId"`
	Page        domain.Page        `json:"page"`
	Revision    uint64             `json:"revision"`
	State       domain.CanvasState `json:"state"`
}

func (s *CanvasService) State(ctx context.Context, workspaceID string, page domain.Page) (domain.CanvasState, error) {
	st, err := s.Store(ctx, workspaceID, page)
	if err != nil {
		return domain.CanvasState{}, err
	}
	return st.State(), nil
}

// ReplaceState swaps in a whole state, as sent by a client or peer.
func (s *CanvasService) ReplaceState(ctx context.Context, workspaceID string, page domain.Page, st domain.CanvasState) (domain.CanvasState, error) {
	store, err := s.Store(ctx, workspaceID, page)
	if err != nil {
		return domain.CanvasState{}, err
	}
	return store.Replace(st), nil
}

// Undo restores the previous snapshot of a page.
func (s *CanvasService) Undo(ctx context.Context, workspaceID string, page domain.Page) (domain.CanvasState, error) {
	return s.travel(ctx, workspaceID, page, (*storage.UndoStore).Undo)
}

// Redo restores the snapshot undone last.
func (s *CanvasService) Redo(ctx context.Context, workspaceID string, page domain.Page) (domain.CanvasState, error) {
	return s.travel(ctx, workspaceID, page, (*storage.UndoStore).Redo)
}

func (s *CanvasService) travel(ctx context.Context, workspaceID string, page domain.Page, step func(*storage.UndoStore, string) (*storage.UndoNode, error)) (domain.CanvasState, error) {
	if s.undo == nil {
		return domain.CanvasState{}, ErrNothingToUndo
	}
	if _, err := s.Store(ctx, workspaceID, page); err != nil {
		return domain.CanvasState{}, err
	}
	s.mu.Lock()
	lc := s.stores[canvasKey(workspaceID, page)]
	s.mu.Unlock()

	node, err := step(s.undo, storage.UndoScope(workspaceID, page))
	if err != nil {
		return domain.CanvasState{}, fmt.Errorf("undo history: %w", err)
	}
	if node == nil {
		return lc.store.State(), ErrNothingToUndo
	}
	snap, err := node.Snapshot()
	if err != nil {
		return domain.CanvasState{}, err
	}
	lc.histMu.Lock()
	lc.burstNode = ""
	lc.histMu.Unlock()

	lc.restoring.Store(true)
	defer lc.restoring.Store(false)
	return lc.store.Replace(snap), nil
}

// Activate marks workspaceID as the one the user is looking at and returns
// its generation. Pending imports started under another generation are
// discarded.
func (s *CanvasService) Activate(workspaceID string) uint64 {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.active = workspaceID
	s.gen++
	return s.gen
}

// Generation returns the current generation of workspaceID, or 0 when
// another workspace is active.
func (s *CanvasService) Generation(workspaceID string) uint64 {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.active != "" && s.active != workspaceID {
		return 0
	}
	return s.gen
}

// StillActive reports whether a job started at gen may still apply its
// result to workspaceID. With no active workspace every job applies.
func (s *CanvasService) StillActive(workspaceID string, gen uint64) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.active == "" {
		return true
	}
	return s.active == workspaceID && s.gen == gen
}

// Evict drops the live stores of a workspace, for example after deletion.
func (s *CanvasService) Evict(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, lc := range s.stores {
		if lc.workspaceID == workspaceID {
			delete(s.stores, key)
		}
	}
}
