package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jareynolds/UbeCode-sub002/internal/codec"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// ConceptionWatcher re-imports a workspace page when its record files
// change on disk. Bursts of events are debounced per page.
type ConceptionWatcher struct {
	transfer *TransferService

	// Delay is the debounce window; zero means 500ms.
	Delay time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dirs    map[string]string // folder -> workspace id
	timers  map[string]*time.Timer
	cancel  context.CancelFunc
}

func NewConceptionWatcher(transfer *TransferService) *ConceptionWatcher {
	return &ConceptionWatcher{
		transfer: transfer,
		dirs:     map[string]string{},
		timers:   map[string]*time.Timer{},
	}
}

// Watch starts watching the record folder of a workspace. The folder is
// created if missing.
func (w *ConceptionWatcher) Watch(ctx context.Context, workspaceID string) error {
	ws, err := w.transfer.folder(workspaceID)
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(filepath.Join(ws.ProjectFolder, w.transfer.Subfolder))
	if err != nil {
		return fmt.Errorf("resolve record folder: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create record folder: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		loopCtx, cancel := context.WithCancel(ctx)
		w.watcher, w.cancel = fw, cancel
		go w.loop(loopCtx, fw)
	}
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirs[dir] = workspaceID
	w.transfer.logger.Info("watching records", slog.String("workspace", workspaceID), slog.String("dir", dir))
	return nil
}

func (w *ConceptionWatcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.changed(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.transfer.logger.Warn("record watcher error", slog.String("err", err.Error()))
		}
	}
}

// pageFor maps a record file name to the page that imports it.
func pageFor(name string) (domain.Page, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	switch {
	case strings.HasPrefix(base, "IDEA-"):
		return domain.PageIdeation, true
	case codec.IsStoryRecord(base):
		return domain.PageStoryboard, true
	}
	return "", false
}

func (w *ConceptionWatcher) changed(ctx context.Context, path string) {
	page, ok := pageFor(path)
	if !ok {
		return
	}
	abs, _ := filepath.Abs(filepath.Dir(path))

	w.mu.Lock()
	defer w.mu.Unlock()
	wsID, ok := w.dirs[abs]
	if !ok {
		return
	}
	delay := w.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	key := canvasKey(wsID, page)
	if t, exists := w.timers[key]; exists {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(delay, func() {
		w.transfer.logger.Debug("records changed, importing", slog.String("workspace", wsID), slog.String("page", string(page)))
		if _, err := w.transfer.Import(ctx, wsID, page); err != nil {
			w.transfer.logger.Warn("auto import failed", slog.String("workspace", wsID), slog.String("err", err.Error()))
		}
	})
}

// Stop closes the watcher and cancels pending imports.
func (w *ConceptionWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, t := range w.timers {
		t.Stop()
		delete(w.timers, k)
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
	w.dirs = map[string]string{}
}
