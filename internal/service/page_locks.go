package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// jobKind names the transfer holding a page.
type jobKind string

const (
	jobExport jobKind = "export"
	jobImport jobKind = "import"
	jobDelete jobKind = "delete"
)

// BusyError reports the transfer already holding a workspace page. It
// matches ErrBusy under errors.Is.
type BusyError struct {
	WorkspaceID string
	Page        domain.Page
	Running     string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s of %s/%s already running", e.Running, e.WorkspaceID, e.Page)
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// pageLocks admits one transfer per workspace page. Export, import and
// card record deletion of a page exclude each other; other pages proceed.
type pageLocks struct {
	mu      sync.Mutex
	holders map[string]jobKind
	wg      sync.WaitGroup
}

// acquire claims the page for kind and returns its release func.
func (l *pageLocks) acquire(workspaceID string, page domain.Page, kind jobKind) (func(), error) {
	key := canvasKey(workspaceID, page)
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.holders[key]; ok {
		return nil, &BusyError{WorkspaceID: workspaceID, Page: page, Running: string(held)}
	}
	if l.holders == nil {
		l.holders = make(map[string]jobKind)
	}
	l.holders[key] = kind
	l.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.holders, key)
			l.mu.Unlock()
			l.wg.Done()
		})
	}, nil
}

func (l *pageLocks) running(workspaceID string, page domain.Page) (jobKind, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kind, ok := l.holders[canvasKey(workspaceID, page)]
	return kind, ok
}

// wait blocks until every held page is released or ctx is cancelled.
func (l *pageLocks) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
