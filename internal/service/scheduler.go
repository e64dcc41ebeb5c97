package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// WorkspaceLister lists every workspace for scheduled jobs.
type WorkspaceLister interface {
	ListWorkspaces() ([]domain.Workspace, error)
}

// ExportScheduler periodically exports every workspace page that has a
// project folder.
type ExportScheduler struct {
	transfer   *TransferService
	workspaces WorkspaceLister

	mu   sync.Mutex
	cron *cron.Cron
}

func NewExportScheduler(transfer *TransferService, workspaces WorkspaceLister) *ExportScheduler {
	return &ExportScheduler{transfer: transfer, workspaces: workspaces}
}

// Start schedules ExportAll on a standard five-field cron expression,
// replacing any earlier schedule.
func (s *ExportScheduler) Start(ctx context.Context, expr string) error {
	s.Stop()
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		s.ExportAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid export schedule %q: %w", expr, err)
	}
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	s.transfer.logger.Info("auto export scheduled", slog.String("cron", expr))
	return nil
}

// ExportAll exports both pages of every workspace and returns how many
// exports succeeded.
func (s *ExportScheduler) ExportAll(ctx context.Context) int {
	list, err := s.workspaces.ListWorkspaces()
	if err != nil {
		s.transfer.logger.Error("auto export: list workspaces", slog.String("err", err.Error()))
		return 0
	}
	done := 0
	for _, ws := range list {
		if ws.ProjectFolder == "" {
			continue
		}
		for _, page := range []domain.Page{domain.PageIdeation, domain.PageStoryboard} {
			if ctx.Err() != nil {
				return done
			}
			if job, busy := s.transfer.Running(ws.ID, page); busy {
				s.transfer.logger.Debug("auto export skipped, busy",
					slog.String("workspace", ws.ID), slog.String("page", string(page)), slog.String("running", job))
				continue
			}
			_, err := s.transfer.Export(ctx, ws.ID, page)
			switch {
			case err == nil:
				done++
			case errors.Is(err, ErrBusy):
				s.transfer.logger.Debug("auto export skipped, busy", slog.String("workspace", ws.ID))
			default:
				s.transfer.logger.Warn("auto export failed",
					slog.String("workspace", ws.ID), slog.String("page", string(page)), slog.String("err", err.Error()))
			}
		}
	}
	return done
}

// Stop cancels the schedule. Running exports are not interrupted.
func (s *ExportScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}
