// Package app wires storage, services, the collab hub and the MCP server
// into the canvasd process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jareynolds/UbeCode-sub002/internal/collab"
	"github.com/jareynolds/UbeCode-sub002/internal/config"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
	mcpserver "github.com/jareynolds/UbeCode-sub002/internal/mcp"
	"github.com/jareynolds/UbeCode-sub002/internal/recordstore"
	"github.com/jareynolds/UbeCode-sub002/internal/service"
	"github.com/jareynolds/UbeCode-sub002/internal/storage"
)

// App holds every long-lived component of the process.
type App struct {
	cfg    config.AppConfig
	logger *slog.Logger

	db         *storage.DB
	workspaces *storage.WorkspaceStore
	records    recordstore.Adapter

	canvas    *service.CanvasService
	transfer  *service.TransferService
	scheduler *service.ExportScheduler
	watcher   *service.ConceptionWatcher

	hub       *collab.Hub
	validator *collab.Validator
}

// New opens storage and the record backend and builds the services.
// Background jobs start with Start.
func New(ctx context.Context, cfg config.AppConfig) (*App, error) {
	log.Init(log.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	a := &App{cfg: cfg, logger: log.WithComponent("app")}

	db, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.workspaces = storage.NewWorkspaceStore(db)

	records, err := recordstore.Open(ctx, recordstore.Options{
		Backend:       recordstore.Backend(cfg.Records.Backend),
		Root:          cfg.Records.Root,
		DSN:           cfg.Records.DSN,
		MongoURI:      cfg.Records.MongoURI,
		MongoDatabase: cfg.Records.MongoDatabase,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open records: %w", err)
	}
	a.records = records

	hub, err := collab.NewHub(collab.HubOptions{
		SendBuffer: cfg.Collab.SendBuffer,
		OnSnapshot: a.applySnapshot,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create hub: %w", err)
	}
	a.hub = hub
	if a.validator, err = collab.NewValidator(); err != nil {
		a.Close()
		return nil, fmt.Errorf("create validator: %w", err)
	}

	emitter := service.EmitterFunc(a.emit)
	a.canvas = service.NewCanvasService(storage.NewCanvasStore(db), storage.NewUndoStore(db), emitter)
	a.transfer = service.NewTransferService(a.canvas, a.workspaces, records, emitter)
	a.scheduler = service.NewExportScheduler(a.transfer, a.workspaces)
	a.watcher = service.NewConceptionWatcher(a.transfer)

	a.logger.Info("app ready",
		slog.String("db", cfg.Storage.DBPath),
		slog.String("records", cfg.Records.Backend))
	return a, nil
}

// emit forwards service events to the collab hub and the log.
func (a *App) emit(ctx context.Context, event string, data any) {
	switch event {
	case service.EventCanvasChanged:
		ev, ok := data.(service.ChangeEvent)
		if !ok || a.hub == nil {
			return
		}
		if err := a.hub.Publish(ev.WorkspaceID, ev.Page, ev.State); err != nil {
			a.logger.Warn("publish change", slog.String("workspace", ev.WorkspaceID), slog.String("err", err.Error()))
		}
	default:
		a.logger.Debug("event", slog.String("name", event), slog.Any("data", data))
	}
}

// applySnapshot keeps the server copy in step with the room.
func (a *App) applySnapshot(workspaceID string, page domain.Page, st domain.CanvasState) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.canvas.ReplaceState(ctx, workspaceID, page, st); err != nil {
		a.logger.Warn("apply peer snapshot",
			slog.String("workspace", workspaceID),
			slog.String("page", string(page)),
			slog.String("err", err.Error()))
	}
}

// Start launches the export schedule and the record watchers.
func (a *App) Start(ctx context.Context) error {
	if expr := a.cfg.Export.AutoExportCron; expr != "" {
		if err := a.scheduler.Start(ctx, expr); err != nil {
			return err
		}
	}
	if !a.cfg.Export.WatchConception {
		return nil
	}
	list, err := a.workspaces.ListWorkspaces()
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	for _, ws := range list {
		a.watch(ctx, ws)
	}
	return nil
}

func (a *App) watch(ctx context.Context, ws domain.Workspace) {
	if !a.cfg.Export.WatchConception || ws.ProjectFolder == "" {
		return
	}
	if err := a.watcher.Watch(ctx, ws.ID); err != nil {
		a.logger.Warn("watch records", slog.String("workspace", ws.ID), slog.String("err", err.Error()))
	}
}

// Serve runs the HTTP server until ctx is cancelled, then drains running
// transfers.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.logger.Info("listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown", slog.String("err", err.Error()))
	}
	a.transfer.WaitRunning(shutdownCtx)
	return nil
}

// MCP builds the MCP server over the app services.
func (a *App) MCP() *mcpserver.Server {
	return mcpserver.New(mcpserver.Deps{
		Canvas:     a.canvas,
		Transfer:   a.transfer,
		Workspaces: a.workspaces,
	})
}

// Close stops background jobs and releases storage.
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	var errs []error
	if a.records != nil {
		errs = append(errs, a.records.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, log.Close())
	return errors.Join(errs...)
}
