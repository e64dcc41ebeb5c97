package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/render"
	"github.com/jareynolds/UbeCode-sub002/internal/service"
	"github.com/jareynolds/UbeCode-sub002/internal/storage"
)

// maxStateBody bounds PUT state and matches the websocket read limit.
const maxStateBody = 8 << 20

// Handler returns the HTTP API plus the collab websocket at /ws.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /ws", a.hub)

	mux.HandleFunc("GET /api/workspaces", a.handleListWorkspaces)
	mux.HandleFunc("POST /api/workspaces", a.handleCreateWorkspace)

	const page = "/api/workspaces/{ws}/pages/{page}"
	mux.HandleFunc("GET "+page+"/state", a.handleGetState)
	mux.HandleFunc("PUT "+page+"/state", a.handlePutState)
	mux.HandleFunc("POST "+page+"/export", a.handleExport)
	mux.HandleFunc("POST "+page+"/import", a.handleImport)
	mux.HandleFunc("POST "+page+"/undo", a.handleUndo)
	mux.HandleFunc("POST "+page+"/redo", a.handleRedo)
	mux.HandleFunc("GET "+page+"/preview.png", a.handlePreview("image/png", render.PNG))
	mux.HandleFunc("GET "+page+"/preview.pdf", a.handlePreview("application/pdf", render.PDF))
	return a.logRequests(mux)
}

func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		a.logger.Debug("request", slog.String("method", r.Method), slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// ── Helpers ────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrWorkspaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBusy), errors.Is(err, service.ErrStale), errors.Is(err, service.ErrNothingToUndo):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoFolder):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// target resolves the workspace and page of a page-scoped route.
func (a *App) target(w http.ResponseWriter, r *http.Request) (*domain.Workspace, domain.Page, bool) {
	page, err := domain.ParsePage(r.PathValue("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, "", false
	}
	ws, err := a.workspaces.GetWorkspace(r.PathValue("ws"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, "", false
	}
	return ws, page, true
}

// ── Workspaces ─────────────────────────────────────────────

func (a *App) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := a.workspaces.ListWorkspaces()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createWorkspaceRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ProjectFolder string `json:"projectFolder"`
}

func (a *App) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ws := &domain.Workspace{ID: req.ID, Name: req.Name, ProjectFolder: strings.TrimSpace(req.ProjectFolder)}
	if err := a.workspaces.CreateWorkspace(ws); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.watch(r.Context(), *ws)
	a.logger.Info("workspace created", slog.String("id", ws.ID), slog.String("name", ws.Name))
	writeJSON(w, http.StatusCreated, ws)
}

// ── Canvas state ───────────────────────────────────────────

func (a *App) handleGetState(w http.ResponseWriter, r *http.Request) {
	ws, page, ok := a.target(w, r)
	if !ok {
		return
	}
	st, err := a.canvas.State(r.Context(), ws.ID, page)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handlePutState replaces a page with a client snapshot. The body must
// satisfy the same schema as collab snapshots.
func (a *App) handlePutState(w http.ResponseWriter, r *http.Request) {
	ws, page, ok := a.target(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxStateBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := a.validator.DecodeState(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	next, err := a.canvas.ReplaceState(r.Context(), ws.ID, page, st)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (a *App) handleUndo(w http.ResponseWriter, r *http.Request) {
	a.travel(w, r, a.canvas.Undo)
}

func (a *App) handleRedo(w http.ResponseWriter, r *http.Request) {
	a.travel(w, r, a.canvas.Redo)
}

type travelFunc func(ctx context.Context, workspaceID string, page domain.Page) (domain.CanvasState, error)

func (a *App) travel(w http.ResponseWriter, r *http.Request, step travelFunc) {
	ws, page, ok := a.target(w, r)
	if !ok {
		return
	}
	st, err := step(r.Context(), ws.ID, page)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ── Transfer ───────────────────────────────────────────────

func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	ws, page, ok := a.target(w, r)
	if !ok {
		return
	}
	res, err := a.transfer.Export(r.Context(), ws.ID, page)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *App) handleImport(w http.ResponseWriter, r *http.Request) {
	ws, page, ok := a.target(w, r)
	if !ok {
		return
	}
	a.canvas.Activate(ws.ID)
	sum, err := a.transfer.Import(r.Context(), ws.ID, page)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ── Previews ───────────────────────────────────────────────

type renderFunc func(io.Writer, domain.CanvasState, render.Options) error

func (a *App) handlePreview(contentType string, draw renderFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, page, ok := a.target(w, r)
		if !ok {
			return
		}
		st, err := a.canvas.State(r.Context(), ws.ID, page)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		var buf bytes.Buffer
		err = draw(&buf, st, render.Options{Title: ws.Name + " / " + string(page)})
		switch {
		case errors.Is(err, render.ErrEmptyCanvas):
			writeError(w, http.StatusNotFound, err)
			return
		case err != nil:
			a.logger.Error("render preview", slog.String("workspace", ws.ID), slog.String("err", err.Error()))
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	}
}
