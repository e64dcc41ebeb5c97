package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jareynolds/UbeCode-sub002/internal/canvas"
	"github.com/jareynolds/UbeCode-sub002/internal/codec"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
	"github.com/jareynolds/UbeCode-sub002/internal/recordstore"
)

var (
	// ErrBusy is returned when a transfer of the same page is running.
	ErrBusy = errors.New("transfer already running")
	// ErrStale is returned when the workspace changed while an import ran.
	ErrStale = errors.New("workspace no longer active")
	// ErrNoFolder is returned for workspaces without a project folder.
	ErrNoFolder = errors.New("workspace has no project folder")
)

// WorkspaceLookup resolves workspace ids to their folder.
type WorkspaceLookup interface {
	GetWorkspace(id string) (*domain.Workspace, error)
}

// exportMarker is implemented by workspace stores that track exports.
type exportMarker interface {
	MarkExported(id string, at time.Time) error
}

// ─────────────────────────────────────────────────────────────
// Transfer Service: export and import of canvas records
// ─────────────────────────────────────────────────────────────

// TransferService moves canvas state between live stores and the record
// adapter.
type TransferService struct {
	canvas     *CanvasService
	workspaces WorkspaceLookup
	records    recordstore.Adapter
	emitter    EventEmitter
	guard      pageLocks
	logger     *slog.Logger

	// Subfolder defaults to codec.DefaultSubfolder.
	Subfolder string
	// NewID mints ids for imported items; nil uses uuids.
	NewID func() string
}

func NewTransferService(cs *CanvasService, workspaces WorkspaceLookup, records recordstore.Adapter, emitter EventEmitter) *TransferService {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &TransferService{
		canvas:     cs,
		workspaces: workspaces,
		records:    records,
		emitter:    emitter,
		logger:     log.WithComponent("service"),
		Subfolder:  codec.DefaultSubfolder,
	}
}

// ExportResult summarizes an export.
type ExportResult struct {
	WorkspaceID string   `json:"workspaceId"`
	Page        string   `json:"page"`
	Records     []string `json:"records"`
}

// ImportSummary summarizes an import.
type ImportSummary struct {
	WorkspaceID string   `json:"workspaceId"`
	Page        string   `json:"page"`
	Items       int      `json:"items"`
	Connections int      `json:"connections"`
	Duplicates  []string `json:"duplicates,omitempty"`
	Malformed   []string `json:"malformed,omitempty"`
}

func (s *TransferService) folder(workspaceID string) (*domain.Workspace, error) {
	ws, err := s.workspaces.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	if ws.ProjectFolder == "" {
		return nil, fmt.Errorf("%s: %w", workspaceID, ErrNoFolder)
	}
	return ws, nil
}

// Export writes the records of a page to the workspace folder.
func (s *TransferService) Export(ctx context.Context, workspaceID string, page domain.Page) (*ExportResult, error) {
	key := canvasKey(workspaceID, page)
	release, err := s.guard.acquire(workspaceID, page, jobExport)
	if err != nil {
		return nil, err
	}
	defer release()

	ws, err := s.folder(workspaceID)
	if err != nil {
		return nil, err
	}
	st, err := s.canvas.State(ctx, workspaceID, page)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	recs, err := codec.Export(st, codec.ExportOptions{Page: page, Workspace: ws.Name, Now: now})
	if err != nil {
		return nil, err
	}
	if err := s.records.WriteRecords(ctx, ws.ProjectFolder, s.Subfolder, recs); err != nil {
		return nil, fmt.Errorf("export %s: %w", key, err)
	}
	if m, ok := s.workspaces.(exportMarker); ok {
		if err := m.MarkExported(workspaceID, now); err != nil {
			s.logger.Warn("mark exported", slog.String("workspace", workspaceID), slog.String("err", err.Error()))
		}
	}

	res := &ExportResult{WorkspaceID: workspaceID, Page: string(page)}
	for _, r := range recs {
		res.Records = append(res.Records, r.Name)
	}
	s.logger.Info("canvas exported",
		slog.String("workspace", workspaceID), slog.String("page", string(page)), slog.Int("records", len(recs)))
	s.emitter.Emit(ctx, EventCanvasExported, res)
	return res, nil
}

// Import reads the records of a page and appends what is new. The result
// is dropped with ErrStale if another workspace was activated meanwhile.
func (s *TransferService) Import(ctx context.Context, workspaceID string, page domain.Page) (*ImportSummary, error) {
	gen := s.canvas.Generation(workspaceID)
	release, err := s.guard.acquire(workspaceID, page, jobImport)
	if err != nil {
		return nil, err
	}
	defer release()

	ws, err := s.folder(workspaceID)
	if err != nil {
		return nil, err
	}
	all, err := s.records.ListRecords(ctx, ws.ProjectFolder, s.Subfolder)
	if err != nil {
		// A folder that cannot be read imports nothing.
		s.logger.Warn("list records failed", slog.String("workspace", workspaceID), slog.String("err", err.Error()))
		all = nil
	}
	recs := recordsForPage(all, page)

	store, err := s.canvas.Store(ctx, workspaceID, page)
	if err != nil {
		return nil, err
	}
	res, err := codec.Import(recs, store.State(), codec.ImportOptions{Page: page, NewID: s.NewID})
	if err != nil {
		return nil, err
	}
	if !s.canvas.StillActive(workspaceID, gen) {
		s.logger.Info("import discarded", slog.String("workspace", workspaceID))
		return nil, ErrStale
	}
	if len(res.Items) > 0 || len(res.Connections) > 0 {
		store.Append(res.Items, res.Connections)
	}

	sum := &ImportSummary{
		WorkspaceID: workspaceID,
		Page:        string(page),
		Items:       len(res.Items),
		Connections: len(res.Connections),
		Duplicates:  res.Duplicates,
		Malformed:   res.Malformed,
	}
	s.logger.Info("canvas imported",
		slog.String("workspace", workspaceID), slog.String("page", string(page)),
		slog.Int("items", sum.Items), slog.Int("connections", sum.Connections), slog.Int("duplicates", len(sum.Duplicates)))
	s.emitter.Emit(ctx, EventCanvasImported, sum)
	return sum, nil
}

// recordsForPage keeps the records the page's codec reads.
func recordsForPage(records []domain.Record, page domain.Page) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		switch page {
		case domain.PageStoryboard:
			if codec.IsStoryRecord(r.Name) {
				out = append(out, r)
			}
		default:
			if strings.HasPrefix(r.Name, "IDEA-") {
				out = append(out, r)
			}
		}
	}
	return out
}

// DeleteCard removes a story card. A card imported from a record also
// has that record deleted.
func (s *TransferService) DeleteCard(ctx context.Context, workspaceID, itemID string) error {
	release, err := s.guard.acquire(workspaceID, domain.PageStoryboard, jobDelete)
	if err != nil {
		return err
	}
	defer release()

	store, err := s.canvas.Store(ctx, workspaceID, domain.PageStoryboard)
	if err != nil {
		return err
	}
	it, ok := store.Item(itemID)
	if !ok {
		return fmt.Errorf("delete card %s: %w", itemID, canvas.ErrItemNotFound)
	}
	if it.Card != nil && it.Card.SourceFileName != "" {
		ws, err := s.folder(workspaceID)
		if err != nil {
			return err
		}
		err = s.records.DeleteRecord(ctx, ws.ProjectFolder, s.Subfolder, it.Card.SourceFileName)
		switch {
		case err == nil:
			s.emitter.Emit(ctx, EventCardFileGone, it.Card.SourceFileName)
		case errors.Is(err, recordstore.ErrNotFound):
			s.logger.Debug("card record already gone", slog.String("name", it.Card.SourceFileName))
		default:
			return fmt.Errorf("delete card record: %w", err)
		}
	}
	_, err = store.RemoveItem(itemID)
	return err
}

// Running reports which transfer, if any, holds a workspace page.
func (s *TransferService) Running(workspaceID string, page domain.Page) (string, bool) {
	kind, ok := s.guard.running(workspaceID, page)
	return string(kind), ok
}

// WaitRunning blocks until running transfers finish or ctx is cancelled.
func (s *TransferService) WaitRunning(ctx context.Context) {
	s.guard.wait(ctx)
}
