// Package codec converts canvas state to persisted records and back.
//
// Ideation items become IDEA-<token> records: markdown for text and shape
// items, a binary record plus JSON companion for embedded images. Story
// cards become STORY-<TITLE> records with an SBSUP-INDEX-1 index holding
// the connection table. Connections of ideation items live only inside
// the per-item records and are rebuilt on import through an IDMap.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// DefaultSubfolder is where canvas records live inside a workspace folder.
const DefaultSubfolder = "conception"

type ExportOptions struct {
	Page      domain.Page
	Workspace string
	Now       time.Time
}

type ImportOptions struct {
	Page  domain.Page
	NewID func() string
}

// ImportResult holds what an import adds to the existing state.
type ImportResult struct {
	Items       []domain.Item
	Connections []domain.Connection
	IDs         *IDMap
	// Duplicates lists records whose content matched an existing item.
	Duplicates []string
	// Malformed lists records that were parsed with defaults.
	Malformed []string
}

// Export renders the state of one page as records.
func Export(st domain.CanvasState, opts ExportOptions) ([]domain.Record, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Workspace == "" {
		opts.Workspace = "Unknown"
	}
	switch opts.Page {
	case domain.PageIdeation, "":
		return exportIdeation(st, opts), nil
	case domain.PageStoryboard:
		return exportStoryboard(st, opts), nil
	}
	return nil, fmt.Errorf("export: unknown page %q", opts.Page)
}

// Import parses records into new items and connections to append to
// existing. Records that match existing content are not imported again.
func Import(records []domain.Record, existing domain.CanvasState, opts ImportOptions) (ImportResult, error) {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	switch opts.Page {
	case domain.PageIdeation, "":
		return importIdeation(records, existing, opts), nil
	case domain.PageStoryboard:
		return importStoryboard(records, existing, opts), nil
	}
	return ImportResult{}, fmt.Errorf("import: unknown page %q", opts.Page)
}

// DedupeKey identifies an item by normalized title and description. Shapes
// and images add their geometry or image digest since their text is often
// empty.
func DedupeKey(it domain.Item) string {
	key := string(it.Kind) + "::" + normalize(it.Title()) + "::" + normalize(it.Description())
	switch it.Kind {
	case domain.KindShape:
		if it.Shape != nil {
			key += fmt.Sprintf("::%s::%d,%d,%d,%d", it.Shape.ShapeType, round(it.X), round(it.Y), round(it.Width), round(it.Height))
		}
	case domain.KindImage:
		if it.Image != nil {
			sum := sha256.Sum256([]byte(it.Image.URL))
			key += "::" + hex.EncodeToString(sum[:8])
		}
	}
	return key
}

// dedupeIndex maps dedupe keys to item ids.
func dedupeIndex(items []domain.Item) map[string]string {
	idx := make(map[string]string, len(items))
	for _, it := range items {
		if _, ok := idx[DedupeKey(it)]; !ok {
			idx[DedupeKey(it)] = it.ID
		}
	}
	return idx
}

type pairKey struct{ from, to string }

// connectionSet tracks which connections exist to drop duplicates and self links.
type connectionSet struct {
	ids   map[string]bool
	pairs map[pairKey]bool
}

func newConnectionSet(existing []domain.Connection) *connectionSet {
	cs := &connectionSet{ids: map[string]bool{}, pairs: map[pairKey]bool{}}
	for _, c := range existing {
		cs.ids[c.ID] = true
		cs.pairs[pairKey{c.From, c.To}] = true
	}
	return cs
}

func (cs *connectionSet) add(c domain.Connection) bool {
	p := pairKey{c.From, c.To}
	if c.From == "" || c.To == "" || c.From == c.To || cs.pairs[p] || cs.ids[c.ID] {
		return false
	}
	cs.ids[c.ID] = true
	cs.pairs[p] = true
	return true
}
