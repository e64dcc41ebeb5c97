package recordstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/recordstore"
)

func sampleRecords() []domain.Record {
	return []domain.Record{
		{Name: "IDEA-b.md", Content: "# B"},
		{Name: "IDEA-a.md", Content: "# A"},
		{Name: "IDEA-img.png", Data: []byte{0x89, 'P', 'N', 'G'}, Metadata: []byte(`{"fileName":"IDEA-img.png"}`)},
	}
}

func openStores(t *testing.T) map[string]recordstore.Adapter {
	t.Helper()
	ctx := context.Background()
	sqlStore, err := recordstore.Open(ctx, recordstore.Options{
		Backend: recordstore.BackendSQLite,
		DSN:     filepath.Join(t.TempDir(), "records.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]recordstore.Adapter{
		"file":   recordstore.NewFileStore(t.TempDir()),
		"sqlite": sqlStore,
	}
}

// ── Shared behavior ────────────────────────────────────────

func TestWriteAndListRecords(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.WriteRecords(ctx, "ws", "", sampleRecords()); err != nil {
				t.Fatalf("WriteRecords: %v", err)
			}
			got, err := store.ListRecords(ctx, "ws", "conception")
			if err != nil {
				t.Fatalf("ListRecords: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("expected 3 records, got %d: %+v", len(got), got)
			}
			if got[0].Name != "IDEA-a.md" || got[0].Content != "# A" {
				t.Errorf("first record = %+v", got[0])
			}
			img := got[2]
			if img.Name != "IDEA-img.png" || string(img.Data) != "\x89PNG" {
				t.Errorf("image record = %+v", img)
			}
			if string(img.Metadata) != `{"fileName":"IDEA-img.png"}` {
				t.Errorf("companion = %s", img.Metadata)
			}
		})
	}
}

func TestWriteReplacesByName(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.WriteRecords(ctx, "ws", "", []domain.Record{{Name: "IDEA-a.md", Content: "old"}})
			store.WriteRecords(ctx, "ws", "", []domain.Record{{Name: "IDEA-a.md", Content: "new"}})
			got, _ := store.ListRecords(ctx, "ws", "")
			if len(got) != 1 || got[0].Content != "new" {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestListMissingFolderIsEmpty(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.ListRecords(context.Background(), "nowhere", "")
			if err != nil {
				t.Fatalf("ListRecords: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("expected no records, got %d", len(got))
			}
		})
	}
}

func TestDeleteRecord(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store.WriteRecords(ctx, "ws", "", sampleRecords())
			if err := store.DeleteRecord(ctx, "ws", "", "IDEA-img.png"); err != nil {
				t.Fatalf("DeleteRecord: %v", err)
			}
			got, _ := store.ListRecords(ctx, "ws", "")
			if len(got) != 2 {
				t.Fatalf("expected 2 records left, got %+v", got)
			}
			err := store.DeleteRecord(ctx, "ws", "", "IDEA-img.png")
			if !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := store.WriteRecords(ctx, "ws", "", []domain.Record{{Name: "../escape.md", Content: "x"}})
			if !errors.Is(err, recordstore.ErrInvalidName) {
				t.Errorf("write: expected ErrInvalidName, got %v", err)
			}
			err = store.DeleteRecord(ctx, "ws", "", "..")
			if !errors.Is(err, recordstore.ErrInvalidName) {
				t.Errorf("delete: expected ErrInvalidName, got %v", err)
			}
		})
	}
}

// ── File layout ────────────────────────────────────────────

func TestFileStoreLayout(t *testing.T) {
	root := t.TempDir()
	store := recordstore.NewFileStore(root)
	ctx := context.Background()
	if err := store.WriteRecords(ctx, "project", "", sampleRecords()); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	dir := filepath.Join(root, "project", "conception")
	for _, f := range []string{"IDEA-a.md", "IDEA-b.md", "IDEA-img.png", "IDEA-img.json"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("missing %s: %v", f, err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 4 {
		t.Errorf("expected no temp files left, got %d entries", len(entries))
	}

	if err := store.DeleteRecord(ctx, "project", "", "IDEA-img.png"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "IDEA-img.json")); !os.IsNotExist(err) {
		t.Errorf("companion should be removed with its image, stat err = %v", err)
	}
}

func TestFileStoreListsStrayJSON(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "conception")
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, "IDEA-x.json"), []byte(`{}`), 0644)

	got, err := recordstore.NewFileStore("").ListRecords(context.Background(), root, "")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(got) != 1 || got[0].Content != "{}" {
		t.Fatalf("got %+v", got)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := recordstore.Open(context.Background(), recordstore.Options{Backend: "tape"}); err == nil {
		t.Fatal("expected error")
	}
}
