package recordstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jareynolds/UbeCode-sub002/internal/codec"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
)

// FileStore keeps records as files in <workspace>/<subfolder>. Binary
// records are written as-is with their metadata in a .json companion.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) dir(workspacePath, subfolder string) (string, error) {
	if subfolder == "" {
		subfolder = codec.DefaultSubfolder
	}
	if err := validName(subfolder); err != nil {
		return "", err
	}
	base := workspacePath
	if !filepath.IsAbs(base) && s.root != "" {
		base = filepath.Join(s.root, base)
	}
	return filepath.Join(base, subfolder), nil
}

func (s *FileStore) ListRecords(ctx context.Context, workspacePath, subfolder string) ([]domain.Record, error) {
	dir, err := s.dir(workspacePath, subfolder)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	names := map[string]bool{}
	for _, e := range entries {
		if e.Type().IsRegular() {
			names[e.Name()] = true
		}
	}
	logger := log.WithComponent("recordstore")

	records := make([]domain.Record, 0, len(names))
	for name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		// Companions are attached to their image below.
		if strings.HasSuffix(name, ".json") && hasImageTwin(names, name) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("skip unreadable record", slog.String("name", name), slog.String("err", err.Error()))
			continue
		}
		rec := domain.Record{Name: name}
		if codec.IsImageName(name) {
			rec.Data = data
			if meta, err := os.ReadFile(filepath.Join(dir, codec.CompanionName(name))); err == nil {
				rec.Metadata = meta
			}
		} else {
			rec.Content = string(data)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func hasImageTwin(names map[string]bool, companion string) bool {
	stem := strings.TrimSuffix(companion, ".json")
	for name := range names {
		if strings.TrimSuffix(name, filepath.Ext(name)) == stem && codec.IsImageName(name) {
			return true
		}
	}
	return false
}

func (s *FileStore) WriteRecords(ctx context.Context, workspacePath, subfolder string, records []domain.Record) error {
	if err := validNames(records); err != nil {
		return err
	}
	dir, err := s.dir(workspacePath, subfolder)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create record folder: %w", err)
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		body := []byte(r.Content)
		if r.IsBinary() {
			body = r.Data
		}
		if err := writeFileAtomic(filepath.Join(dir, r.Name), body); err != nil {
			return fmt.Errorf("write record %s: %w", r.Name, err)
		}
		if r.IsBinary() && len(r.Metadata) > 0 {
			if err := writeFileAtomic(filepath.Join(dir, codec.CompanionName(r.Name)), r.Metadata); err != nil {
				return fmt.Errorf("write companion %s: %w", r.Name, err)
			}
		}
	}
	return nil
}

func (s *FileStore) DeleteRecord(ctx context.Context, workspacePath, subfolder, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	dir, err := s.dir(workspacePath, subfolder)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if codec.IsImageName(name) {
		if err := os.Remove(filepath.Join(dir, codec.CompanionName(name))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete companion: %w", err)
		}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// writeFileAtomic writes to a temp file in the same directory and renames
// it over the target.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
