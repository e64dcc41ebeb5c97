// Package recordstore persists named canvas records under a workspace
// folder. The file backend writes real files next to the workspace; the SQL
// and Mongo backends key records by workspace path, subfolder and name.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidName = errors.New("invalid record name")
)

// Adapter abstracts where exported records live.
type Adapter interface {
	// ListRecords returns the records of a subfolder sorted by name. A
	// missing subfolder is an empty list, not an error.
	ListRecords(ctx context.Context, workspacePath, subfolder string) ([]domain.Record, error)

	// WriteRecords creates or replaces each record by name.
	WriteRecords(ctx context.Context, workspacePath, subfolder string, records []domain.Record) error

	// DeleteRecord removes one record and its companion, if any.
	DeleteRecord(ctx context.Context, workspacePath, subfolder, name string) error

	Close() error
}

type Backend string

const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendMySQL    Backend = "mysql"
	BackendPostgres Backend = "postgres"
	BackendMongo    Backend = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Backend Backend
	// Root resolves relative workspace paths for the file backend.
	Root string
	// DSN is the database path for sqlite or the connection string for
	// mysql and postgres.
	DSN           string
	MongoURI      string
	MongoDatabase string
}

// Open creates the Adapter for opts.Backend.
func Open(ctx context.Context, opts Options) (Adapter, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.Root), nil
	case BackendSQLite:
		return OpenSQL(ctx, "sqlite", sqliteDSN(opts.DSN))
	case BackendMySQL:
		return OpenSQL(ctx, "mysql", mysqlDSN(opts.DSN))
	case BackendPostgres:
		return OpenSQL(ctx, "postgres", opts.DSN)
	case BackendMongo:
		return OpenMongo(ctx, opts.MongoURI, opts.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported record backend: %s", opts.Backend)
	}
}

// validName rejects names that would escape the record folder.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validNames(records []domain.Record) error {
	for _, r := range records {
		if err := validName(r.Name); err != nil {
			return err
		}
	}
	return nil
}
