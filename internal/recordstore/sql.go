package recordstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jareynolds/UbeCode-sub002/internal/codec"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// SQLStore keeps records in a canvas_records table of a sqlite, mysql or
// postgres database.
type SQLStore struct {
	driverName string
	db         *sql.DB
}

var recordTableDDL = map[string]string{
	"sqlite": `CREATE TABLE IF NOT EXISTS canvas_records (
		workspace TEXT NOT NULL,
		subfolder TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		data BLOB,
		metadata BLOB,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (workspace, subfolder, name)
	)`,
	"mysql": `CREATE TABLE IF NOT EXISTS canvas_records (
		workspace VARCHAR(255) NOT NULL,
		subfolder VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		content LONGTEXT NOT NULL,
		data LONGBLOB,
		metadata LONGBLOB,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (workspace, subfolder, name)
	) CHARACTER SET utf8mb4`,
	"postgres": `CREATE TABLE IF NOT EXISTS canvas_records (
		workspace TEXT NOT NULL,
		subfolder TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		data BYTEA,
		metadata BYTEA,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (workspace, subfolder, name)
	)`,
}

// OpenSQL opens driverName with dsn and creates the record table.
func OpenSQL(ctx context.Context, driverName, dsn string) (*SQLStore, error) {
	ddl, ok := recordTableDDL[driverName]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver: %s", driverName)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if driverName == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create canvas_records: %w", err)
	}
	return &SQLStore{driverName: driverName, db: db}, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driverName != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func folder(subfolder string) string {
	if subfolder == "" {
		return codec.DefaultSubfolder
	}
	return subfolder
}

func (s *SQLStore) ListRecords(ctx context.Context, workspacePath, subfolder string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT name, content, data, metadata FROM canvas_records WHERE workspace = ? AND subfolder = ? ORDER BY name`),
		workspacePath, folder(subfolder))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var r domain.Record
		var content sql.NullString
		if err := rows.Scan(&r.Name, &content, &r.Data, &r.Metadata); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Content = content.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLStore) WriteRecords(ctx context.Context, workspacePath, subfolder string, records []domain.Record) error {
	if err := validNames(records); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	del := s.rebind(`DELETE FROM canvas_records WHERE workspace = ? AND subfolder = ? AND name = ?`)
	ins := s.rebind(`INSERT INTO canvas_records (workspace, subfolder, name, content, data, metadata, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	now := time.Now().UTC()
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, del, workspacePath, folder(subfolder), r.Name); err != nil {
			return fmt.Errorf("replace record %s: %w", r.Name, err)
		}
		if _, err := tx.ExecContext(ctx, ins, workspacePath, folder(subfolder), r.Name, r.Content, r.Data, r.Metadata, now); err != nil {
			return fmt.Errorf("insert record %s: %w", r.Name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) DeleteRecord(ctx context.Context, workspacePath, subfolder, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM canvas_records WHERE workspace = ? AND subfolder = ? AND name = ?`),
		workspacePath, folder(subfolder), name)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

