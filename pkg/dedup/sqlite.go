package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"pixivdl/pkg/feed"
)

// SQLiteIndex stores records in a single file
type SQLiteIndex struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteIndex, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one connection keeps writes ordered and :memory: databases shared
	db.SetMaxOpenConns(1)

	idx := &SQLiteIndex{db: db}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) migrate(ctx context.Context) error {
	for _, table := range tables {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL UNIQUE,
			kind TEXT,
			author TEXT
		)`, table)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteIndex) Has(ctx context.Context, ns feed.Namespace, id string) (bool, error) {
	_, ok, err := s.Get(ctx, ns, id)
	return ok, err
}

func (s *SQLiteIndex) Get(ctx context.Context, ns feed.Namespace, id string) (Record, bool, error) {
	table, err := TableFor(ns)
	if err != nil {
		return Record{}, false, err
	}

	rec := Record{Namespace: ns, ID: id}
	var kind, author sql.NullString
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT kind, author FROM %s WHERE id = ?", table), id)
	if err := row.Scan(&kind, &author); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("query %s: %w", table, err)
	}
	rec.Kind = kind.String
	rec.Author = author.String
	return rec, true, nil
}

func (s *SQLiteIndex) Record(ctx context.Context, r Record) error {
	table, err := TableFor(r.Namespace)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (id, kind, author) VALUES (?, ?, ?)", table),
		r.ID, r.Kind, r.Author)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// Count returns the number of records in a namespace
func (s *SQLiteIndex) Count(ctx context.Context, ns feed.Namespace) (int, error) {
	table, err := TableFor(ns)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
