package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixivdl/pkg/feed"
)

// querier is the subset of *pgxpool.Pool the index uses
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresIndex stores records in a shared Postgres database so several
// machines can mirror into the same index
type PostgresIndex struct {
	db    querier
	close func()
	mu    sync.Mutex
}

// OpenPostgres connects to databaseURL and creates the tables
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresIndex, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	idx := newPostgresIndex(pool, pool.Close)
	if err := idx.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func newPostgresIndex(db querier, closeFn func()) *PostgresIndex {
	return &PostgresIndex{db: db, close: closeFn}
}

func (p *PostgresIndex) migrate(ctx context.Context) error {
	for _, table := range tables {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			kind TEXT,
			author TEXT
		)`, table)
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	return nil
}

func (p *PostgresIndex) Has(ctx context.Context, ns feed.Namespace, id string) (bool, error) {
	_, ok, err := p.Get(ctx, ns, id)
	return ok, err
}

func (p *PostgresIndex) Get(ctx context.Context, ns feed.Namespace, id string) (Record, bool, error) {
	table, err := TableFor(ns)
	if err != nil {
		return Record{}, false, err
	}

	rec := Record{Namespace: ns, ID: id}
	var kind, author *string
	err = p.db.QueryRow(ctx, fmt.Sprintf("SELECT kind, author FROM %s WHERE id = $1", table), id).Scan(&kind, &author)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("query %s: %w", table, err)
	}
	if kind != nil {
		rec.Kind = *kind
	}
	if author != nil {
		rec.Author = *author
	}
	return rec, true, nil
}

func (p *PostgresIndex) Record(ctx context.Context, r Record) error {
	table, err := TableFor(r.Namespace)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err = p.db.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (id, kind, author) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING", table),
		r.ID, r.Kind, r.Author)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (p *PostgresIndex) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
