// Package dedup remembers which feed items have been fully processed so a
// crawl can be repeated or resumed without fetching them again.
package dedup

import (
	"context"
	"fmt"
	"strings"

	"pixivdl/pkg/config"
	"pixivdl/pkg/feed"
)

// KindNoAccess is recorded for items the account could not open
const KindNoAccess = "no_access"

// Record is one processed item. The first record for an id wins.
type Record struct {
	Namespace feed.Namespace
	ID        string
	Kind      string
	Author    string
}

// Index is a durable set of processed item ids per namespace
type Index interface {
	Has(ctx context.Context, ns feed.Namespace, id string) (bool, error)
	// Record inserts r unless its id is already present. Re-inserting is
	// a silent no-op.
	Record(ctx context.Context, r Record) error
	Close() error
}

// Lookup is implemented by backends that can return a stored record
type Lookup interface {
	Get(ctx context.Context, ns feed.Namespace, id string) (Record, bool, error)
}

var tables = map[feed.Namespace]string{
	feed.NamespaceBookmarks: "downloaded_illusts",
	feed.NamespaceWorks:     "downloaded_by",
	feed.NamespaceFanbox:    "fanbox",
}

// TableFor maps a namespace to its table name
func TableFor(ns feed.Namespace) (string, error) {
	table, ok := tables[ns]
	if !ok {
		return "", fmt.Errorf("unknown namespace %q", ns)
	}
	return table, nil
}

// Open builds the backend selected by cfg and creates its tables
func Open(ctx context.Context, cfg config.StorageConfig) (Index, error) {
	switch strings.ToLower(cfg.DatabaseDriver) {
	case config.DriverSQLite, "":
		idx, err := OpenSQLite(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case config.DriverPostgres:
		idx, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case config.DriverMemory:
		return NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}
