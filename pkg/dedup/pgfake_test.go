package dedup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakePG understands the handful of statements PostgresIndex issues
type fakePG struct {
	mu      sync.Mutex
	created []string
	execs   []string
	rows    map[string]map[string][2]string
}

func newFakePG() *fakePG {
	return &fakePG{rows: make(map[string]map[string][2]string)}
}

var (
	createRe = regexp.MustCompile(`CREATE TABLE IF NOT EXISTS (\w+)`)
	insertRe = regexp.MustCompile(`INSERT INTO (\w+)`)
	selectRe = regexp.MustCompile(`FROM (\w+) WHERE`)
)

func (f *fakePG) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)

	if m := createRe.FindStringSubmatch(sql); m != nil {
		f.created = append(f.created, m[1])
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}
	if m := insertRe.FindStringSubmatch(sql); m != nil {
		if !strings.Contains(sql, "ON CONFLICT") {
			return pgconn.CommandTag{}, fmt.Errorf("insert without conflict clause")
		}
		table := f.rows[m[1]]
		if table == nil {
			table = make(map[string][2]string)
			f.rows[m[1]] = table
		}
		id := args[0].(string)
		if _, ok := table[id]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		table[id] = [2]string{args[1].(string), args[2].(string)}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unsupported exec: %s", sql)
}

func (f *fakePG) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := selectRe.FindStringSubmatch(sql)
	if m == nil {
		return fakeRow{err: fmt.Errorf("unsupported query: %s", sql)}
	}
	vals, ok := f.rows[m[1]][args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{vals: vals}
}

type fakeRow struct {
	vals [2]string
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		v := r.vals[i]
		switch p := d.(type) {
		case **string:
			*p = &v
		case *string:
			*p = v
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}
