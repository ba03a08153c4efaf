// Package sqlrepo stores entities as JSON documents in a SQL table with the id
// and lifecycle timestamps broken out into columns. The schema and the
// placeholders work on both PostgreSQL (lib/pq) and SQLite (go-sqlite3).
package sqlrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ledger/pkg/entity"
	"github.com/platinummonkey/ledger/pkg/repository"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Repository is a SQL-backed repository.Repository
type Repository[T entity.Entity] struct {
	db    *sql.DB
	table string
	newT  func() T
	now   func() time.Time
}

// New creates a repository over table, creating it if needed
func New[T entity.Entity](ctx context.Context, db *sql.DB, table string, newT func() T) (*Repository[T], error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required: %w", sentinel.ErrConfiguration)
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q: %w", table, sentinel.ErrConfiguration)
	}

	r := &Repository[T]{db: db, table: table, newT: newT, now: time.Now}
	if err := r.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure table %s: %w", table, err)
	}
	return r, nil
}

func (r *Repository[T]) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id VARCHAR(255) PRIMARY KEY,
		added TIMESTAMP NOT NULL,
		deleted TIMESTAMP,
		body TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_added ON %[1]s(added);
	`, r.table)

	_, err := r.db.ExecContext(ctx, query)
	return err
}

func (r *Repository[T]) Save(ctx context.Context, id string, e T, asNew bool) (T, error) {
	var zero T
	body, err := json.Marshal(e)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %q: %w", id, err)
	}

	var deleted *time.Time
	if d := e.GetDeleted(); d != nil {
		utc := d.UTC()
		deleted = &utc
	}

	var query string
	if asNew {
		query = fmt.Sprintf(`INSERT INTO %s (id, added, deleted, body) VALUES ($1, $2, $3, $4)`, r.table)
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, added, deleted, body) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET added = excluded.added, deleted = excluded.deleted, body = excluded.body
		`, r.table)
	}

	if _, err := r.db.ExecContext(ctx, query, id, e.GetAdded().UTC(), deleted, string(body)); err != nil {
		if isUniqueViolation(err) {
			return zero, fmt.Errorf("id %q already stored: %w", id, sentinel.ErrDuplicate)
		}
		return zero, fmt.Errorf("failed to save %q: %w: %w", id, sentinel.ErrDatabase, err)
	}

	return r.decode(string(body))
}

func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	var body string

	query := fmt.Sprintf(`SELECT body FROM %s WHERE id = $1`, r.table)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to load %q: %w: %w", id, sentinel.ErrDatabase, err)
	}

	v, err := r.decode(body)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.Query(ctx, nil)
}

// Query loads every row and applies pred in process
func (r *Repository[T]) Query(ctx context.Context, pred func(T) bool) ([]T, error) {
	query := fmt.Sprintf(`SELECT body FROM %s ORDER BY added ASC, id ASC`, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w: %w", r.table, sentinel.ErrDatabase, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w: %w", r.table, sentinel.ErrDatabase, err)
		}
		v, err := r.decode(body)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w: %w", r.table, sentinel.ErrDatabase, err)
	}

	return out, nil
}

func (r *Repository[T]) QueryPage(ctx context.Context, pred func(T) bool, page, size int) ([]T, error) {
	items, err := r.Query(ctx, pred)
	if err != nil {
		return nil, err
	}
	return repository.Window(items, page, size), nil
}

func (r *Repository[T]) DeleteByID(ctx context.Context, id string) (*time.Time, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete %q: %w: %w", id, sentinel.ErrDatabase, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to delete %q: %w: %w", id, sentinel.ErrDatabase, err)
	}
	if n == 0 {
		return nil, nil
	}

	now := r.now()
	return &now, nil
}

func (r *Repository[T]) decode(body string) (T, error) {
	v := r.newT()
	if err := json.Unmarshal([]byte(body), v); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to decode %s document: %w", r.table, err)
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	// go-sqlite3 reports constraint failures only through the message when
	// the driver is not linked into this package
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
