// Package catalog provides the embedded SQLite catalog for promptvault.
//
// The catalog is a derived structure: record files on disk are the source of
// truth, and everything stored here can be rebuilt from them by a full sync.
// It holds the denormalized record rows, the tag graph, the version log, the
// full-text index and key/value configuration.
//
// The database runs in WAL mode (one writer, concurrent readers) with foreign
// keys enforced. Transactions begin IMMEDIATE so that a writer takes the write
// lock up front instead of failing on upgrade.
//
// Architecture:
//   - Database file: <data_dir>/catalog.db
//   - Schema: applied by Migrator from the ordered Migrations list
//   - Primitives: Query, Exec, Transaction (everything else builds on these)
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so helpers can run either
// against the catalog directly or inside an open transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Scanner is satisfied by *sql.Rows and *sql.Row.
type Scanner interface {
	Scan(dest ...any) error
}

// Catalog wraps the SQLite connection pool.
type Catalog struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates or opens the catalog database at path.
//
// The schema is not touched; call Migrate before using the catalog.
// The caller MUST call Close() when done.
//
// Example:
//
//	cat, err := catalog.Open(".promptvault/catalog.db", nil)
//	if err != nil {
//	    return err
//	}
//	defer cat.Close()
//	if err := cat.Migrate(ctx); err != nil {
//	    return err
//	}
func Open(path string, logger *log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[catalog] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, vaulterr.Storage("catalog.open", dir, err)
	}

	// Pragmas go in the DSN so every pooled connection gets them,
	// foreign_keys in particular is per-connection.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, vaulterr.SQL("catalog.open", "", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, vaulterr.SQL("catalog.open", "PING", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &Catalog{conn: conn, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// DB returns the connection pool as a Querier.
func (c *Catalog) DB() Querier {
	return c.conn
}

// RawDB returns the underlying sql.DB connection.
func (c *Catalog) RawDB() *sql.DB {
	return c.conn
}

// Close checkpoints the WAL and closes the database.
func (c *Catalog) Close() error {
	if c.conn == nil {
		return nil
	}

	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		c.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := c.conn.Close(); err != nil {
		return vaulterr.SQL("catalog.close", "", err)
	}
	c.conn = nil
	return nil
}

// Query runs a SELECT on q and maps every row through scan.
func Query[T any](ctx context.Context, q Querier, scan func(Scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vaulterr.SQL("catalog.query", query, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, vaulterr.SQL("catalog.scan", query, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, vaulterr.SQL("catalog.query", query, err)
	}
	return out, nil
}

// QueryOne runs a single-row SELECT. found is false when no row matched.
func QueryOne[T any](ctx context.Context, q Querier, scan func(Scanner) (T, error), query string, args ...any) (v T, found bool, err error) {
	v, err = scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, vaulterr.SQL("catalog.query", query, err)
	}
	return v, true, nil
}

// Exec runs a statement on q.
func Exec(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, vaulterr.SQL("catalog.exec", query, err)
	}
	return res, nil
}

// Exec runs a statement directly on the catalog, outside any transaction.
func (c *Catalog) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return Exec(ctx, c.conn, query, args...)
}

// Transaction runs fn inside a transaction.
//
// The transaction commits when fn returns nil. It rolls back when fn returns
// any error, database or domain, and when fn panics (the panic is re-raised).
// Errors returned by fn are passed through unchanged so their kind survives.
//
// fn must do all of its work through tx. Statements issued on the catalog
// itself while the transaction is open wait on the write lock.
func (c *Catalog) Transaction(ctx context.Context, fn func(tx Querier) error) (err error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return vaulterr.SQL("catalog.begin", "BEGIN", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Printf("Warning: rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return vaulterr.SQL("catalog.commit", "COMMIT", err)
	}
	return nil
}

// Transact is Transaction for bodies that produce a result.
func Transact[T any](ctx context.Context, c *Catalog, fn func(tx Querier) (T, error)) (T, error) {
	var out T
	err := c.Transaction(ctx, func(tx Querier) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Stats summarizes catalog contents.
type Stats struct {
	Records       int
	Archived      int
	Tags          int
	Versions      int
	SchemaVersion int
}

// Stats returns row counts for the main tables.
func (c *Catalog) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	query := `
	SELECT
		(SELECT COUNT(*) FROM records WHERE archived = 0),
		(SELECT COUNT(*) FROM records WHERE archived = 1),
		(SELECT COUNT(*) FROM tags),
		(SELECT COUNT(*) FROM record_versions),
		(SELECT COALESCE(MAX(version), 0) FROM schema_versions)
	`
	err := c.conn.QueryRowContext(ctx, query).Scan(&s.Records, &s.Archived, &s.Tags, &s.Versions, &s.SchemaVersion)
	if err != nil {
		return nil, vaulterr.SQL("catalog.stats", query, err)
	}
	return &s, nil
}

// timeLayout is RFC 3339 with fixed-width nanoseconds, so stored timestamps
// sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t the way the catalog stores timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp. Unparseable values yield the zero time.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NullInt converts an optional int for SQL.
func NullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// IntPtr converts a nullable SQL integer back to an optional int.
func IntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
