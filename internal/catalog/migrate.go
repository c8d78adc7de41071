package catalog

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// Migration is one versioned schema change.
//
// Statements must be idempotent (CREATE ... IF NOT EXISTS and the like):
// a crash between applying the statements and recording the version is
// possible, and re-running the migration on the next start must be a no-op.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

const createSchemaVersions = `CREATE TABLE IF NOT EXISTS schema_versions (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	applied_at TEXT NOT NULL
)`

// Migrator applies pending migrations exactly once, in version order.
type Migrator struct {
	catalog    *Catalog
	migrations []Migration
	logger     *log.Logger
}

// NewMigrator creates a migrator for the given migration list.
// If logger is nil, a default logger writing to stderr is used.
func NewMigrator(c *Catalog, migrations []Migration, logger *log.Logger) *Migrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{catalog: c, migrations: sorted, logger: logger}
}

// Current returns the highest applied schema version, 0 if none.
func (m *Migrator) Current(ctx context.Context) (int, error) {
	if _, err := m.catalog.Exec(ctx, createSchemaVersions); err != nil {
		return 0, err
	}

	var current int
	query := `SELECT COALESCE(MAX(version), 0) FROM schema_versions`
	if err := m.catalog.conn.QueryRowContext(ctx, query).Scan(&current); err != nil {
		return 0, vaulterr.SQL("migrate.current", query, err)
	}
	return current, nil
}

// Migrate applies every migration with a version above the current one.
//
// Each migration runs in its own transaction together with its tracking
// insert. A failing statement rolls that migration back and aborts: the
// schema is left at the last fully-applied version.
//
// Returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}

	current, err := m.Current(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}

		err := m.catalog.Transaction(ctx, func(tx Querier) error {
			for _, stmt := range mig.Statements {
				if _, err := Exec(ctx, tx, stmt); err != nil {
					return err
				}
			}
			_, err := Exec(ctx, tx,
				`INSERT OR IGNORE INTO schema_versions (version, name, applied_at) VALUES (?, ?, ?)`,
				mig.Version, mig.Name, FormatTime(time.Now()),
			)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}

		m.logger.Printf("Applied migration %d: %s", mig.Version, mig.Name)
		applied++
	}

	return applied, nil
}

// validate rejects migration lists with non-positive or duplicate versions.
func (m *Migrator) validate() error {
	seen := make(map[int]bool, len(m.migrations))
	for _, mig := range m.migrations {
		if mig.Version <= 0 {
			return vaulterr.Validation("migrate.validate", fmt.Errorf("migration version must be positive (got %d)", mig.Version))
		}
		if seen[mig.Version] {
			return vaulterr.Validation("migrate.validate", fmt.Errorf("duplicate migration version %d", mig.Version))
		}
		seen[mig.Version] = true
	}
	return nil
}

// Migrate brings the catalog schema up to date with Migrations.
func (c *Catalog) Migrate(ctx context.Context) error {
	_, err := NewMigrator(c, Migrations, c.logger).Migrate(ctx)
	return err
}

// SchemaVersion returns the highest applied schema version.
func (c *Catalog) SchemaVersion(ctx context.Context) (int, error) {
	return NewMigrator(c, nil, c.logger).Current(ctx)
}
