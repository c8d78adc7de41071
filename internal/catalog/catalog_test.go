package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// openTestCatalog opens a migrated catalog in a temp directory.
func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return c
}

func tableExists(t *testing.T, c *Catalog, name string) bool {
	t.Helper()

	var count int
	err := c.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, name).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query sqlite_master: %v", err)
	}
	return count == 1
}

func scanInt(s Scanner) (int, error) {
	var v int
	err := s.Scan(&v)
	return v, err
}

func TestMigrate_CreatesSchema(t *testing.T) {
	c := openTestCatalog(t)

	for _, table := range []string{"records", "tags", "record_tags", "record_versions", "version_tags", "branches", "records_fts", "config", "schema_versions"} {
		if !tableExists(t, c, table) {
			t.Errorf("Table %s does not exist", table)
		}
	}

	v, err := c.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if want := Migrations[len(Migrations)-1].Version; v != want {
		t.Errorf("SchemaVersion() = %d, want %d", v, want)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	applied, err := NewMigrator(c, Migrations, nil).Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("second Migrate() applied %d migrations, want 0", applied)
	}

	rows, err := Query(ctx, c.DB(), scanInt, `SELECT version FROM schema_versions ORDER BY version`)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(rows) != len(Migrations) {
		t.Errorf("schema_versions has %d rows, want %d", len(rows), len(Migrations))
	}
}

func TestMigrate_ReapplyAfterCrashIsNoop(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	// Simulate a crash after the statements of migration 3 ran but before
	// its version was recorded.
	if _, err := c.Exec(ctx, `DELETE FROM schema_versions WHERE version = 3`); err != nil {
		t.Fatalf("Exec() failed: %v", err)
	}

	applied, err := NewMigrator(c, Migrations, nil).Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() after simulated crash failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
}

func TestMigrate_FailureLeavesLastGoodVersion(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Name: "ok", Statements: []string{`CREATE TABLE IF NOT EXISTS a (id INTEGER)`}},
		{Version: 2, Name: "broken", Statements: []string{
			`CREATE TABLE IF NOT EXISTS b (id INTEGER)`,
			`THIS IS NOT SQL`,
		}},
		{Version: 3, Name: "never", Statements: []string{`CREATE TABLE IF NOT EXISTS c (id INTEGER)`}},
	}

	applied, err := NewMigrator(c, migrations, nil).Migrate(ctx)
	if err == nil {
		t.Fatal("Migrate() should fail on a broken statement")
	}
	if !errors.Is(err, vaulterr.ErrSQL) {
		t.Errorf("expected SQL error, got %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	current, err := NewMigrator(c, migrations, nil).Current(ctx)
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if current != 1 {
		t.Errorf("Current() = %d, want 1", current)
	}
	if tableExists(t, c, "b") {
		t.Error("table b should have been rolled back with migration 2")
	}
	if tableExists(t, c, "c") {
		t.Error("migration 3 should not run after migration 2 failed")
	}
}

func TestMigrate_RejectsDuplicateVersions(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer c.Close()

	migrations := []Migration{{Version: 1}, {Version: 1}}
	if _, err := NewMigrator(c, migrations, nil).Migrate(context.Background()); !errors.Is(err, vaulterr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTransaction_CommitsOnSuccess(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	err := c.Transaction(ctx, func(tx Querier) error {
		_, err := Exec(ctx, tx, `INSERT INTO config (key, value, updated_at) VALUES ('k', 'v', 'now')`)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction() failed: %v", err)
	}

	n, found, err := QueryOne(ctx, c.DB(), scanInt, `SELECT COUNT(*) FROM config WHERE key = 'k'`)
	if err != nil || !found {
		t.Fatalf("QueryOne() failed: found=%v err=%v", found, err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestTransaction_RollsBackDomainError(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	domainErr := vaulterr.DuplicateName("test", "greet")
	err := c.Transaction(ctx, func(tx Querier) error {
		if _, err := Exec(ctx, tx, `INSERT INTO config (key, value, updated_at) VALUES ('k', 'v', 'now')`); err != nil {
			return err
		}
		return domainErr
	})
	if !errors.Is(err, vaulterr.ErrDuplicateName) {
		t.Fatalf("expected domain error to pass through, got %v", err)
	}

	n, _, err := QueryOne(ctx, c.DB(), scanInt, `SELECT COUNT(*) FROM config`)
	if err != nil {
		t.Fatalf("QueryOne() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("partial write visible after rollback: count = %d", n)
	}
}

func TestTransaction_RollsBackOnPanic(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = c.Transaction(ctx, func(tx Querier) error {
			_, _ = Exec(ctx, tx, `INSERT INTO config (key, value, updated_at) VALUES ('k', 'v', 'now')`)
			panic("boom")
		})
	}()

	n, _, err := QueryOne(ctx, c.DB(), scanInt, `SELECT COUNT(*) FROM config`)
	if err != nil {
		t.Fatalf("QueryOne() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("write survived panic: count = %d", n)
	}
}

func TestTransact_ReturnsResult(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	got, err := Transact(ctx, c, func(tx Querier) (int, error) {
		if _, err := Exec(ctx, tx, `INSERT INTO config (key, value, updated_at) VALUES ('a', '1', 'now'), ('b', '2', 'now')`); err != nil {
			return 0, err
		}
		n, _, err := QueryOne(ctx, tx, scanInt, `SELECT COUNT(*) FROM config`)
		return n, err
	})
	if err != nil {
		t.Fatalf("Transact() failed: %v", err)
	}
	if got != 2 {
		t.Errorf("Transact() = %d, want 2", got)
	}
}

func TestExec_SQLErrorCarriesStatement(t *testing.T) {
	c := openTestCatalog(t)

	_, err := c.Exec(context.Background(), `INSERT INTO missing_table VALUES (1)`)
	var verr *vaulterr.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *vaulterr.Error, got %T", err)
	}
	if verr.Kind != vaulterr.KindSQL {
		t.Errorf("Kind = %v, want sql", verr.Kind)
	}
	if verr.Statement != `INSERT INTO missing_table VALUES (1)` {
		t.Errorf("Statement = %q", verr.Statement)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	c := openTestCatalog(t)

	_, err := c.Exec(context.Background(), `INSERT INTO record_tags (record_id, tag_id) VALUES ('nope', 42)`)
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestQueryOne_NotFound(t *testing.T) {
	c := openTestCatalog(t)

	_, found, err := QueryOne(context.Background(), c.DB(), scanInt, `SELECT 1 FROM config WHERE key = 'missing'`)
	if err != nil {
		t.Fatalf("QueryOne() failed: %v", err)
	}
	if found {
		t.Error("found = true for missing row")
	}
}

func TestStats(t *testing.T) {
	c := openTestCatalog(t)

	s, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if s.Records != 0 || s.Versions != 0 {
		t.Errorf("unexpected stats on empty catalog: %+v", s)
	}
	if s.SchemaVersion != len(Migrations) {
		t.Errorf("SchemaVersion = %d, want %d", s.SchemaVersion, len(Migrations))
	}
}
