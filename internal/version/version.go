// Package version implements the append-only version log of records.
//
// Every record has one or more branches ("main" is implicit). Within a
// (record, branch) pair versions are numbered 1, 2, 3, ... with no gaps.
// Entries are never modified: a rollback appends a new version whose content
// equals an earlier one. Retention may delete old entries, but never HEAD,
// so numbers are never reused.
//
// The log is keyed by record id, not by file path, so it survives a hard
// delete of the record.
package version

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// MainBranch is the implicit default branch of every record.
const MainBranch = "main"

// Version is one immutable snapshot.
type Version struct {
	ID          int64
	RecordID    string
	Branch      string
	Version     int
	Content     string
	Frontmatter map[string]any
	// ChangeReason is empty when none was given.
	ChangeReason string
	// ParentVersion is nil for the first version of a branch.
	ParentVersion *int
	CreatedAt     time.Time
}

// Branch describes a named version sequence of a record.
type Branch struct {
	RecordID    string
	Name        string
	FromBranch  string
	FromVersion *int
	CreatedAt   time.Time
	Head        int
	Count       int
}

// ListOptions narrows ListVersions.
type ListOptions struct {
	// Branch defaults to MainBranch.
	Branch string
	// Limit of 0 means no limit.
	Limit int
	// Since drops versions created before it when non-zero.
	Since time.Time
}

// RollbackOptions configures Rollback.
type RollbackOptions struct {
	Branch string
	// CreateBackup appends a new version with the target's content. When
	// false the log is left untouched and the target is returned as is.
	CreateBackup bool
}

// Store reads and appends versions in the catalog.
type Store struct {
	catalog *catalog.Catalog
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over c.
func New(c *catalog.Catalog, opts ...Option) *Store {
	s := &Store{catalog: c, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func branchOrMain(branch string) string {
	if strings.TrimSpace(branch) == "" {
		return MainBranch
	}
	return branch
}

// CreateVersion appends a snapshot to (recordID, branch) and returns it.
// The new number is the branch's current maximum plus one (1 if empty) and
// its parent is that previous maximum.
func (s *Store) CreateVersion(ctx context.Context, recordID, content string, frontmatter map[string]any, branch, reason string) (*Version, error) {
	return catalog.Transact(ctx, s.catalog, func(tx catalog.Querier) (*Version, error) {
		return s.CreateVersionTx(ctx, tx, recordID, content, frontmatter, branch, reason)
	})
}

// CreateVersionTx is CreateVersion inside a caller's transaction.
func (s *Store) CreateVersionTx(ctx context.Context, tx catalog.Querier, recordID, content string, frontmatter map[string]any, branch, reason string) (*Version, error) {
	branch = branchOrMain(branch)
	if strings.TrimSpace(recordID) == "" {
		return nil, vaulterr.Validation("version.create", fmt.Errorf("record id is required"))
	}

	head, err := maxVersion(ctx, tx, recordID, branch)
	if err != nil {
		return nil, err
	}
	var parent *int
	if head > 0 {
		p := head
		parent = &p
	}
	return s.insert(ctx, tx, recordID, branch, head+1, content, frontmatter, reason, parent)
}

func (s *Store) insert(ctx context.Context, tx catalog.Querier, recordID, branch string, number int, content string, frontmatter map[string]any, reason string, parent *int) (*Version, error) {
	if frontmatter == nil {
		frontmatter = map[string]any{}
	}
	fm, err := json.Marshal(frontmatter)
	if err != nil {
		return nil, vaulterr.Validation("version.create", fmt.Errorf("failed to marshal frontmatter: %w", err))
	}

	if err := ensureBranch(ctx, tx, recordID, branch, "", nil, s.now()); err != nil {
		return nil, err
	}

	now := s.now()
	res, err := catalog.Exec(ctx, tx, `
		INSERT INTO record_versions
			(record_id, branch, version, content, frontmatter, change_reason, parent_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		recordID, branch, number, content, string(fm), nullString(reason), catalog.NullInt(parent), catalog.FormatTime(now),
	)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()

	return &Version{
		ID:            id,
		RecordID:      recordID,
		Branch:        branch,
		Version:       number,
		Content:       content,
		Frontmatter:   frontmatter,
		ChangeReason:  reason,
		ParentVersion: parent,
		CreatedAt:     now.UTC(),
	}, nil
}

// GetVersion returns one version. Fails with a version-not-found error if
// it does not exist.
func (s *Store) GetVersion(ctx context.Context, recordID string, number int, branch string) (*Version, error) {
	return getVersion(ctx, s.catalog.DB(), recordID, number, branchOrMain(branch))
}

// GetHead returns the highest-numbered version of a branch.
func (s *Store) GetHead(ctx context.Context, recordID, branch string) (*Version, error) {
	branch = branchOrMain(branch)
	v, found, err := catalog.QueryOne(ctx, s.catalog.DB(), scanVersion,
		selectVersion+` WHERE record_id = ? AND branch = ? ORDER BY version DESC LIMIT 1`,
		recordID, branch,
	)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, vaulterr.VersionNotFound("version.head", recordID, branch, 0)
	}
	return v, nil
}

// ListVersions returns versions of a branch, highest number first.
func (s *Store) ListVersions(ctx context.Context, recordID string, opts ListOptions) ([]*Version, error) {
	query := selectVersion + ` WHERE record_id = ? AND branch = ?`
	args := []any{recordID, branchOrMain(opts.Branch)}

	if !opts.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, catalog.FormatTime(opts.Since))
	}

	query += ` ORDER BY version DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	versions, err := catalog.Query(ctx, s.catalog.DB(), scanVersion, query, args...)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []*Version{}
	}
	return versions, nil
}

// Rollback restores the content of targetVersion.
//
// With CreateBackup, a new version is appended whose content and frontmatter
// equal the target's, with reason "Rollback to version N" and the target as
// parent. Without it, the target version is returned and nothing is written.
//
// Either way the record file is not touched; the caller writes the returned
// content back through the record store and sync engine.
func (s *Store) Rollback(ctx context.Context, recordID string, targetVersion int, opts RollbackOptions) (*Version, error) {
	branch := branchOrMain(opts.Branch)

	if !opts.CreateBackup {
		return s.GetVersion(ctx, recordID, targetVersion, branch)
	}

	return catalog.Transact(ctx, s.catalog, func(tx catalog.Querier) (*Version, error) {
		target, err := getVersion(ctx, tx, recordID, targetVersion, branch)
		if err != nil {
			return nil, err
		}
		head, err := maxVersion(ctx, tx, recordID, branch)
		if err != nil {
			return nil, err
		}
		parent := target.Version
		reason := fmt.Sprintf("Rollback to version %d", target.Version)
		return s.insert(ctx, tx, recordID, branch, head+1, target.Content, target.Frontmatter, reason, &parent)
	})
}

// CreateBranch starts a new branch of recordID whose version 1 copies
// fromBranch@fromVersion. A fromVersion of 0 means the head of fromBranch.
func (s *Store) CreateBranch(ctx context.Context, recordID, name, fromBranch string, fromVersion int) (*Version, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, vaulterr.Validation("version.branch", fmt.Errorf("branch name is required"))
	}
	fromBranch = branchOrMain(fromBranch)
	if name == fromBranch {
		return nil, vaulterr.Validation("version.branch", fmt.Errorf("branch %q cannot be created from itself", name))
	}

	return catalog.Transact(ctx, s.catalog, func(tx catalog.Querier) (*Version, error) {
		exists, err := maxVersion(ctx, tx, recordID, name)
		if err != nil {
			return nil, err
		}
		if exists > 0 {
			return nil, vaulterr.Validation("version.branch", fmt.Errorf("branch %q already exists", name))
		}

		number := fromVersion
		if number == 0 {
			if number, err = maxVersion(ctx, tx, recordID, fromBranch); err != nil {
				return nil, err
			}
		}
		source, err := getVersion(ctx, tx, recordID, number, fromBranch)
		if err != nil {
			return nil, err
		}

		if err := ensureBranch(ctx, tx, recordID, name, fromBranch, &source.Version, s.now()); err != nil {
			return nil, err
		}
		reason := fmt.Sprintf("Branched from %s@%d", fromBranch, source.Version)
		return s.insert(ctx, tx, recordID, name, 1, source.Content, source.Frontmatter, reason, nil)
	})
}

// ListBranches returns the branches of recordID with their head and size.
func (s *Store) ListBranches(ctx context.Context, recordID string) ([]*Branch, error) {
	query := `
	SELECT b.record_id, b.name, COALESCE(b.from_branch, ''), b.from_version, b.created_at,
	       COALESCE(MAX(v.version), 0), COUNT(v.id)
	FROM branches b
	LEFT JOIN record_versions v ON v.record_id = b.record_id AND v.branch = b.name
	WHERE b.record_id = ?
	GROUP BY b.record_id, b.name
	ORDER BY b.name = 'main' DESC, b.name ASC
	`
	branches, err := catalog.Query(ctx, s.catalog.DB(), func(sc catalog.Scanner) (*Branch, error) {
		var b Branch
		var fromVersion sql.NullInt64
		var createdAt string
		if err := sc.Scan(&b.RecordID, &b.Name, &b.FromBranch, &fromVersion, &createdAt, &b.Head, &b.Count); err != nil {
			return nil, err
		}
		b.FromVersion = catalog.IntPtr(fromVersion)
		b.CreatedAt = catalog.ParseTime(createdAt)
		return &b, nil
	}, query, recordID)
	if err != nil {
		return nil, err
	}
	if branches == nil {
		branches = []*Branch{}
	}
	return branches, nil
}

// RecordIDs returns every record id that has version history.
func (s *Store) RecordIDs(ctx context.Context) ([]string, error) {
	ids, err := catalog.Query(ctx, s.catalog.DB(), scanString,
		`SELECT DISTINCT record_id FROM record_versions ORDER BY record_id`)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

const selectVersion = `
	SELECT id, record_id, branch, version, content, frontmatter,
	       change_reason, parent_version, created_at
	FROM record_versions`

func getVersion(ctx context.Context, q catalog.Querier, recordID string, number int, branch string) (*Version, error) {
	v, found, err := catalog.QueryOne(ctx, q, scanVersion,
		selectVersion+` WHERE record_id = ? AND branch = ? AND version = ?`,
		recordID, branch, number,
	)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, vaulterr.VersionNotFound("version.get", recordID, branch, number)
	}
	return v, nil
}

func maxVersion(ctx context.Context, q catalog.Querier, recordID, branch string) (int, error) {
	n, _, err := catalog.QueryOne(ctx, q, scanInt,
		`SELECT COALESCE(MAX(version), 0) FROM record_versions WHERE record_id = ? AND branch = ?`,
		recordID, branch,
	)
	return n, err
}

func ensureBranch(ctx context.Context, tx catalog.Querier, recordID, name, fromBranch string, fromVersion *int, now time.Time) error {
	_, err := catalog.Exec(ctx, tx, `
		INSERT OR IGNORE INTO branches (record_id, name, from_branch, from_version, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		recordID, name, nullString(fromBranch), catalog.NullInt(fromVersion), catalog.FormatTime(now),
	)
	return err
}

func scanVersion(s catalog.Scanner) (*Version, error) {
	var v Version
	var fm, createdAt string
	var reason sql.NullString
	var parent sql.NullInt64

	if err := s.Scan(&v.ID, &v.RecordID, &v.Branch, &v.Version, &v.Content, &fm, &reason, &parent, &createdAt); err != nil {
		return nil, err
	}
	v.ChangeReason = reason.String
	v.ParentVersion = catalog.IntPtr(parent)
	v.CreatedAt = catalog.ParseTime(createdAt)

	v.Frontmatter = map[string]any{}
	if fm != "" {
		if err := json.Unmarshal([]byte(fm), &v.Frontmatter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal frontmatter: %w", err)
		}
	}
	return &v, nil
}

func scanInt(s catalog.Scanner) (int, error) {
	var n int
	err := s.Scan(&n)
	return n, err
}

func scanString(s catalog.Scanner) (string, error) {
	var v string
	err := s.Scan(&v)
	return v, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
