// Package retention prunes old entries from the version log.
//
// The policy runs per (record, branch). Three kinds of version are never
// deleted: version 1, the branch HEAD, and, when PreserveTaggedVersions is
// set, any version carrying a version tag.
//
// The count rule keeps the MaxVersionsPerPrompt highest-numbered versions of
// the branch. The window is measured over all versions, protected ones
// included; protected versions outside the window survive anyway. With
// versions 1..5 and a window of 2, versions 4 and 5 are in the window, 1 is
// protected, and 2 and 3 are deleted.
//
// The days rule deletes unprotected versions created more than RetentionDays
// ago. StrategyBoth deletes the union of both rules.
package retention

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// Candidate is a version selected for deletion.
type Candidate struct {
	RecordID  string
	Branch    string
	Version   int
	CreatedAt time.Time
	Reason    string

	id int64
}

// Result summarizes a cleanup or a preview. Candidates lists the versions
// deleted (or that would be deleted) in record, branch, version order.
type Result struct {
	Deleted         int
	RecordsAffected int
	Candidates      []Candidate
}

// VersionTag is a label pinned to a version.
type VersionTag struct {
	RecordID  string
	Version   int
	Tag       string
	CreatedAt time.Time
}

// Engine applies the retention policy to the catalog.
type Engine struct {
	catalog  *catalog.Catalog
	defaults Config
	now      func() time.Time
	logger   *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaults sets the policy used for keys not persisted in the catalog.
func WithDefaults(cfg Config) Option {
	return func(e *Engine) { e.defaults = cfg }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine over c.
func New(c *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:  c,
		defaults: DefaultConfig(),
		now:      time.Now,
		logger:   log.New(os.Stderr, "[retention] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CleanupVersions applies the policy to every branch of recordID in one
// transaction and returns the number of deleted versions.
func (e *Engine) CleanupVersions(ctx context.Context, recordID string) (int, error) {
	cfg, err := e.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	candidates, err := e.cleanupRecord(ctx, cfg, e.now(), recordID)
	if err != nil {
		return 0, err
	}
	return len(candidates), nil
}

// CleanupAll applies the policy to every record with version history.
// The first failing record aborts the run; records already cleaned stay
// cleaned.
func (e *Engine) CleanupAll(ctx context.Context) (*Result, error) {
	cfg, err := e.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := recordIDs(ctx, e.catalog.DB())
	if err != nil {
		return nil, err
	}

	now := e.now()
	result := &Result{Candidates: []Candidate{}}
	for _, id := range ids {
		deleted, err := e.cleanupRecord(ctx, cfg, now, id)
		if err != nil {
			return result, fmt.Errorf("failed to clean up %s: %w", id, err)
		}
		if len(deleted) > 0 {
			result.RecordsAffected++
			result.Deleted += len(deleted)
			result.Candidates = append(result.Candidates, deleted...)
		}
	}

	if result.Deleted > 0 {
		e.logger.Printf("Deleted %d versions across %d records", result.Deleted, result.RecordsAffected)
	}
	return result, nil
}

// PreviewCleanup runs the same selection as CleanupAll without deleting.
func (e *Engine) PreviewCleanup(ctx context.Context) (*Result, error) {
	cfg, err := e.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := recordIDs(ctx, e.catalog.DB())
	if err != nil {
		return nil, err
	}

	now := e.now()
	result := &Result{Candidates: []Candidate{}}
	for _, id := range ids {
		candidates, err := selectCandidates(ctx, e.catalog.DB(), cfg, now, id)
		if err != nil {
			return nil, err
		}
		if len(candidates) > 0 {
			result.RecordsAffected++
			result.Deleted += len(candidates)
			result.Candidates = append(result.Candidates, candidates...)
		}
	}
	return result, nil
}

func (e *Engine) cleanupRecord(ctx context.Context, cfg Config, now time.Time, recordID string) ([]Candidate, error) {
	return catalog.Transact(ctx, e.catalog, func(tx catalog.Querier) ([]Candidate, error) {
		candidates, err := selectCandidates(ctx, tx, cfg, now, recordID)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if _, err := catalog.Exec(ctx, tx, `DELETE FROM record_versions WHERE id = ?`, c.id); err != nil {
				return nil, err
			}
		}
		if len(candidates) > 0 {
			// Labels of version numbers no branch holds anymore.
			_, err := catalog.Exec(ctx, tx, `
				DELETE FROM version_tags
				WHERE record_id = ?
				  AND version NOT IN (SELECT version FROM record_versions WHERE record_id = ?)`,
				recordID, recordID,
			)
			if err != nil {
				return nil, err
			}
		}
		return candidates, nil
	})
}

type versionRow struct {
	id        int64
	branch    string
	version   int
	createdAt time.Time
	tagged    bool
}

// selectCandidates returns the versions of recordID the policy deletes.
func selectCandidates(ctx context.Context, q catalog.Querier, cfg Config, now time.Time, recordID string) ([]Candidate, error) {
	rows, err := catalog.Query(ctx, q, func(s catalog.Scanner) (versionRow, error) {
		var r versionRow
		var createdAt string
		err := s.Scan(&r.id, &r.branch, &r.version, &createdAt, &r.tagged)
		r.createdAt = catalog.ParseTime(createdAt)
		return r, err
	}, `
		SELECT v.id, v.branch, v.version, v.created_at,
		       EXISTS (SELECT 1 FROM version_tags t WHERE t.record_id = v.record_id AND t.version = v.version)
		FROM record_versions v
		WHERE v.record_id = ?
		ORDER BY v.branch ASC, v.version DESC`,
		recordID,
	)
	if err != nil {
		return nil, err
	}

	byBranch := map[string][]versionRow{}
	var branches []string
	for _, r := range rows {
		if _, ok := byBranch[r.branch]; !ok {
			branches = append(branches, r.branch)
		}
		byBranch[r.branch] = append(byBranch[r.branch], r)
	}

	var out []Candidate
	for _, b := range branches {
		out = append(out, selectBranch(cfg, now, recordID, byBranch[b])...)
	}
	return out, nil
}

// selectBranch applies the policy to one branch. versions must be ordered
// by version number, highest first.
func selectBranch(cfg Config, now time.Time, recordID string, versions []versionRow) []Candidate {
	if len(versions) == 0 {
		return nil
	}
	head := versions[0].version
	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)

	var out []Candidate
	for i, v := range versions {
		if v.version == 1 || v.version == head || (cfg.PreserveTaggedVersions && v.tagged) {
			continue
		}

		var reasons []string
		if cfg.Strategy != StrategyDays && i >= cfg.MaxVersionsPerPrompt {
			reasons = append(reasons, fmt.Sprintf("exceeds max versions (%d)", cfg.MaxVersionsPerPrompt))
		}
		if cfg.Strategy != StrategyCount && v.createdAt.Before(cutoff) {
			age := humanize.RelTime(v.createdAt, now, "old", "from now")
			reasons = append(reasons, fmt.Sprintf("older than %d days (%s)", cfg.RetentionDays, age))
		}
		if len(reasons) == 0 {
			continue
		}

		out = append(out, Candidate{
			RecordID:  recordID,
			Branch:    v.branch,
			Version:   v.version,
			CreatedAt: v.createdAt,
			Reason:    strings.Join(reasons, "; "),
			id:        v.id,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// TagVersion labels a version. The version must exist on some branch of the
// record. Tagging an already tagged version replaces its label.
func (e *Engine) TagVersion(ctx context.Context, recordID string, version int, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return vaulterr.Validation("retention.tag", fmt.Errorf("tag is required"))
	}

	return e.catalog.Transaction(ctx, func(tx catalog.Querier) error {
		if err := versionExists(ctx, tx, recordID, version); err != nil {
			return err
		}
		_, err := catalog.Exec(ctx, tx, `
			INSERT INTO version_tags (record_id, version, tag, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(record_id, version) DO UPDATE SET tag = excluded.tag, created_at = excluded.created_at`,
			recordID, version, tag, catalog.FormatTime(e.now()),
		)
		return err
	})
}

// UntagVersion removes the label of a version, making it eligible for
// deletion again. Untagging a version without a label is a no-op.
func (e *Engine) UntagVersion(ctx context.Context, recordID string, version int) error {
	return e.catalog.Transaction(ctx, func(tx catalog.Querier) error {
		if err := versionExists(ctx, tx, recordID, version); err != nil {
			return err
		}
		_, err := catalog.Exec(ctx, tx,
			`DELETE FROM version_tags WHERE record_id = ? AND version = ?`, recordID, version)
		return err
	})
}

// ListVersionTags returns the labels of recordID, by version.
func (e *Engine) ListVersionTags(ctx context.Context, recordID string) ([]VersionTag, error) {
	tags, err := catalog.Query(ctx, e.catalog.DB(), func(s catalog.Scanner) (VersionTag, error) {
		var t VersionTag
		var createdAt string
		err := s.Scan(&t.RecordID, &t.Version, &t.Tag, &createdAt)
		t.CreatedAt = catalog.ParseTime(createdAt)
		return t, err
	}, `SELECT record_id, version, tag, created_at FROM version_tags WHERE record_id = ? ORDER BY version`, recordID)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []VersionTag{}
	}
	return tags, nil
}

func versionExists(ctx context.Context, q catalog.Querier, recordID string, version int) error {
	_, found, err := catalog.QueryOne(ctx, q, func(s catalog.Scanner) (int, error) {
		var n int
		err := s.Scan(&n)
		return n, err
	}, `SELECT 1 FROM record_versions WHERE record_id = ? AND version = ? LIMIT 1`, recordID, version)
	if err != nil {
		return err
	}
	if !found {
		return vaulterr.VersionNotFound("retention.tag", recordID, "", version)
	}
	return nil
}

func recordIDs(ctx context.Context, q catalog.Querier) ([]string, error) {
	return catalog.Query(ctx, q, func(s catalog.Scanner) (string, error) {
		var id string
		err := s.Scan(&id)
		return id, err
	}, `SELECT DISTINCT record_id FROM record_versions ORDER BY record_id`)
}
