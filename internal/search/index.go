// Package search maintains the lexical full-text index over records.
//
// The index is an FTS5 table in the catalog holding one row per record with
// the record's name, content and a space-joined tag string. Queries are
// ranked with bm25, best match first.
package search

import (
	"context"
	"strings"

	"github.com/mschirtzinger/promptvault/internal/catalog"
)

// DefaultLimit caps results when SearchOptions.Limit is zero.
const DefaultLimit = 50

// Entry is the indexed representation of one record.
type Entry struct {
	RecordID string
	Name     string
	Content  string
	Tags     []string
}

// Result is one ranked match.
type Result struct {
	RecordID string
	// Score is the bm25 rank; lower is a better match.
	Score   float64
	Snippet string
}

// SearchOptions narrows a query.
type SearchOptions struct {
	Limit int
	// Tags restricts matches to records carrying every listed tag.
	Tags []string
	// IncludeArchived also returns archived records. Archived records are
	// removed from the index, so this only matters for rows re-added by sync.
	IncludeArchived bool
}

// Index runs against a catalog. Methods taking a catalog.Querier can run
// inside a caller's transaction.
type Index struct {
	catalog *catalog.Catalog
}

// New creates an Index over c.
func New(c *catalog.Catalog) *Index {
	return &Index{catalog: c}
}

// Reindex replaces the index entry for e.RecordID.
func (ix *Index) Reindex(ctx context.Context, q catalog.Querier, e Entry) error {
	if err := ix.Remove(ctx, q, e.RecordID); err != nil {
		return err
	}
	_, err := catalog.Exec(ctx, q,
		`INSERT INTO records_fts (record_id, name, content, tags) VALUES (?, ?, ?, ?)`,
		e.RecordID, e.Name, e.Content, strings.Join(e.Tags, " "),
	)
	return err
}

// Remove deletes the index entry for recordID. Missing entries are ignored.
func (ix *Index) Remove(ctx context.Context, q catalog.Querier, recordID string) error {
	_, err := catalog.Exec(ctx, q, `DELETE FROM records_fts WHERE record_id = ?`, recordID)
	return err
}

// Search runs a free-text query. The query is sanitized first; an empty
// sanitized query returns no results without touching the index.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	match := SanitizeQuery(query)
	if match == "" {
		return []Result{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	sql := `
	SELECT records_fts.record_id, bm25(records_fts, 0.0, 10.0, 1.0, 5.0) AS score,
	       snippet(records_fts, 2, '[', ']', '…', 12)
	FROM records_fts
	JOIN records r ON r.id = records_fts.record_id
	WHERE records_fts MATCH ?
	`
	args := []any{match}

	if !opts.IncludeArchived {
		sql += " AND r.archived = 0"
	}

	for _, tag := range opts.Tags {
		sql += ` AND EXISTS (
			SELECT 1 FROM record_tags rt JOIN tags t ON t.id = rt.tag_id
			WHERE rt.record_id = r.id AND t.name = ?
		)`
		args = append(args, strings.ToLower(strings.TrimSpace(tag)))
	}

	sql += " ORDER BY score ASC, r.name ASC LIMIT ?"
	args = append(args, limit)

	results, err := catalog.Query(ctx, ix.catalog.DB(), scanResult, sql, args...)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// Count returns the number of indexed records.
func (ix *Index) Count(ctx context.Context) (int, error) {
	n, _, err := catalog.QueryOne(ctx, ix.catalog.DB(), func(s catalog.Scanner) (int, error) {
		var n int
		err := s.Scan(&n)
		return n, err
	}, `SELECT COUNT(*) FROM records_fts`)
	return n, err
}

func scanResult(s catalog.Scanner) (Result, error) {
	var r Result
	err := s.Scan(&r.RecordID, &r.Score, &r.Snippet)
	return r, err
}
