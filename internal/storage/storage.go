// Package storage is the record API the CLI and other callers use.
//
// A write always goes file first, then sync, then (for semantic edits) a
// version snapshot:
//
//	record.Store.Write -> Syncer.SyncFile -> version.Store.CreateVersion
//
// The files stay the source of truth. If sync fails after a write, the next
// full sync or watcher event converges the catalog.
package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/record"
	"github.com/mschirtzinger/promptvault/internal/search"
	pvsync "github.com/mschirtzinger/promptvault/internal/sync"
	"github.com/mschirtzinger/promptvault/internal/vaulterr"
	"github.com/mschirtzinger/promptvault/internal/version"
)

// Reasons recorded on the snapshots the service creates.
const (
	ReasonInitial = "Initial version"
	ReasonUpdate  = "Updated"
)

// Record is a record as the service returns it.
type Record struct {
	record.Record
	Archived bool
}

// CreateInput describes a new record.
type CreateInput struct {
	Name       string
	Content    string
	Tags       []string
	IsTemplate bool
}

// UpdateInput is a partial update. Nil fields are left alone.
type UpdateInput struct {
	Name          *string
	Content       *string
	Tags          *[]string
	IsTemplate    *bool
	IsFavorite    *bool
	FavoriteOrder *int
	IsPinned      *bool
	PinOrder      *int
	// Reason is stored on the version snapshot.
	Reason string
}

// ListOptions filters List.
type ListOptions struct {
	IncludeArchived bool
	TemplatesOnly   bool
	Limit           int
}

// SearchHit is a search result joined with its record.
type SearchHit struct {
	*Record
	Score   float64
	Snippet string
}

// Service ties the record files to the catalog and the version history.
// Its methods are safe for concurrent use; writes are serialized.
type Service struct {
	// writeMu orders the file write, sync and snapshot of each write so the
	// branch HEAD always matches the file.
	writeMu sync.Mutex

	store    *record.Store
	catalog  *catalog.Catalog
	syncer   pvsync.Syncer
	index    *search.Index
	versions *version.Store
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. If logger is nil, a default logger writing to
// stderr is used.
func New(store *record.Store, c *catalog.Catalog, syncer pvsync.Syncer, index *search.Index, versions *version.Store, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[storage] ", log.LstdFlags)
	}
	s := &Service{
		store:    store,
		catalog:  c,
		syncer:   syncer,
		index:    index,
		versions: versions,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Versions returns the version store behind the service.
func (s *Service) Versions() *version.Store {
	return s.versions
}

// Syncer returns the sync engine behind the service.
func (s *Service) Syncer() pvsync.Syncer {
	return s.syncer
}

// Create writes a new record file, syncs it and snapshots version 1.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	name := strings.TrimSpace(in.Name)
	if err := record.ValidateName(name); err != nil {
		return nil, vaulterr.Validation("storage.create", err)
	}
	if _, found, err := s.idByName(ctx, name); err != nil {
		return nil, err
	} else if found {
		return nil, vaulterr.DuplicateName("storage.create", name)
	}

	now := s.now().UTC()
	meta := &record.Metadata{
		ID:         uuid.NewString(),
		Name:       name,
		Tags:       record.NormalizeTags(in.Tags),
		Created:    now,
		Updated:    now,
		Version:    1,
		IsTemplate: in.IsTemplate,
	}

	path := s.store.PathFor(meta.ID)
	if err := s.store.Write(path, meta, in.Content); err != nil {
		return nil, err
	}
	if _, err := s.syncer.SyncFile(ctx, path); err != nil {
		// Nothing references the new file yet.
		_ = s.store.Remove(path)
		return nil, err
	}
	if _, err := s.versions.CreateVersion(ctx, meta.ID, in.Content, frontmatter(meta), version.MainBranch, ReasonInitial); err != nil {
		// A record without version 1 must not survive.
		_ = s.store.Remove(path)
		if rmErr := s.syncer.Remove(ctx, meta.ID); rmErr != nil {
			s.logger.Printf("Warning: failed to remove catalog row of %s: %v", meta.ID, rmErr)
		}
		return nil, fmt.Errorf("failed to snapshot %s: %w", meta.ID, err)
	}

	s.logger.Printf("Created record: %s (%s)", meta.ID, meta.Name)
	return s.load(path, false)
}

// GetByID returns the record with id, archived or not.
func (s *Service) GetByID(ctx context.Context, id string) (*Record, error) {
	loc, found, err := s.locate(ctx, `id = ?`, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, vaulterr.RecordNotFound("storage.get", id)
	}
	return s.load(loc.path, loc.archived)
}

// GetByName returns the record named name.
func (s *Service) GetByName(ctx context.Context, name string) (*Record, error) {
	loc, found, err := s.locate(ctx, `name = ?`, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, vaulterr.RecordNotFound("storage.get", name)
	}
	return s.load(loc.path, loc.archived)
}

// Resolve looks key up as an id, then as a name.
func (s *Service) Resolve(ctx context.Context, key string) (*Record, error) {
	rec, err := s.GetByID(ctx, key)
	if vaulterr.IsNotFound(err) {
		return s.GetByName(ctx, key)
	}
	return rec, err
}

// Update applies in to record id, bumps its header version, rewrites the
// file, syncs it and snapshots the new content.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Archived {
		return nil, vaulterr.Validation("storage.update", fmt.Errorf("record %s is archived", id))
	}

	meta := cur.Metadata
	content := cur.Content
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := record.ValidateName(name); err != nil {
			return nil, vaulterr.Validation("storage.update", err)
		}
		if name != meta.Name {
			if other, found, err := s.idByName(ctx, name); err != nil {
				return nil, err
			} else if found && other != id {
				return nil, vaulterr.DuplicateName("storage.update", name)
			}
		}
		meta.Name = name
	}
	if in.Content != nil {
		content = *in.Content
	}
	if in.Tags != nil {
		meta.Tags = record.NormalizeTags(*in.Tags)
	}
	if in.IsTemplate != nil {
		meta.IsTemplate = *in.IsTemplate
	}
	if in.IsFavorite != nil {
		meta.IsFavorite = *in.IsFavorite
	}
	if in.FavoriteOrder != nil {
		meta.FavoriteOrder = in.FavoriteOrder
	}
	if in.IsPinned != nil {
		meta.IsPinned = *in.IsPinned
	}
	if in.PinOrder != nil {
		meta.PinOrder = in.PinOrder
	}
	meta.Version++
	meta.Updated = s.now().UTC()

	if err := s.store.Write(cur.Path, &meta, content); err != nil {
		return nil, err
	}
	if _, err := s.syncer.SyncFile(ctx, cur.Path); err != nil {
		return nil, err
	}

	reason := in.Reason
	if reason == "" {
		reason = ReasonUpdate
	}
	if _, err := s.versions.CreateVersion(ctx, id, content, frontmatter(&meta), version.MainBranch, reason); err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", id, err)
	}

	s.logger.Printf("Updated record: %s (v%d)", id, meta.Version)
	return s.load(cur.Path, false)
}

// Delete archives record id, or removes it when hard is set. A hard delete
// drops the file and the catalog row but keeps the version history.
// Archiving an archived record is a no-op.
func (s *Service) Delete(ctx context.Context, id string, hard bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if hard {
		if err := s.store.Remove(cur.Path); err != nil {
			return err
		}
		if err := s.syncer.Remove(ctx, id); err != nil {
			return err
		}
		s.logger.Printf("Deleted record: %s", id)
		return nil
	}

	if cur.Archived {
		return nil
	}
	dest, err := s.move(&cur.Record, s.store.ArchivePathFor(id), s.store.Archive)
	if err != nil {
		return err
	}
	if _, err := s.syncer.SyncFile(ctx, dest); err != nil {
		return err
	}
	s.logger.Printf("Archived record: %s", id)
	return nil
}

// Restore moves an archived record back into the record directory.
func (s *Service) Restore(ctx context.Context, id string) (*Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.Archived {
		return cur, nil
	}
	dest, err := s.move(&cur.Record, s.store.PathFor(id), s.store.Restore)
	if err != nil {
		return nil, err
	}
	if _, err := s.syncer.SyncFile(ctx, dest); err != nil {
		return nil, err
	}
	s.logger.Printf("Restored record: %s", id)
	return s.load(dest, false)
}

// move relocates a record file. Files at their canonical name are renamed;
// anything else is rewritten at dest and the original removed.
func (s *Service) move(rec *record.Record, dest string, rename func(id string) (string, error)) (string, error) {
	if sameFile(rec.Path, s.store.PathFor(rec.ID)) || sameFile(rec.Path, s.store.ArchivePathFor(rec.ID)) {
		return rename(rec.ID)
	}
	if err := s.store.Write(dest, &rec.Metadata, rec.Content); err != nil {
		return "", err
	}
	if err := s.store.Remove(rec.Path); err != nil {
		return "", err
	}
	return dest, nil
}

// FindByTags returns the active records carrying every tag in tags, by name.
func (s *Service) FindByTags(ctx context.Context, tags []string) ([]*Record, error) {
	tags = record.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil, vaulterr.Validation("storage.find_by_tags", fmt.Errorf("at least one tag is required"))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tags)), ", ")
	args := make([]any, 0, len(tags)+1)
	for _, t := range tags {
		args = append(args, t)
	}
	args = append(args, len(tags))

	locs, err := catalog.Query(ctx, s.catalog.DB(), scanLocation, `
		SELECT r.file_path, r.archived FROM records r
		JOIN record_tags rt ON rt.record_id = r.id
		JOIN tags t ON t.id = rt.tag_id
		WHERE r.archived = 0 AND t.name IN (`+placeholders+`)
		GROUP BY r.id
		HAVING COUNT(DISTINCT t.id) = ?
		ORDER BY r.name`, args...)
	if err != nil {
		return nil, err
	}
	return s.loadAll(locs), nil
}

// List returns records ordered pinned first, then by name.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	query := `SELECT file_path, archived FROM records WHERE 1 = 1`
	var args []any
	if !opts.IncludeArchived {
		query += ` AND archived = 0`
	}
	if opts.TemplatesOnly {
		query += ` AND is_template = 1`
	}
	query += ` ORDER BY is_pinned DESC, pin_order IS NULL, pin_order, name`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	locs, err := catalog.Query(ctx, s.catalog.DB(), scanLocation, query, args...)
	if err != nil {
		return nil, err
	}
	return s.loadAll(locs), nil
}

// Search runs a full-text query and loads the matching records, best match
// first.
func (s *Service) Search(ctx context.Context, query string, opts search.SearchOptions) ([]*SearchHit, error) {
	results, err := s.index.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	hits := make([]*SearchHit, 0, len(results))
	for _, r := range results {
		rec, err := s.GetByID(ctx, r.RecordID)
		if err != nil {
			s.logger.Printf("Skipping search hit %s: %s", r.RecordID, record.Redact(err.Error()))
			continue
		}
		hits = append(hits, &SearchHit{Record: rec, Score: r.Score, Snippet: r.Snippet})
	}
	return hits, nil
}

// Rollback restores record id to target. On the main branch the restored
// content, name, tags and template flag are also written back to the
// record file and synced; other branches only change the history. The
// header version keeps counting up.
func (s *Service) Rollback(ctx context.Context, id string, target int, opts version.RollbackOptions) (*version.Version, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	onMain := strings.TrimSpace(opts.Branch) == "" || opts.Branch == version.MainBranch
	var cur *Record
	if onMain {
		want, err := s.versions.GetVersion(ctx, id, target, version.MainBranch)
		if err != nil {
			return nil, err
		}
		if cur, err = s.GetByID(ctx, id); err != nil {
			return nil, err
		}
		restore(&cur.Metadata, want.Frontmatter)
		if owner, found, err := s.idByName(ctx, cur.Name); err != nil {
			return nil, err
		} else if found && owner != id {
			return nil, vaulterr.DuplicateName("storage.rollback", cur.Name)
		}
	}

	v, err := s.versions.Rollback(ctx, id, target, opts)
	if err != nil {
		return nil, err
	}
	if !onMain {
		return v, nil
	}

	meta := cur.Metadata
	meta.Version++
	meta.Updated = s.now().UTC()
	if err := s.store.Write(cur.Path, &meta, v.Content); err != nil {
		return nil, err
	}
	if _, err := s.syncer.SyncFile(ctx, cur.Path); err != nil {
		return nil, err
	}

	s.logger.Printf("Rolled back record: %s to v%d", id, target)
	return v, nil
}

// restore copies the name, tags and template flag of a version snapshot
// onto meta. Missing or mistyped keys leave the current value.
func restore(meta *record.Metadata, fm map[string]any) {
	if name, ok := fm["name"].(string); ok && strings.TrimSpace(name) != "" {
		meta.Name = name
	}
	if raw, ok := fm["tags"].([]any); ok {
		tags := make([]string, 0, len(raw))
		for _, t := range raw {
			if tag, ok := t.(string); ok {
				tags = append(tags, tag)
			}
		}
		meta.Tags = record.NormalizeTags(tags)
	}
	if tmpl, ok := fm["isTemplate"].(bool); ok {
		meta.IsTemplate = tmpl
	}
}

type location struct {
	path     string
	archived bool
}

func scanLocation(sc catalog.Scanner) (location, error) {
	var l location
	err := sc.Scan(&l.path, &l.archived)
	return l, err
}

func (s *Service) locate(ctx context.Context, where string, arg any) (location, bool, error) {
	return catalog.QueryOne(ctx, s.catalog.DB(), scanLocation,
		`SELECT file_path, archived FROM records WHERE `+where, arg)
}

func (s *Service) idByName(ctx context.Context, name string) (string, bool, error) {
	return catalog.QueryOne(ctx, s.catalog.DB(), scanString, `SELECT id FROM records WHERE name = ?`, name)
}

func (s *Service) load(path string, archived bool) (*Record, error) {
	rec, err := s.store.ReadRecord(path)
	if err != nil {
		return nil, err
	}
	return &Record{Record: *rec, Archived: archived}, nil
}

// loadAll reads each file, skipping and logging the ones that fail.
func (s *Service) loadAll(locs []location) []*Record {
	out := make([]*Record, 0, len(locs))
	for _, l := range locs {
		rec, err := s.load(l.path, l.archived)
		if err != nil {
			s.logger.Printf("Skipping %s: %s", filepath.Base(l.path), record.Redact(err.Error()))
			continue
		}
		out = append(out, rec)
	}
	return out
}

func scanString(sc catalog.Scanner) (string, error) {
	var v string
	err := sc.Scan(&v)
	return v, err
}

// frontmatter is the header image stored with each version.
func frontmatter(m *record.Metadata) map[string]any {
	fm := map[string]any{
		"name":       m.Name,
		"tags":       m.Tags,
		"version":    m.Version,
		"isTemplate": m.IsTemplate,
	}
	if m.Tags == nil {
		fm["tags"] = []string{}
	}
	return fm
}

func sameFile(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}
