package sync

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/record"
	"github.com/mschirtzinger/promptvault/internal/search"
	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// syncer implements the Syncer interface.
type syncer struct {
	store   *record.Store
	catalog *catalog.Catalog
	index   *search.Index
	logger  *log.Logger
}

// New creates a new Syncer.
//
// The catalog must be migrated before passing it to this function.
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	cat, err := catalog.Open(".promptvault/catalog.db", nil)
//	if err != nil {
//	    return err
//	}
//	if err := cat.Migrate(ctx); err != nil {
//	    return err
//	}
//	syncer := sync.New(store, cat, search.New(cat), nil)
func New(store *record.Store, c *catalog.Catalog, index *search.Index, logger *log.Logger) Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		store:   store,
		catalog: c,
		index:   index,
		logger:  logger,
	}
}

// row is the catalog image of a record file.
type row struct {
	ID            string
	Name          string
	ContentHash   string
	FilePath      string
	Version       int
	IsTemplate    bool
	IsFavorite    bool
	FavoriteOrder *int
	IsPinned      bool
	PinOrder      *int
	Archived      bool
	ContentLength int
	CreatedAt     string
	UpdatedAt     string
	Tags          []string
}

func rowFromFile(meta *record.Metadata, content, path string, archived bool) *row {
	return &row{
		ID:            meta.ID,
		Name:          meta.Name,
		ContentHash:   record.Hash(content),
		FilePath:      path,
		Version:       meta.Version,
		IsTemplate:    meta.IsTemplate,
		IsFavorite:    meta.IsFavorite,
		FavoriteOrder: meta.FavoriteOrder,
		IsPinned:      meta.IsPinned,
		PinOrder:      meta.PinOrder,
		Archived:      archived,
		ContentLength: len(content),
		CreatedAt:     catalog.FormatTime(meta.Created),
		UpdatedAt:     catalog.FormatTime(meta.Updated),
		Tags:          record.NormalizeTags(meta.Tags),
	}
}

func (r *row) equal(o *row) bool {
	return r.ID == o.ID &&
		r.Name == o.Name &&
		r.ContentHash == o.ContentHash &&
		r.FilePath == o.FilePath &&
		r.Version == o.Version &&
		r.IsTemplate == o.IsTemplate &&
		r.IsFavorite == o.IsFavorite &&
		intPtrEqual(r.FavoriteOrder, o.FavoriteOrder) &&
		r.IsPinned == o.IsPinned &&
		intPtrEqual(r.PinOrder, o.PinOrder) &&
		r.Archived == o.Archived &&
		r.ContentLength == o.ContentLength &&
		r.CreatedAt == o.CreatedAt &&
		r.UpdatedAt == o.UpdatedAt &&
		slices.Equal(r.Tags, o.Tags)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SyncFile implements Syncer.SyncFile.
func (s *syncer) SyncFile(ctx context.Context, path string) (*Result, error) {
	f, err := s.read(path)
	if err != nil {
		return nil, err
	}

	action, err := catalog.Transact(ctx, s.catalog, func(tx catalog.Querier) (Action, error) {
		return s.apply(ctx, tx, f.next, f.content)
	})
	if err != nil {
		return nil, err
	}
	return s.result(f, action), nil
}

// file is a record file read from disk, ready to apply.
type file struct {
	meta    *record.Metadata
	content string
	next    *row
}

func (s *syncer) read(path string) (*file, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, vaulterr.Storage("sync.file", path, err)
	}

	meta, content, err := s.store.Read(abs)
	if err != nil {
		return nil, err
	}
	if want := record.IDFromPath(abs); meta.ID != want {
		s.logger.Printf("Warning: %s declares id %s", filepath.Base(abs), meta.ID)
	}
	return &file{
		meta:    meta,
		content: content,
		next:    rowFromFile(meta, content, abs, s.isArchived(abs)),
	}, nil
}

func (s *syncer) result(f *file, action Action) *Result {
	if action != ActionUnchanged {
		s.logger.Printf("Synced record: %s (%s, %s)", f.meta.ID, f.meta.Name, action)
	}
	return &Result{
		RecordID: f.meta.ID,
		Name:     f.meta.Name,
		Path:     f.next.FilePath,
		Action:   action,
		Archived: f.next.Archived,
	}
}

// apply writes next into the catalog unless the stored image already
// matches it.
func (s *syncer) apply(ctx context.Context, tx catalog.Querier, next *row, content string) (Action, error) {
	cur, err := loadRow(ctx, tx, next.ID)
	if err != nil {
		return "", err
	}
	if cur != nil && cur.equal(next) {
		return ActionUnchanged, nil
	}

	// A different id claiming this path means the file's header was
	// rewritten; the old row has no file anymore.
	stale, err := catalog.Query(ctx, tx, scanString,
		`SELECT id FROM records WHERE file_path = ? AND id != ?`, next.FilePath, next.ID)
	if err != nil {
		return "", err
	}
	for _, id := range stale {
		if err := s.removeTx(ctx, tx, id); err != nil {
			return "", err
		}
	}

	// Names are unique across records.
	owner, found, err := catalog.QueryOne(ctx, tx, scanString,
		`SELECT id FROM records WHERE name = ? AND id != ?`, next.Name, next.ID)
	if err != nil {
		return "", err
	}
	if found {
		return "", vaulterr.DuplicateName("sync.file", next.Name+" (held by "+owner+")")
	}

	if err := upsertRow(ctx, tx, next); err != nil {
		return "", err
	}
	if err := replaceTags(ctx, tx, next.ID, next.Tags); err != nil {
		return "", err
	}
	if _, err := gcTags(ctx, tx); err != nil {
		return "", err
	}

	if next.Archived {
		if err := s.index.Remove(ctx, tx, next.ID); err != nil {
			return "", err
		}
	} else {
		err := s.index.Reindex(ctx, tx, search.Entry{
			RecordID: next.ID,
			Name:     next.Name,
			Content:  content,
			Tags:     next.Tags,
		})
		if err != nil {
			return "", err
		}
	}

	if cur == nil {
		return ActionInserted, nil
	}
	return ActionUpdated, nil
}

// FullSync implements Syncer.FullSync.
//
// Rows whose file is gone are pruned before the files are synced, so a name
// freed by an out-of-band delete is available in the same pass. Files that
// fail on a name held by another row are retried after the rest, and names
// moved between files by hand (a swap or a longer cycle) are applied
// together in one transaction.
func (s *syncer) FullSync(ctx context.Context) (*Stats, error) {
	started := time.Now()
	s.logger.Printf("Starting full sync from %s", s.store.Dir())

	paths, err := s.store.List()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	if err := s.cleanup(ctx, stats); err != nil {
		return stats, err
	}

	var conflicts []string
	for _, path := range paths {
		res, err := s.SyncFile(ctx, path)
		if err != nil {
			if vaulterr.KindOf(err) == vaulterr.KindDuplicateName {
				conflicts = append(conflicts, path)
				continue
			}
			s.fail(stats, path, err)
			continue
		}
		stats.tally(res.Action)
	}
	if len(conflicts) > 0 {
		s.resolveConflicts(ctx, conflicts, stats)
	}

	if err := s.cleanup(ctx, stats); err != nil {
		return stats, err
	}

	s.logger.Printf("Full sync complete in %s: synced=%d (inserted=%d, updated=%d), failed=%d, pruned=%d",
		time.Since(started).Round(time.Millisecond), stats.Synced, stats.Inserted, stats.Updated, stats.Failed, stats.Pruned)
	return stats, nil
}

// cleanup prunes rows without files and collects orphaned tags.
func (s *syncer) cleanup(ctx context.Context, stats *Stats) error {
	return s.catalog.Transaction(ctx, func(tx catalog.Querier) error {
		pruned, err := s.prune(ctx, tx)
		if err != nil {
			return err
		}
		orphans, err := gcTags(ctx, tx)
		if err != nil {
			return err
		}
		stats.Pruned += pruned
		stats.OrphanTags += orphans
		return nil
	})
}

func (s *syncer) fail(stats *Stats, path string, err error) {
	s.logger.Printf("WARNING: Failed to sync %s: %s", filepath.Base(path), record.Redact(err.Error()))
	stats.Failed++
}

func (st *Stats) tally(action Action) {
	st.Synced++
	switch action {
	case ActionInserted:
		st.Inserted++
	case ActionUpdated:
		st.Updated++
	default:
		st.Unchanged++
	}
}

// resolveConflicts syncs files that failed on a name held by another row.
//
// A plain retry covers names released later in the pass, such as a rename
// processed after the file taking the old name. What remains is applied as
// a batch when every holder of a wanted name is itself in the batch and
// gives the name up: those rows get a placeholder name first, then every
// file is applied in one transaction. Anything else is a genuine duplicate.
func (s *syncer) resolveConflicts(ctx context.Context, paths []string, stats *Stats) {
	var stuck []*file
	for _, path := range paths {
		res, err := s.SyncFile(ctx, path)
		if err == nil {
			stats.tally(res.Action)
			continue
		}
		if vaulterr.KindOf(err) != vaulterr.KindDuplicateName {
			s.fail(stats, path, err)
			continue
		}
		f, err := s.read(path)
		if err != nil {
			s.fail(stats, path, err)
			continue
		}
		stuck = append(stuck, f)
	}
	if len(stuck) == 0 {
		return
	}

	batch := make(map[string]*file, len(stuck))
	holder := make(map[string]string, len(stuck))
	wanted := make(map[string]int, len(stuck))
	for _, f := range stuck {
		wanted[f.next.Name]++
	}
	for _, f := range stuck {
		id := f.next.ID
		if _, dup := batch[id]; dup || wanted[f.next.Name] > 1 {
			s.fail(stats, f.next.FilePath, vaulterr.DuplicateName("sync.full", f.next.Name))
			continue
		}
		owner, found, err := catalog.QueryOne(ctx, s.catalog.DB(), scanString,
			`SELECT id FROM records WHERE name = ? AND id != ?`, f.next.Name, id)
		if err != nil {
			s.fail(stats, f.next.FilePath, err)
			continue
		}
		if found {
			holder[id] = owner
		}
		batch[id] = f
	}

	// Drop files whose name is held by a row outside the batch, until
	// nothing changes.
	for changed := true; changed; {
		changed = false
		for id, f := range batch {
			owner, held := holder[id]
			if !held {
				continue
			}
			if _, ok := batch[owner]; ok {
				continue
			}
			s.fail(stats, f.next.FilePath, vaulterr.DuplicateName("sync.full", f.next.Name+" (held by "+owner+")"))
			delete(batch, id)
			changed = true
		}
	}
	if len(batch) == 0 {
		return
	}

	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	actions, err := catalog.Transact(ctx, s.catalog, func(tx catalog.Querier) ([]Action, error) {
		for _, id := range ids {
			if _, err := catalog.Exec(ctx, tx,
				`UPDATE records SET name = ? WHERE id = ?`, placeholderName(id), id); err != nil {
				return nil, err
			}
		}
		out := make([]Action, 0, len(ids))
		for _, id := range ids {
			f := batch[id]
			action, err := s.apply(ctx, tx, f.next, f.content)
			if err != nil {
				return nil, err
			}
			out = append(out, action)
		}
		return out, nil
	})
	if err != nil {
		for _, id := range ids {
			s.fail(stats, batch[id].next.FilePath, err)
		}
		return
	}
	for i, id := range ids {
		stats.tally(s.result(batch[id], actions[i]).Action)
	}
}

// placeholderName cannot collide with a real name: valid names hold no
// control characters.
func placeholderName(id string) string {
	return "\x00" + id
}

// prune removes rows whose backing file is gone.
func (s *syncer) prune(ctx context.Context, tx catalog.Querier) (int, error) {
	type entry struct{ id, path string }
	rows, err := catalog.Query(ctx, tx, func(sc catalog.Scanner) (entry, error) {
		var e entry
		err := sc.Scan(&e.id, &e.path)
		return e, err
	}, `SELECT id, file_path FROM records ORDER BY id`)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, e := range rows {
		if s.store.Exists(e.path) {
			continue
		}
		if err := s.removeTx(ctx, tx, e.id); err != nil {
			return pruned, err
		}
		s.logger.Printf("Pruned record without file: %s", e.id)
		pruned++
	}
	return pruned, nil
}

// Remove implements Syncer.Remove.
func (s *syncer) Remove(ctx context.Context, recordID string) error {
	err := s.catalog.Transaction(ctx, func(tx catalog.Querier) error {
		if err := s.removeTx(ctx, tx, recordID); err != nil {
			return err
		}
		_, err := gcTags(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Printf("Removed record: %s", recordID)
	return nil
}

func (s *syncer) removeTx(ctx context.Context, tx catalog.Querier, recordID string) error {
	// record_tags rows go with the record (ON DELETE CASCADE).
	if _, err := catalog.Exec(ctx, tx, `DELETE FROM records WHERE id = ?`, recordID); err != nil {
		return err
	}
	return s.index.Remove(ctx, tx, recordID)
}

func (s *syncer) isArchived(path string) bool {
	archiveDir, err := filepath.Abs(s.store.ArchiveDir())
	if err != nil {
		return false
	}
	return filepath.Dir(path) == archiveDir
}

func loadRow(ctx context.Context, q catalog.Querier, id string) (*row, error) {
	r, found, err := catalog.QueryOne(ctx, q, func(sc catalog.Scanner) (*row, error) {
		var r row
		var favOrder, pinOrder sql.NullInt64
		err := sc.Scan(&r.ID, &r.Name, &r.ContentHash, &r.FilePath, &r.Version,
			&r.IsTemplate, &r.IsFavorite, &favOrder, &r.IsPinned, &pinOrder,
			&r.Archived, &r.ContentLength, &r.CreatedAt, &r.UpdatedAt)
		r.FavoriteOrder = catalog.IntPtr(favOrder)
		r.PinOrder = catalog.IntPtr(pinOrder)
		return &r, err
	}, `
		SELECT id, name, content_hash, file_path, version,
		       is_template, is_favorite, favorite_order, is_pinned, pin_order,
		       archived, content_length, created_at, updated_at
		FROM records WHERE id = ?`, id)
	if err != nil || !found {
		return nil, err
	}

	tags, err := catalog.Query(ctx, q, scanString, `
		SELECT t.name FROM record_tags rt JOIN tags t ON t.id = rt.tag_id
		WHERE rt.record_id = ? ORDER BY t.name`, id)
	if err != nil {
		return nil, err
	}
	r.Tags = record.NormalizeTags(tags)
	return r, nil
}

func upsertRow(ctx context.Context, tx catalog.Querier, r *row) error {
	_, err := catalog.Exec(ctx, tx, `
		INSERT INTO records (
			id, name, content_hash, file_path, version,
			is_template, is_favorite, favorite_order, is_pinned, pin_order,
			archived, content_length, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content_hash = excluded.content_hash,
			file_path = excluded.file_path,
			version = excluded.version,
			is_template = excluded.is_template,
			is_favorite = excluded.is_favorite,
			favorite_order = excluded.favorite_order,
			is_pinned = excluded.is_pinned,
			pin_order = excluded.pin_order,
			archived = excluded.archived,
			content_length = excluded.content_length,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.ContentHash, r.FilePath, r.Version,
		r.IsTemplate, r.IsFavorite, catalog.NullInt(r.FavoriteOrder), r.IsPinned, catalog.NullInt(r.PinOrder),
		r.Archived, r.ContentLength, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// replaceTags swaps the tag links of a record for tags, creating missing
// tags.
func replaceTags(ctx context.Context, tx catalog.Querier, recordID string, tags []string) error {
	if _, err := catalog.Exec(ctx, tx, `DELETE FROM record_tags WHERE record_id = ?`, recordID); err != nil {
		return err
	}

	now := catalog.FormatTime(time.Now())
	for _, tag := range tags {
		if _, err := catalog.Exec(ctx, tx,
			`INSERT OR IGNORE INTO tags (name, created_at) VALUES (?, ?)`, tag, now); err != nil {
			return err
		}
		if _, err := catalog.Exec(ctx, tx, `
			INSERT OR IGNORE INTO record_tags (record_id, tag_id)
			SELECT ?, id FROM tags WHERE name = ?`, recordID, tag); err != nil {
			return err
		}
	}
	return nil
}

// gcTags deletes tags no record links to and returns how many went.
func gcTags(ctx context.Context, tx catalog.Querier) (int, error) {
	res, err := catalog.Exec(ctx, tx,
		`DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM record_tags)`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanString(sc catalog.Scanner) (string, error) {
	var v string
	err := sc.Scan(&v)
	return v, err
}
