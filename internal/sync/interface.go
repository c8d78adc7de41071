package sync

import "context"

// Action tells what SyncFile did to the catalog row.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Result describes one synced file.
type Result struct {
	RecordID string
	Name     string
	Path     string
	Action   Action
	Archived bool
}

// Stats summarizes a full sync.
type Stats struct {
	Synced    int
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
	Pruned    int
	// OrphanTags counts tags removed because no record used them anymore.
	OrphanTags int
}

// Syncer keeps the catalog in sync with the record files.
//
// The syncer reads record files, validates them, and updates the records
// table, the tag graph and the search index to match. Single-file sync is
// atomic. Full sync is resilient: a file that fails to sync is logged and
// the rest continue.
type Syncer interface {
	// SyncFile reads a record file and makes its catalog row, tag links and
	// search entry match it, in one transaction.
	//
	// The file must exist: a missing file is a storage error, not a delete.
	// Running SyncFile twice on an unchanged file writes nothing the second
	// time and reports ActionUnchanged.
	//
	// Example:
	//   res, err := syncer.SyncFile(ctx, "/data/prompts/0b6c5c1e.md")
	SyncFile(ctx context.Context, path string) (*Result, error)

	// FullSync prunes catalog rows whose file no longer exists, syncs every
	// file under the record directory, resolves names moved between files,
	// and drops orphaned tags. One pass converges.
	//
	// It returns an error only if the directory cannot be listed or a
	// pruning statement fails. Per-file failures are counted in Stats.
	//
	// Example:
	//   stats, err := syncer.FullSync(ctx)
	FullSync(ctx context.Context) (*Stats, error)

	// Remove deletes a record's catalog row, tag links and search entry.
	// Removing an unknown id is not an error. Version history is kept.
	//
	// Example:
	//   err := syncer.Remove(ctx, "0b6c5c1e")
	Remove(ctx context.Context, recordID string) error
}
