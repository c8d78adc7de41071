// Package sync keeps the catalog consistent with the record files.
//
// # Overview
//
// Record files are the source of truth. The syncer reads them and updates
// the catalog (records table, tag graph, search index) for fast queries.
//
// # Architecture
//
//	File System
//	     ├── prompts/*.md          → record.Metadata + body
//	     └── archive/*.md          → archived records
//	                                      ↓
//	                                   Syncer
//	                                      ↓
//	                                   catalog.db
//	                                   (records, tags, records_fts)
//
// # Usage
//
// Full sync, after startup or on an explicit reindex:
//
//	syncer := sync.New(store, cat, search.New(cat), nil)
//	stats, err := syncer.FullSync(ctx)
//	if err != nil {
//	    return err
//	}
//
// Incremental sync, after a write through the record store:
//
//	if _, err := syncer.SyncFile(ctx, store.PathFor(id)); err != nil {
//	    return err
//	}
//
// # Deletions
//
// SyncFile never deletes. A hard delete calls Remove with the record id. A
// file deleted behind the engine's back is caught by the pruning pass of
// FullSync, which drops every row whose file_path no longer exists.
//
// # Error Handling
//
//   - SyncFile is one transaction: on any error nothing is written
//   - FullSync logs and skips files that fail, secrets redacted
//   - Catalog errors from pruning are returned to the caller
//
// # Convergence
//
// Repeated syncs of unchanged files write nothing. The row image is
// compared field by field (content hash included) before any statement
// runs, so the watcher and an explicit full sync can overlap safely.
package sync
