// Package daemon reconciles edits made to record files outside the engine.
//
// # Architecture
//
//   - Watcher: fsnotify over the record directory (recursive), an unbounded
//     change queue and a drain loop that debounces per path
//   - Daemon: initial full sync, the watcher and an optional periodic
//     full sync
//
// # Debouncing
//
// Every notification for a record file is pushed onto the queue and, in the
// same critical section, recorded as the newest event for its path. The
// drain loop takes events in arrival order and waits until each one is
// Config.Debounce old. It then syncs the file only if the event is still
// the newest for its path; otherwise it is dropped, since the newer event
// will do the same work after its own wait. A burst of writes to one file
// thus costs one sync, which reads the content present when the last
// window expires.
//
// Deletes and renames trigger a full sync instead of a per-file sync, so
// the pruning pass can drop the row of the missing file.
//
// # Usage
//
//	w, err := daemon.New(store.Dir(), syncer, &daemon.Config{
//	    Debounce: 150 * time.Millisecond,
//	    Ignore:   []string{"drafts/**"},
//	})
//	if err != nil {
//	    return err
//	}
//	return w.Run(ctx)
//
// # Error Handling
//
// Sync failures are logged (redacted) and counted per event. They never
// stop the drain loop.
package daemon
