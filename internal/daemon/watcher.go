package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/promptvault/internal/record"
	pvsync "github.com/mschirtzinger/promptvault/internal/sync"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpRename indicates a file was renamed away (the new name, if watched,
	// arrives as its own create).
	OpRename
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is one queued change notification.
type Event struct {
	// Path is the absolute path of the record file.
	Path string
	Op   EventOp
	// At is when the notification was received.
	At time.Time

	seq uint64
}

// Syncer is the part of the sync engine the watcher drives.
type Syncer interface {
	SyncFile(ctx context.Context, path string) (*pvsync.Result, error)
	FullSync(ctx context.Context) (*pvsync.Stats, error)
}

// Config holds configuration for the watcher.
type Config struct {
	// Debounce is how long an event waits before it is acted on. A newer
	// event for the same path during the wait supersedes it.
	Debounce time.Duration

	// Ignore lists extra glob patterns of files to skip.
	Ignore []string

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultDebounce is the debounce window used when none is configured.
const DefaultDebounce = 150 * time.Millisecond

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: DefaultDebounce,
		Logger:   log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Stats counts what the drain loop did.
type Stats struct {
	Queued    int64
	Synced    int64
	FullSyncs int64
	// Superseded counts events dropped because a newer event for the same
	// path arrived during their debounce window.
	Superseded int64
	Errors     int64
}

// Watcher turns file-change notifications under a record directory into
// debounced sync calls.
type Watcher struct {
	dir    string
	syncer Syncer
	config *Config
	filter *Filter
	queue  *changeQueue

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queued, synced, fullSyncs, superseded, errs atomic.Int64
}

// New creates a Watcher for dir. The watcher must be started with Start()
// before it reacts to file changes. Events passed to Notify before Start
// are processed once it starts.
func New(dir string, syncer Syncer, config *Config) (*Watcher, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	filter, err := NewFilter(abs, config.Ignore)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		dir:    abs,
		syncer: syncer,
		config: config,
		filter: filter,
		queue:  newChangeQueue(),
	}, nil
}

// Start watches the directory tree and starts the drain loop.
// It returns once the watches are in place.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.addRecursive(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.drain()

	w.config.Logger.Printf("Watching: %s (debounce %s)", w.dir, w.config.Debounce)
	return nil
}

// Run starts the watcher and blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.config.Logger.Println("Shutdown signal received")
	return w.Stop()
}

// Stop stops watching and waits for the drain loop to exit. Events still
// waiting out their debounce window are dropped; a later full sync
// reconciles them.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()

	var closeErr error
	if err := w.fsw.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	if n := w.queue.Len(); n > 0 {
		w.config.Logger.Printf("Stopped with %d pending events", n)
	}
	return closeErr
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns the drain loop counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Queued:     w.queued.Load(),
		Synced:     w.synced.Load(),
		FullSyncs:  w.fullSyncs.Load(),
		Superseded: w.superseded.Load(),
		Errors:     w.errs.Load(),
	}
}

// Notify queues a change for path. It records the event as the newest for
// its path before returning, and never blocks.
func (w *Watcher) Notify(path string, op EventOp) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	w.queue.push(Event{Path: abs, Op: op, At: time.Now()})
	w.queued.Add(1)
}

// watchFileEvents forwards fsnotify events to Notify.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// handleEvent filters one fsnotify event and queues it.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.filter.ShouldIgnore(event.Name) {
		return
	}

	// New directories are watched too.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.config.Logger.Printf("Warning: failed to watch %s: %v", event.Name, err)
			}
			return
		}
	}

	if !record.IsRecordFile(event.Name) {
		return
	}

	op, ok := convertOp(event.Op)
	if !ok {
		return
	}
	w.Notify(event.Name, op)
}

// convertOp maps an fsnotify operation to an EventOp. Chmod-only events
// are ignored.
func convertOp(op fsnotify.Op) (EventOp, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Remove):
		return OpDelete, true
	case op.Has(fsnotify.Rename):
		return OpRename, true
	case op.Has(fsnotify.Write):
		return OpModify, true
	default:
		return 0, false
	}
}

// drain pops events in arrival order, waits out each one's debounce window
// and syncs it unless a newer event for the same path superseded it.
func (w *Watcher) drain() {
	defer w.wg.Done()

	for {
		if w.ctx.Err() != nil {
			return
		}
		e, ok := w.queue.pop()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-w.queue.signal:
				continue
			}
		}

		if wait := time.Until(due(e, w.config.Debounce)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-w.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		if !w.queue.claim(e) {
			w.superseded.Add(1)
			continue
		}
		w.process(e)
	}
}

// process runs the sync for one event. Failures are logged and counted;
// they never stop the loop.
func (w *Watcher) process(e Event) {
	fullSync := e.Op == OpDelete || e.Op == OpRename
	if !fullSync {
		// The file may be gone by the time the window expires.
		if _, err := os.Stat(e.Path); errors.Is(err, fs.ErrNotExist) {
			fullSync = true
		}
	}

	if fullSync {
		w.config.Logger.Printf("Processing %s: %s (full sync)", e.Op, e.Path)
		if _, err := w.syncer.FullSync(w.ctx); err != nil {
			w.errs.Add(1)
			w.config.Logger.Printf("Error during full sync: %s", record.Redact(err.Error()))
			return
		}
		w.fullSyncs.Add(1)
		return
	}

	res, err := w.syncer.SyncFile(w.ctx, e.Path)
	if err != nil {
		w.errs.Add(1)
		w.config.Logger.Printf("Error syncing %s: %s", filepath.Base(e.Path), record.Redact(err.Error()))
		return
	}
	w.synced.Add(1)
	if res != nil && res.Action != pvsync.ActionUnchanged {
		w.config.Logger.Printf("Synced %s: %s", res.Name, res.Action)
	}
}

// addRecursive walks root and adds every directory that is not ignored.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.filter.ShouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
