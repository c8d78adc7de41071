package daemon

import (
	"context"
	"fmt"
	"time"
)

// Daemon keeps the catalog converged while it runs: a full sync on start,
// the watcher for edits made outside the engine, and a periodic full sync
// to catch anything the notifications missed.
type Daemon struct {
	syncer  Syncer
	watcher *Watcher
	config  *Config
	// resync is the full sync period. Zero disables it.
	resync time.Duration
}

// NewDaemon creates a daemon watching dir.
func NewDaemon(dir string, syncer Syncer, config *Config, resync time.Duration) (*Daemon, error) {
	w, err := New(dir, syncer, config)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		syncer:  syncer,
		watcher: w,
		config:  w.config,
		resync:  resync,
	}, nil
}

// Watcher returns the daemon's watcher.
func (d *Daemon) Watcher() *Watcher {
	return d.watcher
}

// Run performs the initial full sync, starts watching and blocks until ctx
// is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	stats, err := d.syncer.FullSync(ctx)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	d.config.Logger.Printf("Initial sync: %d records (%d failed, %d pruned)", stats.Synced, stats.Failed, stats.Pruned)

	if err := d.watcher.Start(ctx); err != nil {
		return err
	}

	var tick <-chan time.Time
	if d.resync > 0 {
		ticker := time.NewTicker(d.resync)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Shutdown signal received")
			err := d.watcher.Stop()
			d.config.Logger.Println("Daemon stopped")
			return err

		case <-tick:
			if _, err := d.syncer.FullSync(ctx); err != nil {
				d.config.Logger.Printf("Error during periodic sync: %v", err)
			}
		}
	}
}
