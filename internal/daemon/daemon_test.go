package daemon

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"
)

func TestDaemon_InitialAndPeriodicSync(t *testing.T) {
	fake := &fakeSyncer{}
	d, err := NewDaemon(t.TempDir(), fake, &Config{
		Debounce: testDebounce,
		Logger:   log.New(io.Discard, "", 0),
	}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDaemon() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	if !waitFor(t, 2*time.Second, func() bool { _, _, n := fake.snapshot(); return n >= 3 }) {
		t.Error("expected the initial full sync plus periodic ones")
	}
	if !d.Watcher().IsRunning() {
		t.Error("watcher should be running while the daemon runs")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if d.Watcher().IsRunning() {
		t.Error("watcher should be stopped after the daemon returns")
	}
}

func TestDaemon_WatchesEdits(t *testing.T) {
	fake := &fakeSyncer{}
	dir := t.TempDir()
	d, err := NewDaemon(dir, fake, &Config{
		Debounce: testDebounce,
		Logger:   log.New(io.Discard, "", 0),
	}, 0)
	if err != nil {
		t.Fatalf("NewDaemon() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	if !waitFor(t, 2*time.Second, d.Watcher().IsRunning) {
		t.Fatal("watcher did not start")
	}

	path := filepath.Join(dir, "edited.md")
	writeFile(t, path, "body")

	if !waitFor(t, 2*time.Second, func() bool { calls, _, _ := fake.snapshot(); return len(calls) > 0 }) {
		t.Fatal("edit was not synced")
	}
	if _, _, n := fake.snapshot(); n != 1 {
		t.Errorf("FullSync called %d times, want 1 (periodic sync disabled)", n)
	}
}
