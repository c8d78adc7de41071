package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/config"
	"github.com/mschirtzinger/promptvault/internal/record"
	"github.com/mschirtzinger/promptvault/internal/retention"
	"github.com/mschirtzinger/promptvault/internal/search"
	"github.com/mschirtzinger/promptvault/internal/storage"
	pvsync "github.com/mschirtzinger/promptvault/internal/sync"
	"github.com/mschirtzinger/promptvault/internal/version"
)

// app holds the opened vault for one command.
type app struct {
	cfg       *config.Config
	logOut    io.Writer
	catalog   *catalog.Catalog
	store     *record.Store
	syncer    pvsync.Syncer
	versions  *version.Store
	retention *retention.Engine
	svc       *storage.Service

	closers []io.Closer
}

// openApp loads the configuration, opens and migrates the catalog and wires
// the components. Component logs go to the log file when one is configured
// and to stderr only with --verbose.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(dataDirFlag)
	if err != nil {
		return nil, err
	}

	stderr := io.Discard
	if verboseFlag {
		stderr = os.Stderr
	}
	out, logCloser := config.NewLogOutput(cfg.Log, stderr)
	a := &app{cfg: cfg, logOut: out, closers: []io.Closer{logCloser}}

	c, err := catalog.Open(cfg.CatalogPath, a.logger("catalog"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, c)
	if err := c.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}

	index := search.New(c)
	a.catalog = c
	a.store = record.NewStore(cfg.PromptsDir(), cfg.ArchiveDir(), a.logger("record"))
	a.syncer = pvsync.New(a.store, c, index, a.logger("sync"))
	a.versions = version.New(c)
	a.retention = retention.New(c,
		retention.WithDefaults(cfg.Retention),
		retention.WithLogger(a.logger("retention")),
	)
	a.svc = storage.New(a.store, c, a.syncer, index, a.versions, a.logger("storage"))
	return a, nil
}

func (a *app) logger(component string) *log.Logger {
	return config.NewLogger(a.logOut, component)
}

// Close releases the catalog and the log file.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// withApp adapts a command body that needs the vault into a cobra RunE.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}
