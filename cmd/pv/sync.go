package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/promptvault/internal/daemon"
)

var syncCmd = &cobra.Command{
	Use:     "sync [file...]",
	GroupID: "sync",
	Short:   "Rebuild the catalog from the prompt files",
	Long: `Sync prompt files into the catalog.

With no arguments every file in the prompts directory is synced, catalog
entries whose file is gone are pruned and unused tags are dropped. With
arguments only those files are synced.`,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		if len(args) > 0 {
			for _, path := range args {
				res, err := a.syncer.SyncFile(ctx, path)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s: %s\n", renderPass("✓"), res.Name, res.Action)
			}
			return nil
		}

		fmt.Printf("%s Syncing %s...\n", renderAccent("⟳"), a.store.Dir())
		start := time.Now()
		stats, err := a.syncer.FullSync(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s Sync complete in %v\n", renderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Records: %d (%d inserted, %d updated, %d unchanged)\n",
			stats.Synced, stats.Inserted, stats.Updated, stats.Unchanged)
		if stats.Pruned > 0 || stats.OrphanTags > 0 {
			fmt.Printf("   Pruned: %d records, %d tags\n", stats.Pruned, stats.OrphanTags)
		}
		if stats.Failed > 0 {
			fmt.Printf("   %s %d files failed (see log)\n", renderWarn("⚠"), stats.Failed)
		}
		return nil
	}),
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Sync edits as they happen (foreground)",
	Long: `Watch the prompts directory and sync edits made outside pv.

The watcher runs a full sync on start, then syncs each changed file once its
debounce window (watch.debounce) passes without further changes. Deletes and
renames trigger a full sync. A periodic full sync (watch.resync) catches
anything the notifications missed. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		cfg := &daemon.Config{
			Debounce: a.cfg.Watch.Debounce,
			Ignore:   a.cfg.Watch.Ignore,
			Logger:   a.logger("watch"),
		}
		if d, _ := cmd.Flags().GetDuration("debounce"); d > 0 {
			cfg.Debounce = d
		}

		d, err := daemon.NewDaemon(a.store.Dir(), a.syncer, cfg, a.cfg.Watch.Resync)
		if err != nil {
			return err
		}

		fmt.Printf("%s Watching %s (Ctrl-C to stop)\n", renderAccent("👁"), a.store.Dir())
		if err := d.Run(cmd.Context()); err != nil {
			return err
		}

		s := d.Watcher().Stats()
		fmt.Printf("%s Stopped: %d synced, %d full syncs, %d superseded, %d errors\n",
			renderPass("✓"), s.Synced, s.FullSyncs, s.Superseded, s.Errors)
		return nil
	}),
}

func init() {
	watchCmd.Flags().Duration("debounce", 0, "override watch.debounce")

	rootCmd.AddCommand(syncCmd, watchCmd)
}
