// Command pv manages a promptvault: a directory of prompt files with a
// searchable, versioned catalog.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

var (
	dataDirFlag string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "pv",
	Short: "promptvault: versioned prompt storage",
	Long: `pv stores prompts as plain files and keeps a SQLite catalog of them
for search, tags and version history.

The files are the source of truth. Edit them directly and run 'pv sync',
or keep 'pv watch' running to pick up edits as they happen.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default $PROMPTVAULT_DATA_DIR or ~/.promptvault)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log catalog activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "history", Title: "History:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to process exit codes.
func exitCode(err error) int {
	var verr *vaulterr.Error
	if !errors.As(err, &verr) {
		return 1
	}
	switch verr.Kind {
	case vaulterr.KindRecordNotFound, vaulterr.KindVersionNotFound:
		return 3
	case vaulterr.KindValidation, vaulterr.KindDuplicateName:
		return 2
	default:
		return 1
	}
}
