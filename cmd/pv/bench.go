package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/promptvault/internal/loadtest"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "sync",
	Short:   "Measure catalog latency under concurrent load",
	Long: `Build a throwaway vault in a temporary directory, then run concurrent
searches and updates against it and report latency percentiles.

Your own vault is not touched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		prompts, _ := cmd.Flags().GetInt("prompts")
		readers, _ := cmd.Flags().GetInt("readers")
		writers, _ := cmd.Flags().GetInt("writers")
		ops, _ := cmd.Flags().GetInt("ops")

		dir, err := os.MkdirTemp("", "pv-bench-*")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		fmt.Printf("%s Creating %d prompts...\n", renderAccent("⟳"), prompts)
		start := time.Now()
		v, err := loadtest.CreateVault(ctx, dir, prompts)
		if err != nil {
			return err
		}
		defer v.Close()
		fmt.Printf("   done in %v\n", time.Since(start).Round(time.Millisecond))

		fmt.Printf("%s Running %d readers and %d writers, %d ops each...\n", renderAccent("⟳"), readers, writers, ops)
		res, err := v.Run(ctx, loadtest.Options{Readers: readers, Writers: writers, OpsPerWorker: ops})
		if err != nil {
			return err
		}

		res.Reads.Fprint(os.Stdout, "Search")
		res.Writes.Fprint(os.Stdout, "Update")
		if err := v.VerifyHistory(ctx); err != nil {
			return fmt.Errorf("history check failed: %w", err)
		}
		fmt.Printf("%s Completed in %v, history consistent\n", renderPass("✓"), res.Elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	benchCmd.Flags().Int("prompts", 200, "prompts in the generated vault")
	benchCmd.Flags().Int("readers", 16, "concurrent searchers")
	benchCmd.Flags().Int("writers", 4, "concurrent updaters")
	benchCmd.Flags().Int("ops", 50, "operations per worker")

	rootCmd.AddCommand(benchCmd)
}
