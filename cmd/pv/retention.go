package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/promptvault/internal/retention"
)

var pruneCmd = &cobra.Command{
	Use:     "prune [id|name]",
	GroupID: "history",
	Short:   "Delete old versions by the retention policy",
	Long: `Delete versions the retention policy marks for deletion.

Without --yes the candidates are listed and you are asked to confirm.
--dry-run only lists them. Version 1, each branch HEAD and (by default)
tagged versions are never deleted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		yes, _ := cmd.Flags().GetBool("yes")

		if len(args) == 1 && !dryRun && yes {
			id, err := resolveID(cmd, a, args[0])
			if err != nil {
				return err
			}
			n, err := a.retention.CleanupVersions(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s Deleted %d versions\n", renderPass("✓"), n)
			return nil
		}

		preview, err := a.retention.PreviewCleanup(ctx)
		if err != nil {
			return err
		}
		candidates := preview.Candidates
		var only string
		if len(args) == 1 {
			if only, err = resolveID(cmd, a, args[0]); err != nil {
				return err
			}
			candidates = filterCandidates(candidates, only)
		}

		if len(candidates) == 0 {
			fmt.Println(renderMuted("Nothing to prune"))
			return nil
		}
		for _, c := range candidates {
			fmt.Printf("  %s %s@%s v%d  %s\n", renderFail("-"), c.RecordID, c.Branch, c.Version, renderMuted(c.Reason))
		}
		fmt.Printf("%d versions would be deleted\n", len(candidates))
		if dryRun {
			return nil
		}

		if !yes {
			fmt.Print("Delete them? [y/N] ")
			answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if ans := strings.ToLower(strings.TrimSpace(answer)); ans != "y" && ans != "yes" {
				fmt.Println(renderMuted("Aborted"))
				return nil
			}
		}

		if only != "" {
			n, err := a.retention.CleanupVersions(ctx, only)
			if err != nil {
				return err
			}
			fmt.Printf("%s Deleted %d versions\n", renderPass("✓"), n)
			return nil
		}
		res, err := a.retention.CleanupAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s Deleted %d versions across %d prompts\n", renderPass("✓"), res.Deleted, res.RecordsAffected)
		return nil
	}),
}

var retentionCmd = &cobra.Command{
	Use:     "retention",
	GroupID: "history",
	Short:   "Show or change the retention policy",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		cfg, err := a.retention.GetConfig(cmd.Context())
		if err != nil {
			return err
		}
		printPolicy(cfg)
		return nil
	}),
}

var retentionSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the retention policy",
	Long: `Change the retention policy stored in the catalog. Only the flags given
are changed; the stored policy overrides the retention defaults in
config.yaml.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		cfg, err := a.retention.GetConfig(ctx)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("max-versions") {
			cfg.MaxVersionsPerPrompt, _ = flags.GetInt("max-versions")
		}
		if flags.Changed("days") {
			cfg.RetentionDays, _ = flags.GetInt("days")
		}
		if flags.Changed("strategy") {
			s, _ := flags.GetString("strategy")
			cfg.Strategy = retention.Strategy(strings.ToLower(s))
		}
		if flags.Changed("preserve-tagged") {
			cfg.PreserveTaggedVersions, _ = flags.GetBool("preserve-tagged")
		}

		if err := a.retention.SetConfig(ctx, cfg); err != nil {
			return err
		}
		fmt.Printf("%s Retention policy updated\n", renderPass("✓"))
		printPolicy(cfg)
		return nil
	}),
}

var retentionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored policy and use the defaults",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.retention.ResetConfig(cmd.Context()); err != nil {
			return err
		}
		cfg, err := a.retention.GetConfig(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s Retention policy reset\n", renderPass("✓"))
		printPolicy(cfg)
		return nil
	}),
}

func printPolicy(cfg retention.Config) {
	fmt.Printf("Strategy:        %s\n", renderAccent(string(cfg.Strategy)))
	fmt.Printf("Max versions:    %d per branch\n", cfg.MaxVersionsPerPrompt)
	fmt.Printf("Retention days:  %d\n", cfg.RetentionDays)
	fmt.Printf("Preserve tagged: %t\n", cfg.PreserveTaggedVersions)
}

func filterCandidates(cs []retention.Candidate, recordID string) []retention.Candidate {
	var out []retention.Candidate
	for _, c := range cs {
		if c.RecordID == recordID {
			out = append(out, c)
		}
	}
	return out
}

func init() {
	pruneCmd.Flags().Bool("id", false, "treat the argument as a raw record id")
	pruneCmd.Flags().Bool("dry-run", false, "only list what would be deleted")
	pruneCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	retentionSetCmd.Flags().Int("max-versions", 0, "versions kept per branch by the count rule")
	retentionSetCmd.Flags().Int("days", 0, "age in days after which the days rule deletes versions")
	retentionSetCmd.Flags().String("strategy", "", "count, days or both")
	retentionSetCmd.Flags().Bool("preserve-tagged", true, "never delete tagged versions")

	retentionCmd.AddCommand(retentionSetCmd, retentionResetCmd)
	rootCmd.AddCommand(pruneCmd, retentionCmd)
}
