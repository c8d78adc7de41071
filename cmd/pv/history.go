package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/promptvault/internal/version"
)

var versionsCmd = &cobra.Command{
	Use:     "versions <id|name>",
	GroupID: "history",
	Short:   "List the versions of a prompt",
	Long: `List the versions of a prompt, newest first.

--since accepts a date, an age such as 30d, or a phrase such as "last week".
--branches lists the branches instead.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		id, err := resolveID(cmd, a, args[0])
		if err != nil {
			return err
		}
		branch, _ := cmd.Flags().GetString("branch")

		if listBranches, _ := cmd.Flags().GetBool("branches"); listBranches {
			branches, err := a.versions.ListBranches(ctx, id)
			if err != nil {
				return err
			}
			for _, b := range branches {
				from := ""
				if b.FromBranch != "" && b.FromVersion != nil {
					from = renderMuted(fmt.Sprintf("from %s@%d", b.FromBranch, *b.FromVersion))
				}
				fmt.Printf("%-20s head v%-4d %3d versions  %s\n", renderAccent(b.Name), b.Head, b.Count, from)
			}
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		sinceFlag, _ := cmd.Flags().GetString("since")
		since, err := parseSince(sinceFlag, time.Now())
		if err != nil {
			return err
		}

		versions, err := a.versions.ListVersions(ctx, id, version.ListOptions{
			Branch: branch,
			Limit:  limit,
			Since:  since,
		})
		if err != nil {
			return err
		}
		tags, err := a.retention.ListVersionTags(ctx, id)
		if err != nil {
			return err
		}
		tagged := make(map[int]string, len(tags))
		for _, t := range tags {
			tagged[t.Version] = t.Tag
		}

		if len(versions) == 0 {
			fmt.Println(renderMuted("No versions"))
			return nil
		}
		for _, v := range versions {
			label := ""
			if t, ok := tagged[v.Version]; ok {
				label = renderAccent("[" + t + "]")
			}
			fmt.Printf("v%-4d %-16s %s %s\n", v.Version, renderMuted(ago(v.CreatedAt)), v.ChangeReason, label)
		}
		return nil
	}),
}

var diffCmd = &cobra.Command{
	Use:     "diff <id|name> <from> [to]",
	GroupID: "history",
	Short:   "Compare two versions",
	Long:    `Compare two versions of a prompt line by line. [to] defaults to the branch HEAD.`,
	Args:    cobra.RangeArgs(2, 3),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		id, err := resolveID(cmd, a, args[0])
		if err != nil {
			return err
		}
		branch, _ := cmd.Flags().GetString("branch")

		from, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		var to int
		if len(args) == 3 {
			if to, err = parseVersion(args[2]); err != nil {
				return err
			}
		} else {
			head, err := a.versions.GetHead(ctx, id, branch)
			if err != nil {
				return err
			}
			to = head.Version
		}

		d, err := a.versions.Diff(ctx, id, from, to, branch)
		if err != nil {
			return err
		}
		if !d.Changed() {
			fmt.Println(renderMuted("No changes"))
			return nil
		}
		fmt.Println(renderDiff(d))
		return nil
	}),
}

var rollbackCmd = &cobra.Command{
	Use:     "rollback <id|name> <version>",
	GroupID: "history",
	Short:   "Restore an earlier version",
	Long: `Restore a prompt to an earlier version.

By default the restored content is recorded as a new version ("Rollback to
version N"). --no-backup returns to the version without recording one. On
the main branch the prompt file is rewritten with the restored content.`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		id, err := resolveID(cmd, a, args[0])
		if err != nil {
			return err
		}
		target, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		branch, _ := cmd.Flags().GetString("branch")
		noBackup, _ := cmd.Flags().GetBool("no-backup")

		v, err := a.svc.Rollback(cmd.Context(), id, target, version.RollbackOptions{
			Branch:       branch,
			CreateBackup: !noBackup,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Rolled back to version %d (now v%d on %s)\n", renderPass("✓"), target, v.Version, v.Branch)
		return nil
	}),
}

var branchCmd = &cobra.Command{
	Use:     "branch <id|name> <new-branch>",
	GroupID: "history",
	Short:   "Start a branch of a prompt's history",
	Args:    cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		id, err := resolveID(cmd, a, args[0])
		if err != nil {
			return err
		}
		from, _ := cmd.Flags().GetString("from")
		at, _ := cmd.Flags().GetInt("at")

		v, err := a.versions.CreateBranch(cmd.Context(), id, args[1], from, at)
		if err != nil {
			return err
		}
		fmt.Printf("%s Created branch %s (%s)\n", renderPass("✓"), renderAccent(v.Branch), v.ChangeReason)
		return nil
	}),
}

var tagCmd = &cobra.Command{
	Use:     "tag <id|name> <version> <tag>",
	GroupID: "history",
	Short:   "Tag a version",
	Long: `Tag a version. Tagged versions are never pruned while
retention.preserve_tagged_versions is on. A version carries at most one tag;
tagging again replaces it.`,
	Args: cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		id, err := resolveID(cmd, a, args[0])
		if err != nil {
			return err
		}
		v, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		if err := a.retention.TagVersion(cmd.Context(), id, v, args[2]); err != nil {
			return err
		}
		fmt.Printf("%s Tagged v%d as %s\n", renderPass("✓"), v, renderAccent(args[2]))
		return nil
	}),
}

var untagCmd = &cobra.Command{
	Use:     "untag <id|name> <version>",
	GroupID: "history",
	Short:   "Remove a version's tag",
	Args:    cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		id, err := resolveID(cmd, a, args[0])
		if err != nil {
			return err
		}
		v, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		if err := a.retention.UntagVersion(cmd.Context(), id, v); err != nil {
			return err
		}
		fmt.Printf("%s Untagged v%d\n", renderPass("✓"), v)
		return nil
	}),
}

// resolveID finds the record id for key. With --id the key is taken as is,
// which also reaches the history of hard-deleted records.
func resolveID(cmd *cobra.Command, a *app, key string) (string, error) {
	if raw, _ := cmd.Flags().GetBool("id"); raw {
		return key, nil
	}
	rec, err := a.svc.Resolve(cmd.Context(), key)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func parseVersion(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return n, nil
}

func init() {
	for _, c := range []*cobra.Command{versionsCmd, diffCmd, rollbackCmd, branchCmd, tagCmd, untagCmd} {
		c.Flags().Bool("id", false, "treat the first argument as a raw record id")
	}
	for _, c := range []*cobra.Command{versionsCmd, diffCmd, rollbackCmd} {
		c.Flags().StringP("branch", "b", version.MainBranch, "branch")
	}

	versionsCmd.Flags().IntP("limit", "n", 0, "maximum number of versions")
	versionsCmd.Flags().String("since", "", "only versions created after this time")
	versionsCmd.Flags().Bool("branches", false, "list branches instead of versions")

	rollbackCmd.Flags().Bool("no-backup", false, "do not record the rollback as a new version")

	branchCmd.Flags().String("from", version.MainBranch, "branch to start from")
	branchCmd.Flags().Int("at", 0, "version to start from (default HEAD)")

	rootCmd.AddCommand(versionsCmd, diffCmd, rollbackCmd, branchCmd, tagCmd, untagCmd)
}
