package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/promptvault/internal/search"
	"github.com/mschirtzinger/promptvault/internal/storage"
)

var addCmd = &cobra.Command{
	Use:     "add <name>",
	GroupID: "records",
	Short:   "Create a prompt",
	Long: `Create a prompt named <name>.

The body comes from --content, from --file, or from stdin when neither is
given. Version 1 is recorded with the reason "Initial version".`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		content, err := readBody(cmd)
		if err != nil {
			return err
		}
		tags, _ := cmd.Flags().GetStringSlice("tags")
		template, _ := cmd.Flags().GetBool("template")

		rec, err := a.svc.Create(cmd.Context(), storage.CreateInput{
			Name:       args[0],
			Content:    content,
			Tags:       tags,
			IsTemplate: template,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Created %s %s\n", renderPass("✓"), renderAccent(rec.Name), renderMuted(rec.ID))
		return nil
	}),
}

var showCmd = &cobra.Command{
	Use:     "show <id|name>",
	GroupID: "records",
	Short:   "Show a prompt",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		rec, err := a.svc.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			fmt.Print(rec.Content)
			return nil
		}

		fmt.Printf("%s %s\n", renderAccent(rec.Name), renderMuted(rec.ID))
		fmt.Printf("Version: %d   Updated: %s\n", rec.Version, ago(rec.Updated))
		if len(rec.Tags) > 0 {
			fmt.Printf("Tags: %s\n", strings.Join(rec.Tags, ", "))
		}
		if rec.Archived {
			fmt.Printf("%s archived\n", renderWarn("⚠"))
		}
		fmt.Println(renderBox(rec.Content))
		return nil
	}),
}

var editCmd = &cobra.Command{
	Use:     "edit <id|name>",
	GroupID: "records",
	Short:   "Update a prompt",
	Long: `Update a prompt's body or metadata.

Only the flags given are changed. A new body comes from --content, --file,
or stdin with --stdin. Every edit records a new version.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		rec, err := a.svc.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		var in storage.UpdateInput
		flags := cmd.Flags()
		if flags.Changed("content") || flags.Changed("file") || flags.Changed("stdin") {
			body, err := readBody(cmd)
			if err != nil {
				return err
			}
			in.Content = &body
		}
		if flags.Changed("name") {
			name, _ := flags.GetString("name")
			in.Name = &name
		}
		if flags.Changed("tags") {
			tags, _ := flags.GetStringSlice("tags")
			in.Tags = &tags
		}
		if flags.Changed("template") {
			v, _ := flags.GetBool("template")
			in.IsTemplate = &v
		}
		if flags.Changed("favorite") {
			v, _ := flags.GetBool("favorite")
			in.IsFavorite = &v
		}
		if flags.Changed("pin") {
			v, _ := flags.GetBool("pin")
			in.IsPinned = &v
		}
		in.Reason, _ = flags.GetString("reason")

		updated, err := a.svc.Update(cmd.Context(), rec.ID, in)
		if err != nil {
			return err
		}
		fmt.Printf("%s Updated %s to version %d\n", renderPass("✓"), renderAccent(updated.Name), updated.Version)
		return nil
	}),
}

var rmCmd = &cobra.Command{
	Use:     "rm <id|name>",
	GroupID: "records",
	Short:   "Archive or delete a prompt",
	Long: `Archive a prompt, or delete it with --hard.

Archived prompts move to the archive directory and drop out of listings and
search. --restore brings one back. A hard delete removes the file and the
catalog entry; the version history is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		rec, err := a.svc.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if restore, _ := cmd.Flags().GetBool("restore"); restore {
			if _, err := a.svc.Restore(cmd.Context(), rec.ID); err != nil {
				return err
			}
			fmt.Printf("%s Restored %s\n", renderPass("✓"), renderAccent(rec.Name))
			return nil
		}

		hard, _ := cmd.Flags().GetBool("hard")
		if err := a.svc.Delete(cmd.Context(), rec.ID, hard); err != nil {
			return err
		}
		verb := "Archived"
		if hard {
			verb = "Deleted"
		}
		fmt.Printf("%s %s %s\n", renderPass("✓"), verb, renderAccent(rec.Name))
		return nil
	}),
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	GroupID: "records",
	Short:   "List prompts",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		tags, _ := cmd.Flags().GetStringSlice("tags")
		all, _ := cmd.Flags().GetBool("all")
		templates, _ := cmd.Flags().GetBool("templates")
		limit, _ := cmd.Flags().GetInt("limit")

		var recs []*storage.Record
		var err error
		if len(tags) > 0 {
			recs, err = a.svc.FindByTags(cmd.Context(), tags)
		} else {
			recs, err = a.svc.List(cmd.Context(), storage.ListOptions{
				IncludeArchived: all,
				TemplatesOnly:   templates,
				Limit:           limit,
			})
		}
		if err != nil {
			return err
		}

		if len(recs) == 0 {
			fmt.Println(renderMuted("No prompts"))
			return nil
		}
		for _, r := range recs {
			marker := " "
			switch {
			case r.Archived:
				marker = renderWarn("a")
			case r.IsPinned:
				marker = renderAccent("*")
			}
			fmt.Printf("%s %-32s v%-3d %-16s %s\n", marker, r.Name, r.Version,
				renderMuted(ago(r.Updated)), strings.Join(r.Tags, ","))
		}
		return nil
	}),
}

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	GroupID: "records",
	Short:   "Full-text search",
	Long: `Search prompt names, bodies and tags.

Words are matched as prefixes ("summ" finds "summarize"); "quoted text" is
matched as a phrase. Results are ranked best match first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		tags, _ := cmd.Flags().GetStringSlice("tags")
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = a.cfg.SearchDefaultLimit
		}

		hits, err := a.svc.Search(cmd.Context(), strings.Join(args, " "), search.SearchOptions{
			Limit: limit,
			Tags:  tags,
		})
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println(renderMuted("No matches"))
			return nil
		}
		for _, h := range hits {
			fmt.Printf("%s %s\n", renderAccent(h.Name), renderMuted(h.ID))
			if h.Snippet != "" {
				fmt.Printf("   %s\n", strings.ReplaceAll(h.Snippet, "\n", " "))
			}
		}
		return nil
	}),
}

// readBody returns the body from --content, --file or stdin.
func readBody(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("content") {
		return cmd.Flags().GetString("content")
	}
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func addBodyFlags(cmd *cobra.Command) {
	cmd.Flags().String("content", "", "prompt body")
	cmd.Flags().StringP("file", "f", "", "read the body from a file")
}

func init() {
	addBodyFlags(addCmd)
	addCmd.Flags().StringSliceP("tags", "t", nil, "comma-separated tags")
	addCmd.Flags().Bool("template", false, "mark as a template")

	showCmd.Flags().Bool("raw", false, "print only the body")

	addBodyFlags(editCmd)
	editCmd.Flags().Bool("stdin", false, "read the new body from stdin")
	editCmd.Flags().String("name", "", "rename")
	editCmd.Flags().StringSliceP("tags", "t", nil, "replace tags")
	editCmd.Flags().Bool("template", false, "mark as a template")
	editCmd.Flags().Bool("favorite", false, "mark as a favorite")
	editCmd.Flags().Bool("pin", false, "pin to the top of listings")
	editCmd.Flags().StringP("reason", "m", "", "change reason recorded on the version")

	rmCmd.Flags().Bool("hard", false, "delete the file and catalog entry instead of archiving")
	rmCmd.Flags().Bool("restore", false, "restore an archived prompt")

	lsCmd.Flags().StringSliceP("tags", "t", nil, "only prompts carrying every tag")
	lsCmd.Flags().BoolP("all", "a", false, "include archived prompts")
	lsCmd.Flags().Bool("templates", false, "only templates")
	lsCmd.Flags().IntP("limit", "n", 0, "maximum number of prompts")

	searchCmd.Flags().StringSliceP("tags", "t", nil, "only prompts carrying every tag")
	searchCmd.Flags().IntP("limit", "n", 0, "maximum number of results (default from config)")

	rootCmd.AddCommand(addCmd, showCmd, editCmd, rmCmd, lsCmd, searchCmd)
}
