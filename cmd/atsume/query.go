package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/atsume/internal/cli"
	"github.com/hyperjump/atsume/internal/promptindex"
	"github.com/hyperjump/atsume/internal/report"
	"github.com/hyperjump/atsume/internal/storage"
)

// buildSearchQuery joins all positional args so multi-word queries work with or
// without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var opts promptindex.SearchOptions
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over stored prompts",
		Long: `Search stored prompts. Multi-word queries rank prompts containing more of the
words higher. When nothing matches, the search is retried with typo tolerance and
spelling suggestions are shown.

Examples:
  atsume search watercolor castle
  atsume search --category lighting --limit 5 sunset
  atsume search --fuzzy watercolour`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildSearchQuery(args)
			if query == "" {
				return fmt.Errorf("query is empty")
			}
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				if a.index == nil {
					return fmt.Errorf("no prompt index configured (storage.index_path)")
				}
				hits, err := a.index.Search(ctx, query, opts)
				if err != nil {
					return err
				}
				if len(hits) == 0 && !opts.Fuzzy {
					fuzzy := opts
					fuzzy.Fuzzy = true
					if retry, err := a.index.Search(ctx, query, fuzzy); err == nil {
						hits = retry
					}
				}
				var suggestions []string
				if len(hits) == 0 {
					for _, word := range strings.Fields(query) {
						s, err := a.index.Suggest(ctx, word, 3)
						if err == nil {
							suggestions = append(suggestions, s...)
						}
					}
				}
				return cli.WriteSearchHits(cmd.OutOrStdout(), query, hits, suggestions, a.format)
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of results")
	cmd.Flags().StringVar(&opts.ModelID, "model-id", "", "only prompts of this model")
	cmd.Flags().StringVar(&opts.Category, "category", "", "only prompts with this category")
	cmd.Flags().BoolVar(&opts.Fuzzy, "fuzzy", false, "typo-tolerant matching")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record counts, index size and disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				s := cli.Status{DatabasePath: a.cfg.Storage.DatabasePath, IndexPath: a.cfg.Storage.IndexPath}
				var err error
				if s.Records, err = a.store.Count(ctx); err != nil {
					return err
				}
				if s.RecordsByModel, err = a.store.CountByModel(ctx); err != nil {
					return err
				}
				if a.index != nil {
					if s.Indexed, err = a.index.DocCount(); err != nil {
						return err
					}
				}
				if bytes, err := storage.DiskUsageBytes(s.DatabasePath, s.IndexPath); err == nil {
					s.DiskUsageBytes = bytes
				}
				return cli.WriteStatus(cmd.OutOrStdout(), s, a.format)
			})
		},
	}
}

func newCategoriesCmd(g *globalFlags) *cobra.Command {
	var (
		modelID string
		percent bool
	)
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Show the category distribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				counts, err := a.store.CategoryCounts(ctx, modelID)
				if err != nil {
					return err
				}
				if len(counts) == 0 && a.format == cli.OutputText {
					fmt.Fprintln(cmd.OutOrStdout(), "No categorized records.")
					return nil
				}
				return cli.WriteCategoryCounts(cmd.OutOrStdout(), counts, percent, a.format)
			})
		},
	}
	cmd.Flags().StringVar(&modelID, "model-id", "", "only count prompts of this model")
	cmd.Flags().BoolVar(&percent, "percent", false, "show shares instead of counts")
	return cmd
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var opts report.Options
	cmd := &cobra.Command{
		Use:   "export <file.xlsx>",
		Short: "Export the category distribution as a spreadsheet with a chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				counts, err := a.store.CategoryCounts(ctx, opts.ModelID)
				if err != nil {
					return err
				}
				if err := report.WriteFile(args[0], counts, opts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d categories to %s\n", len(counts), args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ModelID, "model-id", "", "only count prompts of this model")
	cmd.Flags().BoolVar(&opts.Percent, "percent", false, "export shares instead of counts")
	return cmd
}
