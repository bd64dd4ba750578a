package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/atsume/internal/cli"
	"github.com/hyperjump/atsume/internal/pipeline"
)

func newRecategorizeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recategorize",
		Short: "Recompute keyword categories for every stored prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				n, err := a.pipeline.Recategorize(ctx)
				if err != nil {
					return err
				}
				if a.format == cli.OutputJSON {
					return cli.WriteJSON(cmd.OutOrStdout(), map[string]int{"changed": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recategorized %d records\n", n)
				return nil
			})
		},
	}
}

func newClusterCmd(g *globalFlags) *cobra.Command {
	var req pipeline.ClusterRequest
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Group stored prompts by embedding similarity",
		Long: `Embed stored prompts, project them and cluster the result. With --save the
cluster labels are written into each record's categories as cluster:<n>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{embedder: true}, func(ctx context.Context, a *app) error {
				rep, err := a.pipeline.Cluster(ctx, req)
				if err != nil {
					return err
				}
				return cli.WriteClusterReport(cmd.OutOrStdout(), rep, a.format)
			})
		},
	}
	cmd.Flags().StringVar(&req.ModelID, "model-id", "", "only cluster prompts of this model")
	cmd.Flags().IntVar(&req.Limit, "limit", 2000, "maximum prompts in the batch (0 = all)")
	cmd.Flags().IntVar(&req.MinClusterSize, "min-cluster-size", 0, "smallest cluster kept (default from config)")
	cmd.Flags().BoolVar(&req.Save, "save", false, "write cluster labels into categories")
	return cmd
}

func newReindexCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the full-text prompt index from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				n, err := a.pipeline.Reindex(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d records\n", n)
				return nil
			})
		},
	}
}
