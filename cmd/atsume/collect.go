package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/atsume/internal/cli"
	"github.com/hyperjump/atsume/internal/fetch"
	"github.com/hyperjump/atsume/internal/pipeline"
)

func newCollectCmd(g *globalFlags) *cobra.Command {
	var (
		sources     []string
		all         bool
		modelID     string
		endpoint    string
		params      map[string]string
		maxPages    int
		fresh       bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch prompts from the upstream source and store them",
		Long: `Fetch pages from the configured upstream, extract prompt records, tag them and
store them. Runs resume from the last saved cursor unless --fresh is given.

Examples:
  atsume collect --model-id 12345 --max-pages 10
  atsume collect --source civitai-sdxl
  atsume collect --all --concurrency 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				reqs, err := collectRequests(a, sources, all, pipeline.CollectRequest{
					ModelID:  modelID,
					Endpoint: endpoint,
					Params:   params,
					MaxPages: maxPages,
				})
				if err != nil {
					return err
				}
				for i := range reqs {
					reqs[i].Fresh = fresh
					if maxPages > 0 {
						reqs[i].MaxPages = maxPages
					}
				}
				reports, runErr := a.pipeline.CollectAll(ctx, reqs, concurrency)
				if err := cli.WriteRunReports(cmd.OutOrStdout(), reports, a.format); err != nil {
					return err
				}
				if errors.Is(runErr, fetch.ErrUnauthorized) {
					return fmt.Errorf("%w: set the %s environment variable to a valid token", runErr, a.cfg.Fetch.TokenEnv)
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "named source from the config (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "collect every configured source")
	cmd.Flags().StringVar(&modelID, "model-id", "", "model id to collect for and stamp on records")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "endpoint path or URL (default from config)")
	cmd.Flags().StringToStringVar(&params, "param", nil, "extra query parameters, key=value")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum pages per run (default from config)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore saved cursors and start from the first page")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "sources collected at once")
	return cmd
}

// collectRequests expands the flags into one request per source. With no source
// selected it returns the ad-hoc request built from the flags.
func collectRequests(a *app, names []string, all bool, adhoc pipeline.CollectRequest) ([]pipeline.CollectRequest, error) {
	if all {
		if len(a.cfg.Sources) == 0 {
			return nil, fmt.Errorf("no sources configured")
		}
		reqs := make([]pipeline.CollectRequest, 0, len(a.cfg.Sources))
		for _, s := range a.cfg.Sources {
			reqs = append(reqs, pipeline.RequestFromSource(s))
		}
		return reqs, nil
	}
	if len(names) == 0 {
		return []pipeline.CollectRequest{adhoc}, nil
	}
	reqs := make([]pipeline.CollectRequest, 0, len(names))
	for _, name := range names {
		src, ok := a.cfg.Source(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		reqs = append(reqs, pipeline.RequestFromSource(src))
	}
	return reqs, nil
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var modelID string
	cmd := &cobra.Command{
		Use:   "import <path>...",
		Short: "Import saved page captures (.json, .jsonl, .html)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				var (
					reports []*pipeline.RunReport
					errs    []error
				)
				for _, path := range args {
					rep, err := a.pipeline.Import(ctx, path, modelID)
					if rep != nil {
						reports = append(reports, rep)
					}
					if err != nil {
						errs = append(errs, err)
					}
				}
				if err := cli.WriteRunReports(cmd.OutOrStdout(), reports, a.format); err != nil {
					return err
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().StringVar(&modelID, "model-id", "", "model id for records that carry none")
	return cmd
}
