package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/pipeline"
	"github.com/hyperjump/atsume/internal/promptindex"
	"github.com/hyperjump/atsume/internal/server"
	"github.com/hyperjump/atsume/internal/watcher"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API (and optionally watch drop directories)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				if host != "" {
					a.cfg.Server.Host = host
				}
				if port > 0 {
					a.cfg.Server.Port = port
				}
				if watch {
					w, err := startWatcher(ctx, a, nil)
					if err != nil {
						return err
					}
					defer w.Stop()
				}

				var index promptindex.Index
				if a.index != nil {
					index = a.index
				}
				srv := server.NewServer(a.store, index, a.cfg, a.logger)
				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Stop(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "also import captures dropped into watch.directories")
	return cmd
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var dirs []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Import capture files as they are dropped into watched directories",
		Long: `Watch drop directories and import every capture file that appears. A file in a
direct subdirectory is attributed to the model named by that subdirectory, e.g.
<dir>/12345/page.json. Files already present are imported on start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, appOptions{}, func(ctx context.Context, a *app) error {
				if len(dirs) > 0 {
					a.cfg.Watch.Directories = dirs
				}
				out := cmd.OutOrStdout()
				w, err := startWatcher(ctx, a, func(path string, rep *pipeline.RunReport, err error) {
					if err != nil {
						fmt.Fprintf(out, "%s: %v\n", path, err)
						return
					}
					fmt.Fprintf(out, "%s: %d stored, %d new\n", path, rep.Stored, rep.New)
				})
				if err != nil {
					return err
				}
				defer w.Stop()
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "directory to watch (repeatable; default from config)")
	return cmd
}

// startWatcher watches the configured drop directories and imports existing captures.
func startWatcher(ctx context.Context, a *app, onImport func(string, *pipeline.RunReport, error)) (*watcher.Watcher, error) {
	dirs := a.cfg.Watch.Directories
	if len(dirs) == 0 {
		if a.cfg.Fetch.CaptureDir == "" {
			return nil, fmt.Errorf("no watch directories configured")
		}
		dirs = []string{a.cfg.Fetch.CaptureDir}
	}
	opts := []watcher.Option{watcher.WithLogger(a.logger)}
	if onImport != nil {
		opts = append(opts, watcher.OnImport(onImport))
	}
	w := watcher.New(dirs, a.cfg.Watch.Extensions, a.pipeline, opts...)
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	a.logger.Info("watching", zap.Strings("directories", w.Directories()))
	w.SyncExisting()
	return w, nil
}
