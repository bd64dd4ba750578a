package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/fetch"
)

// CollectRequest describes one collect run against the configured fetcher.
type CollectRequest struct {
	// Source names the run for logs and its checkpoint file.
	Source string
	// ModelID is stamped on records that do not carry their own, and sent as the
	// secondary id parameter when the params do not set it.
	ModelID  string
	Endpoint string
	Params   map[string]string
	MaxPages int
	// Fresh ignores any saved checkpoint and starts from the first page.
	Fresh bool
}

// RequestFromSource builds a CollectRequest from a configured source.
func RequestFromSource(src config.SourceConfig) CollectRequest {
	params := make(map[string]string, len(src.Params))
	for k, v := range src.Params {
		params[k] = v
	}
	return CollectRequest{Source: src.Name, ModelID: src.ModelID, Endpoint: src.Endpoint, Params: params}
}

// Collect runs one fetch and persists every page as it arrives, so a run that is
// canceled or fails part way keeps what it already fetched.
func (p *Pipeline) Collect(ctx context.Context, req CollectRequest) (*RunReport, error) {
	if p.fetcher == nil {
		return nil, fmt.Errorf("no fetcher for mode %q", p.cfg.Fetch.Mode)
	}
	source := req.Source
	if source == "" {
		source = "default"
		if req.ModelID != "" {
			source = "model-" + req.ModelID
		}
	}
	params := make(map[string]string, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	if key := p.cfg.Fetch.SecondaryIDParam; req.ModelID != "" && key != "" {
		if _, ok := params[key]; !ok {
			params[key] = req.ModelID
		}
	}

	state := &fetch.State{}
	if !req.Fresh {
		st, err := p.checkpoint.Load(source)
		if err != nil {
			p.logger.Warn("ignoring unreadable checkpoint", zap.String("source", source), zap.Error(err))
		} else {
			state = st
		}
	}

	rep := &RunReport{RunID: p.runID(), Source: source}
	log := p.logger.With(zap.String("run_id", rep.RunID), zap.String("source", source))
	log.Info("collect started", zap.String("model_id", req.ModelID), zap.Int("resume_page", state.Page))
	start := time.Now()

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = p.cfg.Fetch.MaxPages
	}
	res, err := p.fetcher.Fetch(ctx, fetch.Request{
		Endpoint:       req.Endpoint,
		Params:         params,
		MaxPages:       maxPages,
		InterPageDelay: p.cfg.Fetch.InterPageDelay,
		State:          state,
		OnPage: func(ctx context.Context, page fetch.Page) error {
			if err := p.ingest(ctx, page.Items, req.ModelID, rep); err != nil {
				return err
			}
			log.Debug("page stored", zap.Int("page", page.Number), zap.String("via", page.Via), zap.Int("stored", rep.Stored))
			if err := p.checkpoint.Save(source, &page.State); err != nil {
				log.Warn("checkpoint save failed", zap.Error(err))
			}
			return nil
		},
	})
	rep.Duration = time.Since(start)
	if res != nil {
		rep.Pages = res.Pages
		rep.Stop = res.Stop
		if err := p.checkpoint.Save(source, res.State); err != nil {
			log.Warn("checkpoint save failed", zap.Error(err))
		}
	}
	if err != nil {
		rep.Err = err
		log.Error("collect failed", zap.Error(err), zap.Int("stored", rep.Stored))
		return rep, err
	}
	log.Info("collect finished",
		zap.String("stop", string(rep.Stop)),
		zap.Int("pages", rep.Pages),
		zap.Int("extracted", rep.Extracted),
		zap.Int("new", rep.New),
		zap.Int("stored", rep.Stored),
		zap.Duration("duration", rep.Duration))
	return rep, nil
}

// CollectAll runs independent collect requests concurrently, at most concurrency at a
// time (all at once when concurrency <= 0). Each run owns its fetch state. A failing run
// does not stop the others; the reports keep request order and the returned error
// joins every run's failure.
func (p *Pipeline) CollectAll(ctx context.Context, reqs []CollectRequest, concurrency int) ([]*RunReport, error) {
	reports := make([]*RunReport, len(reqs))
	errs := make([]error, len(reqs))
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, req := range reqs {
		g.Go(func() error {
			rep, err := p.Collect(ctx, req)
			reports[i] = rep
			if err != nil {
				errs[i] = fmt.Errorf("source %s: %w", req.Source, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// Import replays capture files at path (a file or a directory) through the same
// extraction and persistence as Collect.
func (p *Pipeline) Import(ctx context.Context, path, modelID string) (*RunReport, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	rep := &RunReport{RunID: p.runID(), Source: abs}
	log := p.logger.With(zap.String("run_id", rep.RunID), zap.String("path", abs))
	start := time.Now()

	capture := fetch.NewCaptureFetcher(filepath.Dir(abs), p.extractor, fetch.WithLogger(p.logger))
	res, err := capture.Fetch(ctx, fetch.Request{
		Endpoint: abs,
		OnPage: func(ctx context.Context, page fetch.Page) error {
			return p.ingest(ctx, page.Items, modelID, rep)
		},
	})
	rep.Duration = time.Since(start)
	if res != nil {
		rep.Pages, rep.Stop = res.Pages, res.Stop
	}
	if err != nil {
		rep.Err = err
		return rep, fmt.Errorf("import %s: %w", path, err)
	}
	log.Info("import finished", zap.Int("pages", rep.Pages), zap.Int("stored", rep.Stored), zap.Int("new", rep.New))
	return rep, nil
}
