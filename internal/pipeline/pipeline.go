// Package pipeline wires fetching, extraction, tagging and persistence into the
// operations the CLI and server expose: collect, import, recategorize and cluster.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/categorize"
	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/extract"
	"github.com/hyperjump/atsume/internal/fetch"
	"github.com/hyperjump/atsume/internal/models"
	"github.com/hyperjump/atsume/internal/promptindex"
	"github.com/hyperjump/atsume/internal/storage"
)

// Pipeline owns the collaborators of one configured application instance.
type Pipeline struct {
	cfg         *config.Config
	store       storage.Store
	fetcher     fetch.Fetcher
	extractor   *extract.Extractor
	categorizer *categorize.Categorizer
	index       promptindex.Index
	checkpoint  *fetch.Checkpoint
	logger      *zap.Logger
	runID       func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithIndex keeps a full-text index in step with the store.
func WithIndex(idx promptindex.Index) Option {
	return func(p *Pipeline) { p.index = idx }
}

// WithCategorizer replaces the keyword-only categorizer built from config, typically
// with one that has an embedder for clustering.
func WithCategorizer(c *categorize.Categorizer) Option {
	return func(p *Pipeline) { p.categorizer = c }
}

// WithCheckpoint persists fetch state per source so interrupted runs resume.
func WithCheckpoint(cp *fetch.Checkpoint) Option {
	return func(p *Pipeline) { p.checkpoint = cp }
}

// WithRunID replaces the run id generator.
func WithRunID(fn func() string) Option {
	return func(p *Pipeline) { p.runID = fn }
}

// New returns a Pipeline for cfg. fetcher serves Collect; nil selects the fetcher named
// by cfg.Fetch.Mode. Import always reads files.
func New(cfg *config.Config, store storage.Store, fetcher fetch.Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		extractor: extract.NewExtractor(cfg.Extract),
		logger:    zap.NewNop(),
		runID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.categorizer == nil {
		p.categorizer = categorize.New(cfg.Categorize, categorize.WithLogger(p.logger))
	}
	if p.fetcher == nil {
		f, err := fetch.New(cfg.Fetch, p.extractor, fetch.WithLogger(p.logger))
		if err != nil {
			p.logger.Warn("no fetcher for configured mode", zap.Error(err))
		}
		p.fetcher = f
	}
	return p
}

// Extractor returns the extractor built from config.
func (p *Pipeline) Extractor() *extract.Extractor {
	return p.extractor
}

// RunReport summarizes one collect or import run.
type RunReport struct {
	RunID     string           `json:"run_id"`
	Source    string           `json:"source"`
	Pages     int              `json:"pages"`
	Items     int              `json:"items"`
	Extracted int              `json:"extracted"`
	New       int              `json:"new"`
	Stored    int              `json:"stored"`
	Skipped   int              `json:"skipped"`
	Stop      fetch.StopReason `json:"stop"`
	Duration  time.Duration    `json:"duration"`
	// Err is set when the run ended with a hard failure; counts still reflect the
	// pages persisted before it.
	Err error `json:"-"`
}

// ingest tags and persists the records of one page and returns them as stored.
func (p *Pipeline) ingest(ctx context.Context, items []interface{}, modelID string, rep *RunReport) error {
	records := p.extractor.ExtractItems(items)
	rep.Items += len(items)
	rep.Extracted += len(records)
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r.SourceModelID == "" {
			r.SourceModelID = modelID
		}
		p.categorizer.Tag(r)
		if r.Validate() != nil {
			continue
		}
		if ok, err := p.store.Exists(ctx, r.ID); err == nil && !ok {
			rep.New++
		}
	}

	res, err := p.store.UpsertBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("store page: %w", err)
	}
	rep.Stored += res.Stored
	rep.Skipped += res.Skipped
	for _, verr := range res.Errors {
		p.logger.Debug("record skipped", zap.String("run_id", rep.RunID), zap.Error(verr))
	}

	if p.index != nil {
		valid := records[:0:0]
		for _, r := range records {
			if r.Validate() == nil {
				valid = append(valid, r)
			}
		}
		if err := p.index.IndexRecords(ctx, valid); err != nil {
			// The store is the source of truth; reindex repairs the index.
			p.logger.Warn("prompt index update failed", zap.String("run_id", rep.RunID), zap.Error(err))
		}
	}
	return nil
}

// Reindex rebuilds the full-text index from the store and returns the number of
// records indexed.
func (p *Pipeline) Reindex(ctx context.Context) (int, error) {
	if p.index == nil {
		return 0, errors.New("no prompt index configured")
	}
	n := 0
	err := p.eachPage(ctx, storage.ListOptions{}, func(records []*models.Record) error {
		if err := p.index.IndexRecords(ctx, records); err != nil {
			return err
		}
		n += len(records)
		return nil
	})
	return n, err
}

const listPageSize = 500

// eachPage walks stored records in collection order, listPageSize at a time.
func (p *Pipeline) eachPage(ctx context.Context, opts storage.ListOptions, fn func([]*models.Record) error) error {
	opts.Limit = listPageSize
	for offset := 0; ; offset += listPageSize {
		opts.Offset = offset
		records, err := p.store.List(ctx, opts)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := fn(records); err != nil {
			return err
		}
		if len(records) < listPageSize {
			return nil
		}
	}
}
