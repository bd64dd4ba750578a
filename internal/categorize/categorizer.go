// Package categorize assigns category tags to prompts: deterministic keyword rules per
// record, and an advisory batch clustering pass over prompt embeddings.
package categorize

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/embedding"
	"github.com/hyperjump/atsume/internal/models"
)

// ClusterTagPrefix prefixes category tags written from cluster labels.
const ClusterTagPrefix = "cluster:"

type rule struct {
	category string
	triggers []string
}

// Categorizer holds the compiled rule table and clustering settings. It is safe for
// concurrent use once constructed.
type Categorizer struct {
	cfg      config.CategorizeConfig
	rules    []rule
	embedder embedding.Embedder
	logger   *zap.Logger
}

// Option configures a Categorizer.
type Option func(*Categorizer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Categorizer) {
		c.logger = logger
	}
}

// WithEmbedder sets the embedding provider used by ClusterBatch. Without one,
// ClusterBatch labels everything as noise.
func WithEmbedder(e embedding.Embedder) Option {
	return func(c *Categorizer) {
		c.embedder = e
	}
}

// New compiles cfg.Rules. Triggers are lowercased and blank triggers dropped.
func New(cfg config.CategorizeConfig, opts ...Option) *Categorizer {
	c := &Categorizer{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	names := make([]string, 0, len(cfg.Rules))
	for name := range cfg.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var triggers []string
		for _, t := range cfg.Rules[name] {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				triggers = append(triggers, t)
			}
		}
		if len(triggers) > 0 {
			c.rules = append(c.rules, rule{category: name, triggers: triggers})
		}
	}
	return c
}

// KeywordTag returns the sorted set of categories with a trigger occurring anywhere in
// text, compared case-insensitively as substrings. When nothing matches it returns
// nil, or the default tag if the config opts into one.
func (c *Categorizer) KeywordTag(text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, r := range c.rules {
		for _, t := range r.triggers {
			if strings.Contains(lower, t) {
				hits = append(hits, r.category)
				break
			}
		}
	}
	if len(hits) == 0 && c.cfg.UseDefaultTag && c.cfg.DefaultTag != "" {
		return []string{c.cfg.DefaultTag}
	}
	return hits
}

// Tag adds the keyword tags of r's prompt to its categories.
func (c *Categorizer) Tag(r *models.Record) {
	r.AddCategories(c.KeywordTag(r.PromptText)...)
}

// Retag recomputes r's keyword tags from scratch, keeping any cluster tags. It reports
// whether the categories changed.
func (c *Categorizer) Retag(r *models.Record) bool {
	tags := c.KeywordTag(r.PromptText)
	for _, t := range r.Categories {
		if strings.HasPrefix(t, ClusterTagPrefix) {
			tags = append(tags, t)
		}
	}
	next := models.NormalizeCategories(tags)
	if equalTags(next, r.Categories) {
		return false
	}
	r.Categories = next
	return true
}

// Categories returns the configured category names in sorted order.
func (c *Categorizer) Categories() []string {
	out := make([]string, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.category
	}
	return out
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
