// Package promptindex provides full-text search over collected prompts.
package promptindex

import (
	"context"

	"github.com/hyperjump/atsume/internal/models"
)

// SearchOptions narrows and tunes a prompt search. The zero value searches all
// prompts with exact term matching.
type SearchOptions struct {
	Limit int
	// ModelID restricts hits to one upstream model.
	ModelID string
	// Category restricts hits to prompts carrying this tag.
	Category string
	// Fuzzy matches each term within Fuzziness edits (default 1) for typo tolerance.
	Fuzzy     bool
	Fuzziness int
}

// Hit is one search result.
type Hit struct {
	ID         string   `json:"id"`
	Score      float64  `json:"score"`
	Prompt     string   `json:"prompt"`
	ModelID    string   `json:"source_model_id,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Index is a full-text prompt index kept alongside the store.
type Index interface {
	// IndexRecords adds or replaces records, keyed by id.
	IndexRecords(ctx context.Context, records []*models.Record) error
	Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error)
	// Suggest returns indexed terms close to term, best first.
	Suggest(ctx context.Context, term string, max int) ([]string, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}
