// Package storage defines the persistence interface for prompt records.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/atsume/internal/models"
)

// ErrNotFound is returned when a record id is not in the store.
var ErrNotFound = errors.New("record not found")

// Store is idempotent keyed storage of prompt records.
// A single instance assumes one writer; concurrent writers rely on the engine's transactions.
type Store interface {
	// Upsert inserts the record or fully overwrites the existing row with the same id.
	// CollectedAt is set on first insert and never changed afterwards; the stored value
	// is written back into r.
	Upsert(ctx context.Context, r *models.Record) error
	// UpsertBatch upserts records in one transaction, skipping records that fail validation.
	UpsertBatch(ctx context.Context, records []*models.Record) (BatchResult, error)
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*models.Record, error)
	List(ctx context.Context, opts ListOptions) ([]*models.Record, error)
	UpdateCategories(ctx context.Context, id string, categories []string) error

	// Stats
	Count(ctx context.Context) (int64, error)
	CountByModel(ctx context.Context) (map[string]int64, error)
	// CategoryCounts aggregates tag frequencies, optionally restricted to one source model.
	CategoryCounts(ctx context.Context, modelID string) ([]CategoryCount, error)

	Close() error
}

// ListOptions filters and pages List. A zero Limit means no limit.
type ListOptions struct {
	ModelID       string
	Offset        int
	Limit         int
	Uncategorized bool
}

// BatchResult reports how many records a batch stored and how many it skipped.
type BatchResult struct {
	Stored  int
	Skipped int
	// Errors holds one validation error per skipped record, in input order.
	Errors []error
}

// CategoryCount is one row of the category distribution.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}
