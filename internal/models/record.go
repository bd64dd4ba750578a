// Package models defines the normalized prompt record and transient clustering results.
package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrMissingID is returned when a record has no identifier.
	ErrMissingID = errors.New("record id is required")
	// ErrEmptyPrompt is returned when a record's prompt text is blank after trimming.
	ErrEmptyPrompt = errors.New("record prompt text is empty")
)

// Record is the unit of storage: one prompt collected from the upstream platform.
type Record struct {
	ID                 string                 `json:"id" db:"id"`
	SourceModelID      string                 `json:"source_model_id,omitempty" db:"source_model_id"`
	PromptText         string                 `json:"prompt_text" db:"prompt_text"`
	NegativePromptText string                 `json:"negative_prompt_text,omitempty" db:"negative_prompt_text"`
	Categories         []string               `json:"categories" db:"categories"`
	RawMetadata        map[string]interface{} `json:"raw_metadata,omitempty" db:"raw_metadata"`
	CollectedAt        time.Time              `json:"collected_at" db:"collected_at"`
}

// Validate checks the fields required for persistence.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(r.PromptText) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Categorized reports whether the record has been tagged.
func (r *Record) Categorized() bool {
	return len(r.Categories) > 0
}

// SetCategories replaces the record's categories with the deduplicated, sorted set of tags.
func (r *Record) SetCategories(tags []string) {
	r.Categories = NormalizeCategories(tags)
}

// AddCategories merges tags into the record's existing categories.
func (r *Record) AddCategories(tags ...string) {
	r.Categories = NormalizeCategories(append(append([]string(nil), r.Categories...), tags...))
}

// NormalizeCategories trims, drops blanks, deduplicates, and sorts tags.
// Sorting only gives a stable storage encoding; order carries no meaning.
func NormalizeCategories(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
