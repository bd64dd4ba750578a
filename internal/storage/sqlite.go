// Package storage provides SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/atsume/internal/models"
)

const timeLayout = time.RFC3339Nano

var _ Store = (*SQLiteStorage)(nil)

// SQLiteStorage implements Store using SQLite.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers from concurrent source runs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		source_model_id TEXT NOT NULL DEFAULT '',
		prompt_text TEXT NOT NULL,
		negative_prompt_text TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		raw_metadata TEXT NOT NULL DEFAULT '{}',
		collected_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prompts_model ON prompts(source_model_id);
	CREATE INDEX IF NOT EXISTS idx_prompts_collected_at ON prompts(collected_at);
	`
	_, err := db.Exec(schema)
	return err
}

const upsertSQL = `
	INSERT INTO prompts (id, source_model_id, prompt_text, negative_prompt_text, categories, raw_metadata, collected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		source_model_id = excluded.source_model_id,
		prompt_text = excluded.prompt_text,
		negative_prompt_text = excluded.negative_prompt_text,
		categories = excluded.categories,
		raw_metadata = excluded.raw_metadata`

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Upsert inserts or fully overwrites r. It fails with models.ErrMissingID or
// models.ErrEmptyPrompt before touching the database.
func (s *SQLiteStorage) Upsert(ctx context.Context, r *models.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsert(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// UpsertBatch upserts all valid records in one transaction. Invalid records are
// skipped and reported; a storage error aborts the whole batch.
func (s *SQLiteStorage) UpsertBatch(ctx context.Context, records []*models.Record) (BatchResult, error) {
	var res BatchResult
	if len(records) == 0 {
		return res, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		if err := r.Validate(); err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Errorf("record %q: %w", r.ID, err))
			continue
		}
		if err := s.upsert(ctx, tx, r); err != nil {
			return BatchResult{}, err
		}
		res.Stored++
	}
	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("failed to commit batch: %w", err)
	}
	return res, nil
}

func (s *SQLiteStorage) upsert(ctx context.Context, q execQuerier, r *models.Record) error {
	categoriesJSON, err := json.Marshal(models.NormalizeCategories(r.Categories))
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}
	metadata := r.RawMetadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = q.ExecContext(ctx, upsertSQL,
		r.ID, r.SourceModelID, r.PromptText, r.NegativePromptText,
		string(categoriesJSON), string(metadataJSON), s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
	}

	var collected string
	if err := q.QueryRowContext(ctx, `SELECT collected_at FROM prompts WHERE id = ?`, r.ID).Scan(&collected); err != nil {
		return fmt.Errorf("failed to read collected_at for %s: %w", r.ID, err)
	}
	if t, err := time.Parse(timeLayout, collected); err == nil {
		r.CollectedAt = t
	}
	r.Categories = models.NormalizeCategories(r.Categories)
	return nil
}

// Exists reports whether a record with id is stored.
func (s *SQLiteStorage) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM prompts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const selectColumns = `id, source_model_id, prompt_text, negative_prompt_text, categories, raw_metadata, collected_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var r models.Record
	var categoriesJSON, metadataJSON, collected string
	if err := row.Scan(&r.ID, &r.SourceModelID, &r.PromptText, &r.NegativePromptText,
		&categoriesJSON, &metadataJSON, &collected); err != nil {
		return nil, err
	}
	if categoriesJSON != "" {
		if err := json.Unmarshal([]byte(categoriesJSON), &r.Categories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
		}
	}
	if r.Categories == nil {
		r.Categories = []string{}
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &r.RawMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	t, err := time.Parse(timeLayout, collected)
	if err != nil {
		return nil, fmt.Errorf("failed to parse collected_at: %w", err)
	}
	r.CollectedAt = t
	return &r, nil
}

// Get returns a record by ID, or ErrNotFound.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM prompts WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// List returns records ordered by collection time, then id.
func (s *SQLiteStorage) List(ctx context.Context, opts ListOptions) ([]*models.Record, error) {
	var where []string
	var args []interface{}
	if opts.ModelID != "" {
		where = append(where, "source_model_id = ?")
		args = append(args, opts.ModelID)
	}
	if opts.Uncategorized {
		where = append(where, "categories = '[]'")
	}
	query := `SELECT ` + selectColumns + ` FROM prompts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY collected_at, id"
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpdateCategories replaces the categories of one stored record.
func (s *SQLiteStorage) UpdateCategories(ctx context.Context, id string, categories []string) error {
	if strings.TrimSpace(id) == "" {
		return models.ErrMissingID
	}
	categoriesJSON, err := json.Marshal(models.NormalizeCategories(categories))
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE prompts SET categories = ? WHERE id = ?`, string(categoriesJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update categories for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Count returns the total number of stored records.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts`).Scan(&n)
	return n, err
}

// CountByModel returns record counts keyed by source model id ("" for unassociated records).
func (s *SQLiteStorage) CountByModel(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_model_id, COUNT(*) FROM prompts GROUP BY source_model_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var model string
		var n int64
		if err := rows.Scan(&model, &n); err != nil {
			return nil, err
		}
		out[model] = n
	}
	return out, rows.Err()
}

// CategoryCounts returns tag frequencies, most frequent first. An empty modelID counts all records.
func (s *SQLiteStorage) CategoryCounts(ctx context.Context, modelID string) ([]CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.value, COUNT(*) AS n
		FROM prompts p, json_each(p.categories) j
		WHERE (? = '' OR p.source_model_id = ?)
		GROUP BY j.value
		ORDER BY n DESC, j.value`, modelID, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	defer rows.Close()
	var out []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
