package fetch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// State tracks one run's pagination progress. It is owned by a single run.
type State struct {
	Cursor         string    `json:"cursor,omitempty"`
	Page           int       `json:"page"`
	TotalCollected int       `json:"total_collected"`
	Pages          int       `json:"pages"`
	LastEmpty      bool      `json:"last_empty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Advance records a successful page of n items whose next token is next.
func (s *State) Advance(n int, next string) {
	s.Pages++
	s.Page++
	s.TotalCollected += n
	s.Cursor = next
	s.LastEmpty = n == 0
	s.UpdatedAt = time.Now().UTC()
}

// Finish marks the run as complete so a resumed run starts from the beginning.
func (s *State) Finish() {
	s.Cursor = ""
	s.Page = 0
	s.UpdatedAt = time.Now().UTC()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Checkpoint persists State as JSON, one file per source, under dir.
type Checkpoint struct {
	dir string
}

// NewCheckpoint returns a checkpoint store rooted at dir. An empty dir disables it.
func NewCheckpoint(dir string) *Checkpoint {
	return &Checkpoint{dir: dir}
}

// Enabled reports whether the checkpoint has somewhere to write.
func (c *Checkpoint) Enabled() bool {
	return c != nil && c.dir != ""
}

func (c *Checkpoint) path(source string) string {
	name := unsafeName.ReplaceAllString(source, "_")
	if name == "" {
		name = "default"
	}
	return filepath.Join(c.dir, name+".json")
}

// Load returns the saved state for source, or a fresh State if none exists.
func (c *Checkpoint) Load(source string) (*State, error) {
	if !c.Enabled() {
		return &State{}, nil
	}
	data, err := os.ReadFile(c.path(source))
	if errors.Is(err, os.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", c.path(source), err)
	}
	return &st, nil
}

// Save writes st for source atomically.
func (c *Checkpoint) Save(source string, st *State) error {
	if !c.Enabled() {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	path := c.path(source)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Reset removes the saved state for source.
func (c *Checkpoint) Reset(source string) error {
	if !c.Enabled() {
		return nil
	}
	err := os.Remove(c.path(source))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
