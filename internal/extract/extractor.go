// Package extract normalizes heterogeneous upstream payloads into prompt records.
//
// A payload is whatever a page decodes to: a map, a list, or any nesting of the two.
// Extraction is best-effort: shapes it does not recognize produce no records, never an error.
package extract

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/models"
)

// Strategy is one named way of locating prompt-bearing items in a payload.
// Strategies run in order and the first that yields records wins.
type Strategy struct {
	Name string
	Find func(payload interface{}) []*models.Record
}

// Result is the outcome of running the strategies over one payload.
type Result struct {
	Records []*models.Record
	// Strategy names the strategy that produced Records, or "" when none matched.
	Strategy string
}

// Extractor maps raw payloads to normalized records using configured alias tables.
type Extractor struct {
	keys       config.ExtractConfig
	strategies []Strategy

	patternOnce sync.Once
	pattern     *regexp.Regexp
}

// NewExtractor returns an Extractor for the given alias tables.
func NewExtractor(keys config.ExtractConfig) *Extractor {
	e := &Extractor{keys: keys}
	e.strategies = []Strategy{
		{Name: "container", Find: e.fromContainer},
		{Name: "deep", Find: e.deepSearch},
	}
	return e
}

// Strategies returns the strategy names in priority order.
func (e *Extractor) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name
	}
	return names
}

// Extract returns the records found in payload.
func (e *Extractor) Extract(payload interface{}) []*models.Record {
	return e.Match(payload).Records
}

// Match runs the strategies in priority order and reports which one matched.
func (e *Extractor) Match(payload interface{}) Result {
	for _, s := range e.strategies {
		if recs := s.Find(payload); len(recs) > 0 {
			return Result{Records: recs, Strategy: s.Name}
		}
	}
	return Result{}
}

// Items returns the raw item sequence of one page payload: the list under a container
// key, the payload itself when it is a list, or the payload as a single item when only
// the deep search finds prompts in it. Payloads with nothing recognizable yield nil.
func (e *Extractor) Items(payload interface{}) []interface{} {
	if items, ok := e.itemSequence(payload, 2); ok {
		return items
	}
	if len(e.deepSearch(payload)) > 0 {
		return []interface{}{payload}
	}
	return nil
}

// ExtractItems normalizes raw items as returned by Items. An item that is not itself
// prompt-bearing is searched as a payload of its own.
func (e *Extractor) ExtractItems(items []interface{}) []*models.Record {
	var out []*models.Record
	for _, it := range items {
		if r := e.mapItem(it); r != nil {
			out = append(out, r)
			continue
		}
		if _, isString := it.(string); !isString {
			out = append(out, e.Extract(it)...)
		}
	}
	return out
}

// ExtractJSON decodes data as JSON and extracts records from it.
// Undecodable input yields no records.
func (e *Extractor) ExtractJSON(data []byte) []*models.Record {
	payload, err := DecodeJSON(data)
	if err != nil {
		return nil
	}
	return e.Extract(payload)
}

// ExtractFile reads the capture file at path and extracts records from it.
// The format is chosen by extension; see ExtractBytes.
func (e *Extractor) ExtractFile(path string) ([]*models.Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path))), nil
}

// ExtractBytes extracts records from content based on the given extension.
// ".jsonl" treats every non-blank line as a separate payload, ".html"/".htm" searches
// for embedded JSON state, and anything else is decoded as a single JSON document.
func (e *Extractor) ExtractBytes(content []byte, ext string) []*models.Record {
	switch ext {
	case ".html", ".htm":
		return e.ExtractHTML(content)
	case ".jsonl", ".ndjson":
		var out []*models.Record
		sc := bufio.NewScanner(bytes.NewReader(content))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			out = append(out, e.ExtractJSON(line)...)
		}
		return out
	default:
		return e.ExtractJSON(content)
	}
}

// DecodeJSON decodes data preserving integer ids exactly (numbers decode as json.Number).
func DecodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// fromContainer handles the direct shapes: a list of items, or a map holding one
// under a container key. Maps under a container key are searched one level further
// so {"data": {"items": [...]}} is still direct.
func (e *Extractor) fromContainer(payload interface{}) []*models.Record {
	items, ok := e.itemSequence(payload, 2)
	if !ok {
		return nil
	}
	var out []*models.Record
	for _, it := range items {
		if r := e.mapItem(it); r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (e *Extractor) itemSequence(payload interface{}, depth int) ([]interface{}, bool) {
	switch v := payload.(type) {
	case []interface{}:
		return v, true
	case map[string]interface{}:
		for _, key := range e.keys.ContainerKeys {
			child, ok := lookup(v, key)
			if !ok {
				continue
			}
			if list, ok := child.([]interface{}); ok {
				return list, true
			}
			if depth > 0 {
				if list, ok := e.itemSequence(child, depth-1); ok {
					return list, true
				}
			}
		}
	}
	return nil, false
}

// deepSearch walks the whole tree and turns every map carrying a non-empty prompt
// alias, directly or under a meta key, into a record. Matched maps are not descended into.
func (e *Extractor) deepSearch(payload interface{}) []*models.Record {
	var out []*models.Record
	var walk func(node interface{})
	walk = func(node interface{}) {
		switch v := node.(type) {
		case map[string]interface{}:
			if r := e.mapObject(v); r != nil {
				out = append(out, r)
				return
			}
			for _, k := range sortedKeys(v) {
				walk(v[k])
			}
		case []interface{}:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(payload)
	return out
}

// dedupe keeps the first record for each id.
func dedupe(records []*models.Record) []*models.Record {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
