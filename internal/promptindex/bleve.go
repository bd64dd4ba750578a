package promptindex

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/atsume/internal/models"
	"github.com/hyperjump/atsume/pkg/utils"
)

const defaultLimit = 20

// document is the shape stored in bleve for one record.
type document struct {
	Prompt     string   `json:"prompt"`
	Negative   string   `json:"negative"`
	ModelID    string   `json:"model_id"`
	Categories []string `json:"categories"`
}

// BleveIndex implements Index on a bleve index directory.
type BleveIndex struct {
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) keeps style words such as
	// "watercolor" or "bokeh" matching exactly.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = true
	doc.AddFieldMappingsAt("prompt", text)

	negative := bleve.NewTextFieldMapping()
	negative.Analyzer = standard.Name
	negative.Store = false
	doc.AddFieldMappingsAt("negative", negative)

	exact := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("model_id", exact)
	doc.AddFieldMappingsAt("categories", exact)

	im.AddDocumentMapping("prompt", doc)
	im.DefaultType = "prompt"
	im.DefaultMapping = doc
	return im
}

// NewBleveIndex opens the index at path, creating it if it does not exist.
// Changing the mapping requires deleting the index directory and running reindex.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open prompt index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex returns an index that lives only in memory.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexRecords indexes records in one batch.
func (b *BleveIndex) IndexRecords(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := document{
			Prompt:     r.PromptText,
			Negative:   r.NegativePromptText,
			ModelID:    r.SourceModelID,
			Categories: r.Categories,
		}
		if err := batch.Index(r.ID, doc); err != nil {
			return fmt.Errorf("index %s: %w", r.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("prompt index batch failed: %w", err)
	}
	return nil
}

// Search matches query against prompt text, then reranks so hits containing more of
// the query terms come first: each score is multiplied by the squared fraction of
// terms present in the stored prompt.
func (b *BleveIndex) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var text blevequery.Query
	if opts.Fuzzy {
		fuzziness := opts.Fuzziness
		if fuzziness <= 0 {
			fuzziness = 1
		}
		text = buildFuzzyQuery(terms, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("prompt")
		text = mq
	}
	q := text
	if filters := filterQueries(opts); len(filters) > 0 {
		q = bleve.NewConjunctionQuery(append([]blevequery.Query{text}, filters...)...)
	}

	req := bleve.NewSearchRequestOptions(q, limit*2, 0, false)
	req.Fields = []string{"prompt", "model_id", "categories"}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("prompt search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		hit.Prompt, _ = h.Fields["prompt"].(string)
		hit.ModelID, _ = h.Fields["model_id"].(string)
		hit.Categories = stringList(h.Fields["categories"])
		if len(terms) > 1 && !opts.Fuzzy {
			c := coverage(terms, hit.Prompt)
			hit.Score *= c * c
		}
		hits = append(hits, hit)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func filterQueries(opts SearchOptions) []blevequery.Query {
	var out []blevequery.Query
	if opts.ModelID != "" {
		tq := bleve.NewTermQuery(opts.ModelID)
		tq.SetField("model_id")
		out = append(out, tq)
	}
	if opts.Category != "" {
		tq := bleve.NewTermQuery(opts.Category)
		tq.SetField("categories")
		out = append(out, tq)
	}
	return out
}

// buildFuzzyQuery ORs a fuzzy query per term over the prompt field.
func buildFuzzyQuery(terms []string, fuzziness int) blevequery.Query {
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("prompt")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// coverage is the fraction of terms that appear as words of prompt.
func coverage(terms []string, prompt string) float64 {
	words := make(map[string]struct{})
	for _, w := range tokenizeQuery(prompt) {
		words[w] = struct{}{}
	}
	matched := 0
	for _, t := range terms {
		if _, ok := words[t]; ok {
			matched++
		}
	}
	if matched == 0 {
		matched = 1
	}
	return float64(matched) / float64(len(terms))
}

// tokenizeQuery approximates the standard analyzer: lowercase words split on
// anything that is not a letter or digit.
func tokenizeQuery(s string) []string {
	return utils.Words(s)
}

func stringList(v interface{}) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Delete removes a record from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the number of indexed records.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
