package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/models"
	"github.com/hyperjump/atsume/internal/promptindex"
	"github.com/hyperjump/atsume/internal/storage"
)

func newTestServer(t *testing.T, withIndex bool) *Server {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "prompts.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	records := []*models.Record{
		{ID: "1", SourceModelID: "100", PromptText: "watercolor castle at sunset", Categories: []string{"lighting", "style"}},
		{ID: "2", SourceModelID: "100", PromptText: "anime portrait", Categories: []string{"composition", "style"}},
		{ID: "3", SourceModelID: "200", PromptText: "foggy harbor at dawn"},
	}
	if _, err := store.UpsertBatch(context.Background(), records); err != nil {
		t.Fatal(err)
	}

	var idx promptindex.Index
	if withIndex {
		mem, err := promptindex.NewMemoryIndex()
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { mem.Close() })
		if err := mem.IndexRecords(context.Background(), records); err != nil {
			t.Fatal(err)
		}
		idx = mem
	}
	cfg := &config.Config{Storage: config.StorageConfig{DatabasePath: filepath.Join(dir, "prompts.db")}}
	return NewServer(store, idx, cfg, zap.NewNop())
}

func do(t *testing.T, srv *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	w := do(t, newTestServer(t, false), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	w := do(t, newTestServer(t, true), http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body)
	}
	var out struct {
		Records        int64            `json:"records"`
		RecordsByModel map[string]int64 `json:"records_by_model"`
		Indexed        uint64           `json:"indexed"`
		DiskUsage      int64            `json:"disk_usage_bytes"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Records != 3 || out.RecordsByModel["100"] != 2 || out.Indexed != 3 {
		t.Errorf("status = %+v", out)
	}
	if out.DiskUsage <= 0 {
		t.Errorf("disk usage should include the database, got %d", out.DiskUsage)
	}
}

func TestHandleListRecords(t *testing.T) {
	srv := newTestServer(t, false)
	w := do(t, srv, http.MethodGet, "/api/v1/records?offset=1&limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Records []models.Record `json:"records"`
		Limit   int             `json:"limit"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Records) != 1 || out.Limit != 1 {
		t.Errorf("got %d records, limit %d", len(out.Records), out.Limit)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/records?model_id=200", nil)
	out.Records = nil
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Records) != 1 || out.Records[0].ID != "3" {
		t.Errorf("model filter: %+v", out.Records)
	}

	for _, bad := range []string{"offset=-1", "limit=0", "limit=abc"} {
		if w := do(t, srv, http.MethodGet, "/api/v1/records?"+bad, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", bad, w.Code)
		}
	}
}

func TestHandleGetRecord(t *testing.T) {
	srv := newTestServer(t, false)
	w := do(t, srv, http.MethodGet, "/api/v1/records/2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var rec models.Record
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.PromptText != "anime portrait" {
		t.Errorf("record = %+v", rec)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/records/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing record: status %d", w.Code)
	}
}

func TestHandleCategories(t *testing.T) {
	srv := newTestServer(t, false)
	w := do(t, srv, http.MethodGet, "/api/v1/categories?model_id=100", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Categories []storage.CategoryCount `json:"categories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	got := map[string]int64{}
	for _, c := range out.Categories {
		got[c.Category] = c.Count
	}
	if got["style"] != 2 || got["lighting"] != 1 || got["composition"] != 1 {
		t.Errorf("categories = %v", got)
	}
}

func TestHandleSearch(t *testing.T) {
	srv := newTestServer(t, true)
	w := do(t, srv, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "castle"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body)
	}
	var out struct {
		Hits []promptindex.Hit `json:"hits"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Hits) != 1 || out.Hits[0].ID != "1" {
		t.Errorf("hits = %+v", out.Hits)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "harbr"})
	var miss struct {
		Hits        []promptindex.Hit `json:"hits"`
		Suggestions []string          `json:"suggestions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&miss); err != nil {
		t.Fatal(err)
	}
	if len(miss.Hits) != 0 || len(miss.Suggestions) == 0 || miss.Suggestions[0] != "harbor" {
		t.Errorf("miss = %+v", miss)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": " "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank query: status %d", w.Code)
	}
}

func TestHandleSearch_NoIndex(t *testing.T) {
	w := do(t, newTestServer(t, false), http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "castle"})
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d", w.Code)
	}
}
