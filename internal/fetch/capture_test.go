package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestCaptureFetcher_ReplaysPagesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "01-page.json", `{"items": [{"id": 1, "prompt": "first"}, {"id": 2, "prompt": "second"}]}`)
	writeCapture(t, dir, "02-rpc.json", `{"result": {"data": {"json": {"items": [{"id": 3, "prompt": "third"}]}}}}`)
	writeCapture(t, dir, "03-lines.jsonl", "{\"items\": [{\"id\": 4, \"prompt\": \"fourth\"}]}\n{\"items\": []}\n{\"items\": [{\"id\": 5, \"prompt\": \"fifth\"}]}\n")
	writeCapture(t, dir, "notes.txt", "ignored")

	var numbers []int
	f := NewCaptureFetcher(dir, testExtractor(t))
	res, err := f.Fetch(context.Background(), Request{
		OnPage: func(_ context.Context, p Page) error {
			assert.Equal(t, "capture", p.Via)
			numbers = append(numbers, p.Number)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StopNoData, res.Stop)
	assert.Equal(t, []int{1, 2, 3, 4}, numbers)
	recs := testExtractor(t).ExtractItems(res.Items)
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
}

func TestCaptureFetcher_MaxPagesAndResume(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.json", `[{"id": 1, "prompt": "one"}]`)
	writeCapture(t, dir, "b.json", `[{"id": 2, "prompt": "two"}]`)
	writeCapture(t, dir, "c.json", `[{"id": 3, "prompt": "three"}]`)

	f := NewCaptureFetcher(dir, testExtractor(t))
	st := &State{}
	res, err := f.Fetch(context.Background(), Request{MaxPages: 2, State: st})
	require.NoError(t, err)
	assert.Equal(t, StopMaxPages, res.Stop)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 2, st.Page)

	res, err = f.Fetch(context.Background(), Request{MaxPages: 2, State: st})
	require.NoError(t, err)
	assert.Equal(t, StopNoData, res.Stop)
	require.Len(t, res.Items, 1)
	assert.Zero(t, st.Page)
	assert.Equal(t, 3, st.TotalCollected)
}

func TestCaptureFetcher_SingleFileEndpoint(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "page.html", `<script>window.__STATE__ = {"images": [{"id": 9, "prompt": "lighthouse"}]};</script>`)
	writeCapture(t, dir, "other.json", `[{"id": 10, "prompt": "skip me"}]`)

	res, err := NewCaptureFetcher(dir, testExtractor(t)).Fetch(context.Background(), Request{Endpoint: "page.html"})
	require.NoError(t, err)
	recs := testExtractor(t).ExtractItems(res.Items)
	require.Len(t, recs, 1)
	assert.Equal(t, "9", recs[0].ID)
}

func TestCaptureFetcher_MissingDir(t *testing.T) {
	_, err := NewCaptureFetcher(filepath.Join(t.TempDir(), "nope"), testExtractor(t)).Fetch(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMalformedEndpoint)
}

func TestCaptureFetcher_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.json", `[{"id": 1, "prompt": "one"}]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewCaptureFetcher(dir, testExtractor(t)).Fetch(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, StopCanceled, res.Stop)
}
