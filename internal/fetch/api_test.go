package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/extract"
)

func testExtractor(t *testing.T) *extract.Extractor {
	t.Helper()
	var cfg config.Config
	require.NoError(t, config.ApplyDefaults(&cfg))
	return extract.NewExtractor(cfg.Extract)
}

func testFetchConfig(baseURL string) config.FetchConfig {
	return config.FetchConfig{
		Mode:         config.ModeAPI,
		BaseURL:      baseURL,
		Endpoint:     "/images",
		PageSize:     50,
		MaxPages:     5,
		Timeout:      5 * time.Second,
		MaxRetries:   0,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	}
}

// sleepRecorder counts inter-page sleeps without waiting.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func itemsJSON(start, n int) []map[string]interface{} {
	items := make([]map[string]interface{}, n)
	for i := range items {
		items[i] = map[string]interface{}{"id": start + i, "prompt": fmt.Sprintf("prompt number %d", start+i)}
	}
	return items
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newFetcher(t *testing.T, cfg config.FetchConfig, sleeps *sleepRecorder) *APIFetcher {
	t.Helper()
	return NewAPIFetcher(cfg, testExtractor(t), WithSleep(sleeps.sleep))
}

func TestAPIFetcher_NullCursorStopsAfterFirstPage(t *testing.T) {
	var requests int
	var gotCursor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		gotCursor = r.URL.Query().Get("cursor")
		writeJSON(w, map[string]interface{}{"items": itemsJSON(1, 50), "nextCursor": nil})
	}))
	defer srv.Close()

	sleeps := &sleepRecorder{}
	f := newFetcher(t, testFetchConfig(srv.URL), sleeps)
	res, err := f.Fetch(context.Background(), Request{
		Endpoint: "/images",
		Params:   map[string]string{"cursor": "abc"},
		MaxPages: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, requests)
	assert.Equal(t, "abc", gotCursor)
	assert.Len(t, res.Items, 50)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, StopNoCursor, res.Stop)
	assert.Zero(t, sleeps.count(), "no delay after the last page")
	assert.Equal(t, 50, res.State.TotalCollected)
	assert.Empty(t, res.State.Cursor)
}

func TestAPIFetcher_PageModeShortPage(t *testing.T) {
	var pages, limits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		limits = append(limits, r.URL.Query().Get("limit"))
		n := 3
		if r.URL.Query().Get("page") == "2" {
			n = 2
		}
		writeJSON(w, map[string]interface{}{"items": itemsJSON(len(pages)*10, n)})
	}))
	defer srv.Close()

	cfg := testFetchConfig(srv.URL)
	cfg.PageSize = 3
	sleeps := &sleepRecorder{}
	res, err := newFetcher(t, cfg, sleeps).Fetch(context.Background(), Request{MaxPages: 5, InterPageDelay: time.Second})
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, pages)
	assert.Equal(t, []string{"3", "3"}, limits)
	assert.Equal(t, StopShortPage, res.Stop)
	assert.Len(t, res.Items, 5)
	assert.Equal(t, []time.Duration{time.Second}, sleeps.calls)
}

func TestAPIFetcher_MaxPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"items": itemsJSON(0, 2)})
	}))
	defer srv.Close()

	cfg := testFetchConfig(srv.URL)
	cfg.PageSize = 2
	sleeps := &sleepRecorder{}
	res, err := newFetcher(t, cfg, sleeps).Fetch(context.Background(), Request{MaxPages: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, StopMaxPages, res.Stop)
	assert.Equal(t, 2, sleeps.count())
	assert.Equal(t, 3, res.State.Page, "an interrupted run keeps its position")
}

func TestAPIFetcher_NotFoundIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	res, err := newFetcher(t, testFetchConfig(srv.URL), &sleepRecorder{}).Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StopNotFound, res.Stop)
	assert.Empty(t, res.Items)
}

func TestAPIFetcher_EmptyPageStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"items": []interface{}{}, "nextCursor": "more"})
	}))
	defer srv.Close()

	res, err := newFetcher(t, testFetchConfig(srv.URL), &sleepRecorder{}).Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StopEmptyPage, res.Stop)
	assert.True(t, res.State.LastEmpty)
}

func TestAPIFetcher_RetriesRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]interface{}{"items": itemsJSON(1, 1), "nextCursor": nil})
	}))
	defer srv.Close()

	cfg := testFetchConfig(srv.URL)
	cfg.MaxRetries = 2
	res, err := newFetcher(t, cfg, &sleepRecorder{}).Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, res.Items, 1)
}

func TestAPIFetcher_HTMLFallback(t *testing.T) {
	const page = `<html><body><script id="__NEXT_DATA__" type="application/json">
{"props": {"pageProps": {"images": [{"id": 31, "prompt": "harbor at dawn"}, {"id": 32, "prompt": "snowy pass"}]}}}
</script></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "text/html") {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(page))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var vias []string
	res, err := newFetcher(t, testFetchConfig(srv.URL), &sleepRecorder{}).Fetch(context.Background(), Request{
		MaxPages: 1,
		OnPage: func(_ context.Context, p Page) error {
			vias = append(vias, p.Via)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"html"}, vias)
	require.NotEmpty(t, res.Items)
	recs := testExtractor(t).ExtractItems(res.Items)
	require.Len(t, recs, 2)
	assert.Equal(t, "31", recs[0].ID)
}

func TestAPIFetcher_RPCFallback(t *testing.T) {
	var rpcInput string
	mux := http.NewServeMux()
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/trpc/image.list", func(w http.ResponseWriter, r *http.Request) {
		rpcInput = r.URL.Query().Get("input")
		writeJSON(w, map[string]interface{}{
			"result": map[string]interface{}{"data": map[string]interface{}{"json": map[string]interface{}{
				"items":      itemsJSON(7, 2),
				"nextCursor": nil,
			}}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testFetchConfig(srv.URL)
	cfg.RPCBaseURL = srv.URL + "/trpc"
	cfg.RPCProcedure = "image.list"
	cfg.SecondaryIDParam = "modelVersionId"

	res, err := newFetcher(t, cfg, &sleepRecorder{}).Fetch(context.Background(), Request{
		Params: map[string]string{"modelVersionId": "99"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, StopNoCursor, res.Stop)

	var input struct {
		JSON map[string]interface{} `json:"json"`
	}
	require.NoError(t, json.Unmarshal([]byte(rpcInput), &input))
	assert.Equal(t, float64(99), input.JSON["modelVersionId"])
	assert.Equal(t, float64(1), input.JSON["page"])
}

func TestAPIFetcher_UnauthorizedEverywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res, err := newFetcher(t, testFetchConfig(srv.URL), &sleepRecorder{}).Fetch(context.Background(), Request{})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NotNil(t, res)
	assert.Equal(t, StopExhausted, res.Stop)
}

func TestAPIFetcher_ExhaustedWithoutAuthFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := newFetcher(t, testFetchConfig(srv.URL), &sleepRecorder{}).Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, res.Stop)
}

func TestAPIFetcher_MalformedEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		endpoint string
	}{
		{"unsupported scheme", "", "ftp://example.com/images"},
		{"relative without base", "", "/images"},
		{"no host", "", "http:///images"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testFetchConfig(tt.baseURL)
			cfg.Endpoint = ""
			_, err := newFetcher(t, cfg, &sleepRecorder{}).Fetch(context.Background(), Request{Endpoint: tt.endpoint})
			assert.True(t, errors.Is(err, ErrMalformedEndpoint), "got %v", err)
		})
	}
}

func TestAPIFetcher_MetadataCursorSwitchesToCursorMode(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := r.URL.Query().Get("cursor")
		cursors = append(cursors, c)
		if c == "" {
			writeJSON(w, map[string]interface{}{"items": itemsJSON(1, 2), "metadata": map[string]interface{}{"nextCursor": "c2"}})
			return
		}
		writeJSON(w, map[string]interface{}{"items": itemsJSON(3, 2), "metadata": map[string]interface{}{}})
	}))
	defer srv.Close()

	res, err := newFetcher(t, testFetchConfig(srv.URL), &sleepRecorder{}).Fetch(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "c2"}, cursors)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, StopNoCursor, res.Stop)
}

func TestAPIFetcher_ResumesFromState(t *testing.T) {
	var gotCursor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCursor = r.URL.Query().Get("cursor")
		writeJSON(w, map[string]interface{}{"items": itemsJSON(1, 1), "nextCursor": "c6"})
	}))
	defer srv.Close()

	st := &State{Cursor: "c5", Page: 4, TotalCollected: 40}
	res, err := newFetcher(t, testFetchConfig(srv.URL), &sleepRecorder{}).Fetch(context.Background(), Request{MaxPages: 1, State: st})
	require.NoError(t, err)
	assert.Equal(t, "c5", gotCursor)
	assert.Equal(t, StopMaxPages, res.Stop)
	assert.Equal(t, "c6", st.Cursor)
	assert.Equal(t, 41, st.TotalCollected)
}

func TestAPIFetcher_OnPageErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"items": itemsJSON(1, 50)})
	}))
	defer srv.Close()

	boom := errors.New("disk full")
	res, err := newFetcher(t, testFetchConfig(srv.URL), &sleepRecorder{}).Fetch(context.Background(), Request{
		OnPage: func(context.Context, Page) error { return boom },
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Pages)
}

func TestNextToken(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		token     string
		signalled bool
	}{
		{"top level", `{"nextCursor": "abc"}`, "abc", true},
		{"explicit null", `{"nextCursor": null}`, "", true},
		{"numeric", `{"next": 12}`, "12", true},
		{"metadata", `{"metadata": {"nextPage": "https://x.test/p?cursor=2"}}`, "https://x.test/p?cursor=2", true},
		{"absent", `{"items": []}`, "", false},
		{"list", `[1, 2]`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := extract.DecodeJSON([]byte(tt.payload))
			require.NoError(t, err)
			token, signalled := nextToken(payload)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.signalled, signalled)
		})
	}
}

func TestNew_SelectsByMode(t *testing.T) {
	e := testExtractor(t)
	f, err := New(config.FetchConfig{Mode: config.ModeCapture, CaptureDir: t.TempDir()}, e)
	require.NoError(t, err)
	assert.IsType(t, &CaptureFetcher{}, f)

	f, err = New(config.FetchConfig{Mode: config.ModeAPI}, e)
	require.NoError(t, err)
	assert.IsType(t, &APIFetcher{}, f)

	_, err = New(config.FetchConfig{Mode: "carrier-pigeon"}, e)
	assert.Error(t, err)
}
