package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/atsume/internal/fetch"
	"github.com/hyperjump/atsume/internal/models"
	"github.com/hyperjump/atsume/internal/pipeline"
	"github.com/hyperjump/atsume/internal/promptindex"
	"github.com/hyperjump/atsume/internal/storage"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want OutputFormat
	}{
		{"json", OutputJSON},
		{"JSON", OutputJSON},
		{"text", OutputText},
		{"", OutputText},
		{"yaml", OutputText},
	}
	for _, tt := range tests {
		if got := ParseFormat(tt.in); got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteSearchHits_JSON(t *testing.T) {
	hits := []promptindex.Hit{{ID: "7", Score: 1.5, Prompt: "castle", ModelID: "100", Categories: []string{"style"}}}
	var buf bytes.Buffer
	if err := WriteSearchHits(&buf, "castle", hits, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Query string            `json:"query"`
		Hits  []promptindex.Hit `json:"hits"`
	}
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != "castle" || len(decoded.Hits) != 1 || decoded.Hits[0].ID != "7" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteSearchHits_Text(t *testing.T) {
	hits := []promptindex.Hit{{ID: "7", Score: 1.5, Prompt: "a castle\non a hill", Categories: []string{"style", "mood"}}}
	var buf bytes.Buffer
	if err := WriteSearchHits(&buf, "castle", hits, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"1.500", "a castle on a hill", "style,mood"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchHits_Suggestions(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchHits(&buf, "catsle", nil, []string{"castle", "candle"}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Did you mean: castle, candle?") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWriteRunReports(t *testing.T) {
	reports := []*pipeline.RunReport{
		{Source: "civitai", Pages: 3, Stored: 120, New: 40, Stop: fetch.StopNoCursor, Duration: 1500 * time.Millisecond},
		{Source: "locked", Stop: fetch.StopExhausted, Err: errors.New("unauthorized")},
		nil,
	}
	var buf bytes.Buffer
	if err := WriteRunReports(&buf, reports, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"civitai", "120", "no_next_token", "1.5s", "unauthorized"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteCategoryCounts(t *testing.T) {
	counts := []storage.CategoryCount{{Category: "style", Count: 3}, {Category: "mood", Count: 1}}
	var buf bytes.Buffer
	if err := WriteCategoryCounts(&buf, counts, true, OutputText); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "75.0") || !strings.Contains(out, "25.0") {
		t.Errorf("percent output:\n%s", out)
	}

	buf.Reset()
	if err := WriteCategoryCounts(&buf, counts, false, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"value": 3`) {
		t.Errorf("json output:\n%s", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	s := Status{Records: 3, RecordsByModel: map[string]int64{"": 1, "100": 2}, Indexed: 3, DiskUsageBytes: 2048, DatabasePath: "/tmp/p.db"}
	if err := WriteStatus(&buf, s, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"/tmp/p.db", "2.0 KiB", "(none)", "100"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteClusterReport(t *testing.T) {
	rep := &pipeline.ClusterReport{
		IDs: []string{"1", "2", "3"},
		Assignment: &models.ClusterAssignment{
			Labels:  []int{0, 0, -1},
			Summary: map[int]string{0: "castle, night", -1: "noise"},
			Method:  models.MethodDensity,
		},
		Clusters: 1,
		Noise:    1,
	}
	var buf bytes.Buffer
	if err := WriteClusterReport(&buf, rep, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Clustered 3 prompts (density)", "castle, night", "noise"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
