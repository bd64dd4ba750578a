// Package cli provides output helpers for the atsume commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/hyperjump/atsume/internal/pipeline"
	"github.com/hyperjump/atsume/internal/promptindex"
	"github.com/hyperjump/atsume/internal/report"
	"github.com/hyperjump/atsume/internal/storage"
	"github.com/hyperjump/atsume/pkg/utils"
)

// OutputFormat selects human or machine output.
type OutputFormat string

const (
	// OutputText renders tables (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat. Unknown values fall back to text.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(s, string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

const promptWidth = 80

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	t.SetStyle(table.StyleRounded)
	return t
}

// WriteRunReports prints one row per collect or import run.
func WriteRunReports(w io.Writer, reports []*pipeline.RunReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, reports)
	}
	t := newTable(w, table.Row{"Source", "Pages", "Extracted", "New", "Stored", "Skipped", "Stop", "Duration", "Error"})
	for _, r := range reports {
		if r == nil {
			continue
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Source, r.Pages, r.Extracted, r.New, r.Stored, r.Skipped, r.Stop, r.Duration.Round(time.Millisecond), errText})
	}
	t.Render()
	return nil
}

// WriteSearchHits prints search hits, or the suggestions when nothing matched.
func WriteSearchHits(w io.Writer, query string, hits []promptindex.Hit, suggestions []string, format OutputFormat) error {
	if format == OutputJSON {
		if hits == nil {
			hits = []promptindex.Hit{}
		}
		return WriteJSON(w, map[string]interface{}{"query": query, "hits": hits, "suggestions": suggestions})
	}
	if len(hits) == 0 {
		fmt.Fprintf(w, "No prompts match %q.\n", query)
		if len(suggestions) > 0 {
			fmt.Fprintf(w, "Did you mean: %s?\n", strings.Join(suggestions, ", "))
		}
		return nil
	}
	t := newTable(w, table.Row{"#", "Score", "ID", "Model", "Categories", "Prompt"})
	for i, h := range hits {
		t.AppendRow(table.Row{
			i + 1,
			fmt.Sprintf("%.3f", h.Score),
			h.ID,
			h.ModelID,
			strings.Join(h.Categories, ","),
			utils.Truncate(utils.OneLine(h.Prompt), promptWidth),
		})
	}
	t.Render()
	return nil
}

// WriteCategoryCounts prints the category distribution, as shares of all tags when
// percent is set.
func WriteCategoryCounts(w io.Writer, counts []storage.CategoryCount, percent bool, format OutputFormat) error {
	rows := report.Rows(counts, percent)
	if format == OutputJSON {
		return WriteJSON(w, rows)
	}
	header := "Count"
	if percent {
		header = "Share (%)"
	}
	t := newTable(w, table.Row{"Category", header})
	for _, r := range rows {
		if percent {
			t.AppendRow(table.Row{r.Category, fmt.Sprintf("%.1f", r.Value)})
		} else {
			t.AppendRow(table.Row{r.Category, int64(r.Value)})
		}
	}
	t.Render()
	return nil
}

// Status is the summary printed by the status command.
type Status struct {
	Records        int64            `json:"records"`
	RecordsByModel map[string]int64 `json:"records_by_model"`
	Indexed        uint64           `json:"indexed"`
	DiskUsageBytes int64            `json:"disk_usage_bytes"`
	DatabasePath   string           `json:"database_path"`
	IndexPath      string           `json:"index_path"`
}

// WriteStatus prints store and index totals.
func WriteStatus(w io.Writer, s Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "Database: %s\n", s.DatabasePath)
	fmt.Fprintf(w, "Index:    %s\n", s.IndexPath)
	fmt.Fprintf(w, "Records:  %d (%d indexed, %s on disk)\n", s.Records, s.Indexed, FormatBytes(s.DiskUsageBytes))
	if len(s.RecordsByModel) == 0 {
		return nil
	}
	models := make([]string, 0, len(s.RecordsByModel))
	for m := range s.RecordsByModel {
		models = append(models, m)
	}
	sort.Strings(models)
	t := newTable(w, table.Row{"Model", "Records"})
	for _, m := range models {
		name := m
		if name == "" {
			name = "(none)"
		}
		t.AppendRow(table.Row{name, s.RecordsByModel[m]})
	}
	t.Render()
	return nil
}

// WriteClusterReport prints cluster sizes and their summaries.
func WriteClusterReport(w io.Writer, rep *pipeline.ClusterReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, rep)
	}
	a := rep.Assignment
	fmt.Fprintf(w, "Clustered %d prompts (%s): %d clusters, %d noise, %d saved\n",
		len(a.Labels), a.Method, rep.Clusters, rep.Noise, rep.Saved)
	sizes := map[int]int{}
	for _, l := range a.Labels {
		sizes[l]++
	}
	labels := make([]int, 0, len(sizes))
	for l := range sizes {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	t := newTable(w, table.Row{"Label", "Size", "Summary"})
	for _, l := range labels {
		t.AppendRow(table.Row{l, sizes[l], a.Summary[l]})
	}
	t.Render()
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
