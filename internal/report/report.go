// Package report exports the category distribution as an XLSX workbook with a bar chart.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/atsume/internal/storage"
)

const sheet = "Categories"

// ErrNoData is returned when there are no category counts to export.
var ErrNoData = errors.New("no categorized records to export")

// Row is one bar of the distribution.
type Row struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
}

// Rows converts counts to chart values. With percent set each value is its share of
// the summed counts; a record with several tags counts once per tag.
func Rows(counts []storage.CategoryCount, percent bool) []Row {
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	rows := make([]Row, 0, len(counts))
	for _, c := range counts {
		v := float64(c.Count)
		if percent && total > 0 {
			v = v * 100 / float64(total)
		}
		rows = append(rows, Row{Category: c.Category, Value: v})
	}
	return rows
}

// Options labels the exported workbook.
type Options struct {
	ModelID string
	Percent bool
}

func (o Options) valueHeader() string {
	if o.Percent {
		return "Share (%)"
	}
	return "Count"
}

// Write renders counts as a workbook to w.
func Write(w io.Writer, counts []storage.CategoryCount, opts Options) error {
	if len(counts) == 0 {
		return ErrNoData
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := []interface{}{"Category", opts.valueHeader()}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rows := Rows(counts, opts.Percent)
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{r.Category, r.Value}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if opts.ModelID != "" {
		if err := f.SetCellValue(sheet, "D1", "Model"); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, "E1", opts.ModelID); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 24)

	last := len(rows) + 1
	err := f.AddChart(sheet, "G2", &excelize.Chart{
		Type: excelize.Col,
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("%s!$B$1", sheet),
			Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheet, last),
			Values:     fmt.Sprintf("%s!$B$2:$B$%d", sheet, last),
		}},
		Legend: excelize.ChartLegend{Position: "none"},
	})
	if err != nil {
		return fmt.Errorf("add chart: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteFile renders counts to the workbook at path, creating parent directories.
func WriteFile(path string, counts []storage.CategoryCount, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Write(out, counts, opts); err != nil {
		out.Close()
		_ = os.Remove(path)
		return err
	}
	return out.Close()
}
