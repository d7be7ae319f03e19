package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/unitop"
)

// Sheet names of the workbook export
const (
	SheetBatches    = "Batches"
	SheetOperations = "Operations"
	SheetSummary    = "Summary"
)

// header returns the batch columns followed by the derived columns
func (r *Report) header() []string {
	header := batch.Header(r.records)
	for _, k := range unitop.Kinds() {
		header = append(header, k.String()+batch.EmissionsSuffix)
	}
	header = append(header, batch.ColGHG, batch.ColCarbonCost)
	if r.AnomalyFeatures != nil {
		header = append(header, batch.ColAnomaly, batch.ColAnomalyScore, batch.ColAnomalyDecision)
	}
	return header
}

// rows renders every batch as strings against header
func (r *Report) rows(header []string) [][]string {
	base := len(batch.Header(r.records))
	out := make([][]string, len(r.records))
	for i, rec := range r.records {
		cells := rec.Cells(header[:base])
		res := r.Batches[i]
		for _, k := range unitop.Kinds() {
			cells = append(cells, batch.FormatFloat(res.Operations[k]))
		}
		cells = append(cells, batch.FormatFloat(res.GHG), res.CarbonCost.String())
		if r.AnomalyFeatures != nil {
			if res.Anomaly != nil {
				cells = append(cells, string(res.Anomaly.Label),
					batch.FormatFloat(res.Anomaly.Score), batch.FormatFloat(res.Anomaly.Decision))
			} else {
				cells = append(cells, "", "", "")
			}
		}
		out[i] = cells
	}
	return out
}

// WriteCSV writes the batch table with derived columns. The output can be ingested
// again with batch.ReadCSV; derived columns are skipped on ingest.
func (r *Report) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	header := r.header()
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range r.rows(header) {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// Workbook builds an XLSX workbook with Batches, Operations and Summary sheets. The
// caller must Close the returned file.
func (r *Report) Workbook() (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SheetBatches); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetOperations, SheetSummary} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := r.writeBatchesSheet(f, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.writeOperationsSheet(f, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.writeSummarySheet(f, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, 18); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) writeBatchesSheet(f *excelize.File, style int) error {
	header := r.header()
	if err := writeHeader(f, SheetBatches, header, style); err != nil {
		return fmt.Errorf("failed to write %s header: %w", SheetBatches, err)
	}

	base := len(batch.Header(r.records))
	for i, rec := range r.records {
		res := r.Batches[i]
		row := make([]interface{}, 0, len(header))
		for _, col := range header[:base] {
			switch col {
			case batch.ColBatchID:
				row = append(row, rec.ID)
			case batch.ColProduct:
				row = append(row, string(rec.Product))
			case batch.ColPrevProduct:
				row = append(row, string(rec.PrevProduct))
			case batch.ColChangeover:
				row = append(row, boolToInt(rec.Changeover))
			case batch.ColCleaningScale:
				row = append(row, rec.Scale())
			default:
				if v, ok := rec.Quantities[col]; ok {
					row = append(row, v)
				} else {
					row = append(row, nil)
				}
			}
		}
		for _, k := range unitop.Kinds() {
			row = append(row, res.Operations[k])
		}
		row = append(row, res.GHG, res.CarbonCost.InexactFloat64())
		if r.AnomalyFeatures != nil {
			if res.Anomaly != nil {
				row = append(row, string(res.Anomaly.Label), res.Anomaly.Score, res.Anomaly.Decision)
			} else {
				row = append(row, nil, nil, nil)
			}
		}

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetBatches, cell, &row); err != nil {
			return fmt.Errorf("failed to write batch %d: %w", rec.ID, err)
		}
	}
	return nil
}

func (r *Report) writeOperationsSheet(f *excelize.File, style int) error {
	if err := writeHeader(f, SheetOperations, []string{"Operation", "GHG_kgCO2e", "Share_%"}, style); err != nil {
		return fmt.Errorf("failed to write %s header: %w", SheetOperations, err)
	}
	total := r.Operations.Total()
	for i, k := range unitop.Kinds() {
		share := 0.0
		if total != 0 {
			share = r.Operations[k] / total * 100
		}
		row := []interface{}{k.String(), r.Operations[k], share}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetOperations, cell, &row); err != nil {
			return fmt.Errorf("failed to write operation %s: %w", k, err)
		}
	}
	return nil
}

func (r *Report) writeSummarySheet(f *excelize.File, style int) error {
	if err := writeHeader(f, SheetSummary, []string{"Metric", "Value"}, style); err != nil {
		return fmt.Errorf("failed to write %s header: %w", SheetSummary, err)
	}
	s := r.Summary
	rows := [][]interface{}{
		{"Run ID", r.RunID},
		{"Scenario", r.Scenario},
		{"Batches", s.Batches},
		{"Changeovers", r.Changeovers},
		{"Total GHG (kgCO2e)", s.TotalGHG},
		{"Mean GHG per batch (kgCO2e)", s.MeanGHG},
		{"Std dev GHG (kgCO2e)", s.StdDevGHG},
		{"Median GHG (kgCO2e)", s.MedianGHG},
		{"P90 GHG (kgCO2e)", s.P90GHG},
		{"Carbon price ($/ton)", r.CarbonPrice},
		{"Carbon cost ($)", r.CarbonCost.StringFixed(2)},
		{"Anomalies", r.Anomalies},
	}
	for _, p := range batch.Products() {
		if ps, ok := s.ByProduct[p]; ok {
			rows = append(rows, []interface{}{fmt.Sprintf("Mean GHG %s (kgCO2e)", p), ps.MeanGHG})
		}
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetSummary, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	return nil
}

// WriteXLSX writes the workbook to w
func (r *Report) WriteXLSX(w io.Writer) error {
	f, err := r.Workbook()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Export writes the report to path as CSV or XLSX depending on the extension
func (r *Report) Export(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		f, err := r.Workbook()
		if err != nil {
			return err
		}
		defer f.Close()
		if err := f.SaveAs(path); err != nil {
			return fmt.Errorf("failed to save Excel file: %w", err)
		}
	case ".csv", "":
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := r.WriteCSV(out); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}

	klog.V(2).InfoS("Exported report", "path", path, "batches", len(r.records))
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
