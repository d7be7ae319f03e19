package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
)

// Derived columns written by reports and skipped on ingest
const (
	ColGHG          = "GHG_kgCO2e"
	ColCarbonCost   = "Carbon_Cost_USD"
	ColAnomaly         = "Anomaly"
	ColAnomalyScore    = "Anomaly_Score"
	ColAnomalyDecision = "Anomaly_Decision"

	// EmissionsSuffix names per-operation breakdown columns, e.g. Mixing_Emissions
	EmissionsSuffix = "_Emissions"
)

var (
	requiredColumns = []string{ColBatchID, ColProduct}
	derivedColumns  = sets.New[string](ColGHG, ColCarbonCost, ColAnomaly, ColAnomalyScore, ColAnomalyDecision)
	knownColumns    = sets.New[string](QuantityColumns()...)
)

// IsDerivedColumn reports whether a column is computed by reporting rather than ingested
func IsDerivedColumn(name string) bool {
	return derivedColumns.Has(name) || strings.HasSuffix(name, EmissionsSuffix)
}

// MissingColumnsError is returned when required identity columns are absent
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// ParseError locates an unparsable cell. Row is 1-based over data rows.
type ParseError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d, column %s: invalid value %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errDuplicateID = errors.New("duplicate batch id")

// ReadCSV parses a delimited batch table. Batch_ID and Product are required; recognized
// quantity columns must be numeric; absent or empty quantity cells are left unset.
func ReadCSV(r io.Reader) ([]*Record, error) {
	return ReadTable(r, requiredColumns...)
}

// ReadTable parses a delimited table requiring only the named columns. Batch_ID is
// always required. Empty Product cells are accepted when Product is not required.
func ReadTable(r io.Reader, required ...string) ([]*Record, error) {
	if !sets.New[string](required...).Has(ColBatchID) {
		required = append([]string{ColBatchID}, required...)
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &MissingColumnsError{Columns: required}
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	present := sets.New[string](header...)
	var missing []string
	for _, c := range required {
		if !present.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	productRequired := sets.New[string](required...).Has(ColProduct)
	var records []*Record
	seen := make(map[int]bool)
	for row := 1; ; row++ {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", row, err)
		}

		rec, err := parseRow(row, header, cells, productRequired)
		if err != nil {
			return nil, err
		}
		if seen[rec.ID] {
			return nil, &ParseError{Row: row, Column: ColBatchID, Value: strconv.Itoa(rec.ID), Err: errDuplicateID}
		}
		seen[rec.ID] = true
		records = append(records, rec)
	}

	klog.V(2).InfoS("Ingested batch table", "rows", len(records), "columns", len(header), "required", required)
	return records, nil
}

func parseRow(row int, header, cells []string, productRequired bool) (*Record, error) {
	rec := &Record{Quantities: make(map[string]float64)}
	for i, col := range header {
		if i >= len(cells) {
			break
		}
		value := strings.TrimSpace(cells[i])

		switch {
		case col == ColBatchID:
			id, err := strconv.Atoi(value)
			if err == nil && id <= 0 {
				err = errors.New("must be a positive integer")
			}
			if err != nil {
				return nil, &ParseError{Row: row, Column: col, Value: value, Err: err}
			}
			rec.ID = id
		case col == ColProduct:
			if value == "" && !productRequired {
				continue
			}
			p, err := ParseProduct(value)
			if err != nil {
				return nil, &ParseError{Row: row, Column: col, Value: value, Err: err}
			}
			rec.Product = p
		case col == ColPrevProduct:
			if value == "" {
				continue
			}
			p, err := ParseProduct(value)
			if err != nil {
				return nil, &ParseError{Row: row, Column: col, Value: value, Err: err}
			}
			rec.PrevProduct = p
		case col == ColChangeover:
			if value == "" {
				continue
			}
			b, err := parseFlag(value)
			if err != nil {
				return nil, &ParseError{Row: row, Column: col, Value: value, Err: err}
			}
			rec.Changeover = b
		case col == ColCleaningScale:
			if value == "" {
				continue
			}
			v, err := strconv.ParseFloat(value, 64)
			if err == nil && v <= 0 {
				err = errors.New("must be positive")
			}
			if err != nil {
				return nil, &ParseError{Row: row, Column: col, Value: value, Err: err}
			}
			rec.CleaningScale = v
		case IsDerivedColumn(col), value == "":
			continue
		default:
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				if knownColumns.Has(col) {
					return nil, &ParseError{Row: row, Column: col, Value: value, Err: err}
				}
				klog.V(4).InfoS("Skipping non-numeric extra column", "row", row, "column", col)
				continue
			}
			rec.Quantities[col] = v
		}
	}
	if rec.ID == 0 {
		return nil, &ParseError{Row: row, Column: ColBatchID, Value: "", Err: errors.New("missing value")}
	}
	return rec, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean flag")
}

// Header returns the batch columns written for a sequence: identity, sequencing, known
// quantities present in any record, then extra columns sorted by name
func Header(records []*Record) []string {
	header := []string{ColBatchID, ColProduct, ColPrevProduct, ColChangeover, ColCleaningScale}
	for _, c := range QuantityColumns() {
		for _, r := range records {
			if r.Has(c) {
				header = append(header, c)
				break
			}
		}
	}
	return append(header, ExtraColumns(records)...)
}

// Cells renders a record against a header; absent quantities render empty
func (r *Record) Cells(header []string) []string {
	cells := make([]string, len(header))
	for i, col := range header {
		switch col {
		case ColBatchID:
			cells[i] = strconv.Itoa(r.ID)
		case ColProduct:
			cells[i] = string(r.Product)
		case ColPrevProduct:
			cells[i] = string(r.PrevProduct)
		case ColChangeover:
			cells[i] = "0"
			if r.Changeover {
				cells[i] = "1"
			}
		case ColCleaningScale:
			cells[i] = FormatFloat(r.Scale())
		default:
			if v, ok := r.Quantities[col]; ok {
				cells[i] = FormatFloat(v)
			}
		}
	}
	return cells
}

// FormatFloat renders a value with the shortest exact representation
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes the batch table without derived columns
func WriteCSV(w io.Writer, records []*Record) error {
	writer := csv.NewWriter(w)
	header := Header(records)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if err := writer.Write(r.Cells(header)); err != nil {
			return fmt.Errorf("failed to write batch %d: %w", r.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
