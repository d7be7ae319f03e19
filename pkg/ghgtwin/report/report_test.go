package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/anomaly"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/control"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/sequence"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/unitop"
)

func generated(t *testing.T, n int) []*batch.Record {
	t.Helper()
	cfg := config.Default()
	s := cfg.Scenario
	s.Batches = n
	records := batch.NewGenerator(s, control.NewDefault(), batch.DefaultSetpoints(cfg.Control)).Generate()
	sequence.Apply(records, s.ChangeoverPenalty)
	return records
}

func TestCarbonCost(t *testing.T) {
	tests := []struct {
		kg, price float64
		expected  string
	}{
		{1000, 50, "50"},
		{2500, 40, "100"},
		{123.4, 50, "6.17"},
		{0, 50, "0"},
		{500, 0, "0"},
	}
	for _, tc := range tests {
		got := CarbonCost(tc.kg, tc.price)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.expected)), "got %s want %s", got, tc.expected)
	}
}

func TestBuild(t *testing.T) {
	m := emission.NewDefaultModel()
	a := batch.NewRecord(1, batch.Tablet)
	a.Set(batch.ColHVAC, 100)
	b := batch.NewRecord(2, batch.Inhaler)
	b.Set(batch.ColSteam, 1000)
	b.Changeover = true

	r := Build([]*batch.Record{a, b}, m, Options{RunID: "run-1", Scenario: "test", CarbonPrice: 50})

	require.Len(t, r.Batches, 2)
	assert.InDelta(t, 70, r.Batches[0].GHG, 1e-9)
	assert.InDelta(t, 70, r.Batches[1].GHG, 1e-9)
	assert.InDelta(t, 70, r.Operations[unitop.HVAC], 1e-9)
	assert.InDelta(t, 70, r.Operations[unitop.StreamGeneration], 1e-9)
	assert.Equal(t, 1, r.Changeovers)
	assert.InDelta(t, 140, r.Summary.TotalGHG, 1e-9)
	assert.InDelta(t, 7, r.CarbonCost.InexactFloat64(), 1e-9)
	assert.Equal(t, []Point{{1, r.Batches[0].GHG}, {2, r.Batches[1].GHG}}, r.Series)
	assert.Equal(t, 1, r.Summary.ByProduct[batch.Tablet].Batches)
}

func TestCarbonCostMatchesRecomputation(t *testing.T) {
	records := generated(t, 100)
	m := emission.NewDefaultModel()
	r := Build(records, m, Options{CarbonPrice: 50})

	sum := 0.0
	for _, rec := range records {
		sum += m.Total(rec, batch.EmissionFields)
	}
	assert.InDelta(t, sum/1000*50, r.CarbonCost.InexactFloat64(), 1e-6)
	assert.InDelta(t, r.Operations.Total(), r.Summary.TotalGHG, 1e-6)
}

func TestSummarize(t *testing.T) {
	batches := []BatchResult{
		{Product: batch.Tablet, GHG: 10},
		{Product: batch.Tablet, GHG: 20},
		{Product: batch.Other, GHG: 30},
		{Product: batch.Inhaler, GHG: 40},
	}
	s := Summarize(batches)
	assert.Equal(t, 4, s.Batches)
	assert.Equal(t, 100.0, s.TotalGHG)
	assert.Equal(t, 25.0, s.MeanGHG)
	assert.Equal(t, 10.0, s.MinGHG)
	assert.Equal(t, 40.0, s.MaxGHG)
	assert.Equal(t, 20.0, s.MedianGHG)
	assert.Equal(t, 40.0, s.P90GHG)
	assert.Equal(t, ProductSummary{Batches: 2, TotalGHG: 30, MeanGHG: 15}, s.ByProduct[batch.Tablet])

	single := Summarize(batches[:1])
	assert.Equal(t, 0.0, single.StdDevGHG)
	assert.False(t, math.IsNaN(single.MeanGHG))

	empty := Summarize(nil)
	assert.Zero(t, empty.Batches)
}

func TestReportJSON(t *testing.T) {
	r := Build(generated(t, 5), emission.NewDefaultModel(), Options{RunID: "abc", CarbonPrice: 50, GeneratedAt: time.Unix(0, 0).UTC()})
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc", decoded["runId"])
	assert.Len(t, decoded["batches"], 5)
	ops, ok := decoded["operations"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, ops, "Mixing")
}

func TestAttachAnomalies(t *testing.T) {
	r := Build(generated(t, 3), emission.NewDefaultModel(), Options{})
	r.AttachAnomalies([]anomaly.Result{
		{BatchID: 2, Label: anomaly.Anomalous, Decision: -0.1},
		{BatchID: 3, Label: anomaly.Normal, Decision: 0.1},
	}, []string{anomaly.FeatureEnergy})

	assert.Nil(t, r.Batches[0].Anomaly)
	require.NotNil(t, r.Batches[1].Anomaly)
	assert.Equal(t, anomaly.Anomalous, r.Batches[1].Anomaly.Label)
	assert.Equal(t, 1, r.Anomalies)
}

func TestCSVAnomalyColumns(t *testing.T) {
	r := Build(generated(t, 3), emission.NewDefaultModel(), Options{})
	r.AttachAnomalies([]anomaly.Result{
		{BatchID: 2, Label: anomaly.Anomalous, Score: 0.71, Decision: -0.12},
	}, []string{anomaly.FeatureEnergy})

	var buf bytes.Buffer
	require.NoError(t, r.WriteCSV(&buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	header := rows[0]
	n := len(header)
	assert.Equal(t, []string{batch.ColAnomaly, batch.ColAnomalyScore, batch.ColAnomalyDecision}, header[n-3:])
	assert.Equal(t, []string{"Anomalous", "0.71", "-0.12"}, rows[2][n-3:])
	assert.Equal(t, []string{"", "", ""}, rows[1][n-3:])
}

func TestCSVExportRoundTrip(t *testing.T) {
	m := emission.NewDefaultModel()
	records := generated(t, 50)
	r := Build(records, m, Options{CarbonPrice: 50})
	r.AttachAnomalies([]anomaly.Result{{BatchID: 1, Label: anomaly.Normal}}, []string{anomaly.FeatureEnergy})

	var buf bytes.Buffer
	require.NoError(t, r.WriteCSV(&buf))

	back, err := batch.ReadCSV(&buf)
	require.NoError(t, err)
	sequence.Apply(back, config.Default().Scenario.ChangeoverPenalty)
	again := Build(back, m, Options{CarbonPrice: 50})

	require.Len(t, again.Batches, len(r.Batches))
	for i := range r.Batches {
		assert.InDelta(t, r.Batches[i].GHG, again.Batches[i].GHG, 1e-9, "batch %d", r.Batches[i].BatchID)
	}
	assert.InDelta(t, r.Summary.TotalGHG, again.Summary.TotalGHG, 1e-6)
	assert.Equal(t, r.Changeovers, again.Changeovers)
}

func TestWorkbook(t *testing.T) {
	r := Build(generated(t, 10), emission.NewDefaultModel(), Options{RunID: "wb", CarbonPrice: 50})

	var buf bytes.Buffer
	require.NoError(t, r.WriteXLSX(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetBatches, SheetOperations, SheetSummary}, f.GetSheetList())

	id, err := f.GetCellValue(SheetBatches, "A1")
	require.NoError(t, err)
	assert.Equal(t, batch.ColBatchID, id)

	rows, err := f.GetRows(SheetBatches)
	require.NoError(t, err)
	assert.Len(t, rows, 11)

	op, err := f.GetCellValue(SheetOperations, "A2")
	require.NoError(t, err)
	assert.Equal(t, "Mixing", op)

	runID, err := f.GetCellValue(SheetSummary, "B2")
	require.NoError(t, err)
	assert.Equal(t, "wb", runID)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	r := Build(generated(t, 4), emission.NewDefaultModel(), Options{CarbonPrice: 50})

	require.NoError(t, r.Export(filepath.Join(dir, "out.csv")))
	require.NoError(t, r.Export(filepath.Join(dir, "out.xlsx")))
	assert.Error(t, r.Export(filepath.Join(dir, "out.pdf")))
}
