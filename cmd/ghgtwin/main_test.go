package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/anomaly"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulateText(t *testing.T) {
	out, err := execute(t, "simulate", "--batches", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "Batches")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "Mixing")
	assert.Contains(t, out, "StreamGeneration")
}

func TestSimulateJSON(t *testing.T) {
	out, err := execute(t, "simulate", "--batches", "8", "--scenario", "green materials", "-o", "json")
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "Green Materials", body["scenario"])
	assert.Len(t, body["batches"], 8)
}

func TestSimulateExport(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "batches.csv")
	xlsxPath := filepath.Join(dir, "batches.xlsx")

	_, err := execute(t, "simulate", "--batches", "6", "--out", csvPath)
	require.NoError(t, err)
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := batch.ReadCSV(f)
	require.NoError(t, err)
	assert.Len(t, records, 6)

	_, err = execute(t, "simulate", "--batches", "6", "--out", xlsxPath)
	require.NoError(t, err)
	wb, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer wb.Close()
	assert.Contains(t, wb.GetSheetList(), "Batches")
}

func TestSimulateInvalid(t *testing.T) {
	_, err := execute(t, "simulate", "--batches", "1000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario.batches")

	_, err = execute(t, "simulate", "-o", "yaml")
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "batches.csv")
	_, err := execute(t, "simulate", "--batches", "10", "--out", csvPath)
	require.NoError(t, err)

	out, err := execute(t, "analyze", csvPath, "--optimize", "-o", "json")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.LessOrEqual(t, body["changeovers"].(float64), 2.0)

	_, err = execute(t, "analyze", filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("Product\ntablet\n"), 0o644))
	_, err = execute(t, "analyze", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Batch_ID")
}

func TestCompare(t *testing.T) {
	out, err := execute(t, "compare", "Low Steam", "--batches", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "Baseline")
	assert.Contains(t, out, "Low Steam")
	assert.Contains(t, out, "Change in mean GHG")

	_, err = execute(t, "compare", "Solar")
	assert.Error(t, err)
}

func TestAnomalies(t *testing.T) {
	dir := t.TempDir()
	labels := filepath.Join(dir, "labels.csv")

	out, err := execute(t, "anomalies", "--sample", "--out", labels)
	require.NoError(t, err)
	assert.Contains(t, out, "Anomalies")

	data, err := os.ReadFile(labels)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 101)
	assert.Equal(t, "Batch_ID,Anomaly,Anomaly_Score,Anomaly_Decision", lines[0])

	_, err = execute(t, "anomalies")
	assert.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriteAnomalyRows(t *testing.T) {
	results := []anomaly.Result{
		{BatchID: 1, Label: anomaly.Normal, Score: 0.42, Decision: 0.08},
		{BatchID: 2, Label: anomaly.Anomalous, Score: 0.73, Decision: -0.23},
	}

	var buf bytes.Buffer
	require.NoError(t, writeAnomalyRows(&buf, results))
	assert.Equal(t, "Batch_ID,Anomaly,Anomaly_Score,Anomaly_Decision\n"+
		"1,Normal,0.42,0.08\n"+
		"2,Anomalous,0.73,-0.23\n", buf.String())

	assert.EqualError(t, writeAnomalyRows(failingWriter{}, results), "disk full")
}

func TestMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghgtwin.prom")
	_, err := execute(t, "simulate", "--batches", "5", "--metrics-textfile", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ghgtwin_runs_total")
	assert.Contains(t, string(data), "# TYPE ghgtwin_batch_ghg_kgco2e histogram")
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenario:\n  name: Plant A\n  batches: 4\n"), 0o644))

	out, err := execute(t, "simulate", "--config", path, "-o", "json")
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "Plant A", body["scenario"])
	assert.Len(t, body["batches"], 4)
}
