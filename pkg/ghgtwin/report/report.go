package report

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/anomaly"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/unitop"
)

var kgPerTon = decimal.NewFromInt(1000)

// CarbonCost prices kgCO2e at a $/ton CO2e rate
func CarbonCost(kgCO2e, pricePerTon float64) decimal.Decimal {
	return decimal.NewFromFloat(kgCO2e).Div(kgPerTon).Mul(decimal.NewFromFloat(pricePerTon))
}

// BatchResult is the derived view of one batch
type BatchResult struct {
	BatchID     int                `json:"batchId"`
	Product     batch.Product      `json:"product"`
	PrevProduct batch.Product      `json:"prevProduct,omitempty"`
	Changeover  bool               `json:"changeover"`
	GHG         float64            `json:"ghgKgCO2e"`
	Operations  unitop.Breakdown   `json:"operations"`
	CarbonCost  decimal.Decimal    `json:"carbonCostUSD"`
	Quantities  map[string]float64 `json:"quantities"`
	Anomaly     *anomaly.Result    `json:"anomaly,omitempty"`
}

// ProductSummary aggregates one product category
type ProductSummary struct {
	Batches  int     `json:"batches"`
	TotalGHG float64 `json:"totalGhgKgCO2e"`
	MeanGHG  float64 `json:"meanGhgKgCO2e"`
}

// Summary holds run-level statistics of per-batch GHG
type Summary struct {
	Batches   int                              `json:"batches"`
	TotalGHG  float64                          `json:"totalGhgKgCO2e"`
	MeanGHG   float64                          `json:"meanGhgKgCO2e"`
	StdDevGHG float64                          `json:"stdDevGhgKgCO2e"`
	MinGHG    float64                          `json:"minGhgKgCO2e"`
	MaxGHG    float64                          `json:"maxGhgKgCO2e"`
	MedianGHG float64                          `json:"medianGhgKgCO2e"`
	P90GHG    float64                          `json:"p90GhgKgCO2e"`
	ByProduct map[batch.Product]ProductSummary `json:"byProduct"`
}

// Report is the full derived output of a run
type Report struct {
	RunID           string           `json:"runId"`
	Scenario        string           `json:"scenario"`
	GeneratedAt     time.Time        `json:"generatedAt"`
	CarbonPrice     float64          `json:"carbonPricePerTon"`
	Changeovers     int              `json:"changeovers"`
	CarbonCost      decimal.Decimal  `json:"carbonCostUSD"`
	Summary         Summary          `json:"summary"`
	Operations      unitop.Breakdown `json:"operations"`
	Batches         []BatchResult    `json:"batches"`
	Series          []Point          `json:"series"`
	AnomalyFeatures []string         `json:"anomalyFeatures,omitempty"`
	Anomalies       int              `json:"anomalies"`

	records []*batch.Record
}

// Options carries run metadata into Build
type Options struct {
	RunID         string
	Scenario      string
	GeneratedAt   time.Time
	CarbonPrice   float64
	Substitutions map[string]string
}

// Build computes per-batch emissions, the per-operation totals and the summary for an
// already sequenced list of records
func Build(records []*batch.Record, model *emission.Model, opts Options) *Report {
	r := &Report{
		RunID:       opts.RunID,
		Scenario:    opts.Scenario,
		GeneratedAt: opts.GeneratedAt,
		CarbonPrice: opts.CarbonPrice,
		Batches:     make([]BatchResult, len(records)),
		Series:      make([]Point, len(records)),
		records:     records,
	}

	totals := make([]float64, len(records))
	for i, rec := range records {
		ops := rec.Emissions(model, opts.Substitutions)
		ghg := ops.Total()
		totals[i] = ghg
		r.Operations.Add(ops)
		if rec.Changeover {
			r.Changeovers++
		}

		quantities := make(map[string]float64, len(rec.Quantities))
		for k, v := range rec.Quantities {
			quantities[k] = v
		}
		r.Batches[i] = BatchResult{
			BatchID:     rec.ID,
			Product:     rec.Product,
			PrevProduct: rec.PrevProduct,
			Changeover:  rec.Changeover,
			GHG:         ghg,
			Operations:  ops,
			CarbonCost:  CarbonCost(ghg, opts.CarbonPrice),
			Quantities:  quantities,
		}
		r.Series[i] = Point{X: float64(rec.ID), Y: ghg}
	}

	r.Summary = Summarize(r.Batches)
	r.CarbonCost = CarbonCost(r.Summary.TotalGHG, opts.CarbonPrice)
	return r
}

// Summarize computes statistics over per-batch GHG totals
func Summarize(batches []BatchResult) Summary {
	s := Summary{
		Batches:   len(batches),
		ByProduct: make(map[batch.Product]ProductSummary),
	}
	if len(batches) == 0 {
		return s
	}

	values := make([]float64, len(batches))
	for i, b := range batches {
		values[i] = b.GHG
		s.TotalGHG += b.GHG

		ps := s.ByProduct[b.Product]
		ps.Batches++
		ps.TotalGHG += b.GHG
		s.ByProduct[b.Product] = ps
	}
	for p, ps := range s.ByProduct {
		ps.MeanGHG = ps.TotalGHG / float64(ps.Batches)
		s.ByProduct[p] = ps
	}

	s.MeanGHG, s.StdDevGHG = stat.MeanStdDev(values, nil)
	if math.IsNaN(s.StdDevGHG) {
		s.StdDevGHG = 0
	}

	sort.Float64s(values)
	s.MinGHG = values[0]
	s.MaxGHG = values[len(values)-1]
	s.MedianGHG = stat.Quantile(0.5, stat.Empirical, values, nil)
	s.P90GHG = stat.Quantile(0.9, stat.Empirical, values, nil)
	return s
}

// AttachAnomalies joins detector output onto the batches by batch ID
func (r *Report) AttachAnomalies(results []anomaly.Result, features []string) {
	byID := make(map[int]anomaly.Result, len(results))
	for _, res := range results {
		byID[res.BatchID] = res
	}
	r.AnomalyFeatures = features
	r.Anomalies = 0
	for i := range r.Batches {
		res, ok := byID[r.Batches[i].BatchID]
		if !ok {
			continue
		}
		r.Batches[i].Anomaly = &res
		if res.Label == anomaly.Anomalous {
			r.Anomalies++
		}
	}
}

// Records returns the sequenced records the report was built from
func (r *Report) Records() []*batch.Record {
	return r.records
}

// Downsampled returns the GHG-per-batch series reduced to at most maxPoints. A
// non-positive maxPoints returns the full series.
func (r *Report) Downsampled(strategy DownsamplingStrategy, maxPoints int) []Point {
	if strategy == nil {
		strategy = &LTTBDownsampling{}
	}
	return strategy.Downsample(r.Series, maxPoints)
}

// WithSeries returns a shallow copy of the report carrying a different chart series
func (r *Report) WithSeries(series []Point) *Report {
	out := *r
	out.Series = series
	return &out
}
