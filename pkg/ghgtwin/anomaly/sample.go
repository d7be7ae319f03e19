package anomaly

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
)

// SampleRows is the size of the sample KPI table
const SampleRows = 100

// sampleDraws are drawn column by column in this order
var sampleDraws = []batch.Draw{
	{Column: FeatureEnergy, Mean: 1200, SD: 100},
	{Column: FeatureGHG, Mean: 150, SD: 20},
	{Column: FeatureYield, Mean: 92, SD: 3},
	{Column: FeatureSteam, Mean: 300, SD: 40},
	{Column: FeatureDowntime, Mean: 20, SD: 10},
	{Column: FeatureCycle, Mean: 250, SD: 20},
}

// Injection is a shift applied to one cell of the sample table. Row is 0-based.
type Injection struct {
	Row    int
	Column string
	Delta  float64
}

// SampleInjections are the anomalies planted in the sample table
var SampleInjections = []Injection{
	{Row: 10, Column: FeatureSteam, Delta: 200},
	{Row: 25, Column: FeatureDowntime, Delta: 80},
	{Row: 70, Column: FeatureCycle, Delta: 100},
	{Row: 33, Column: FeatureEnergy, Delta: 400},
	{Row: 67, Column: FeatureYield, Delta: -15},
}

// SampleDataset returns a reproducible KPI table of SampleRows batches with
// SampleInjections applied. Records carry no product.
func SampleDataset(seed uint64) []*batch.Record {
	src := rand.NewSource(seed)
	records := make([]*batch.Record, SampleRows)
	for i := range records {
		records[i] = &batch.Record{ID: i + 1, CleaningScale: 1, Quantities: make(map[string]float64)}
	}
	for _, d := range sampleDraws {
		dist := distuv.Normal{Mu: d.Mean, Sigma: d.SD, Src: src}
		for _, r := range records {
			r.Set(d.Column, dist.Rand())
		}
	}
	for _, inj := range SampleInjections {
		r := records[inj.Row]
		r.Set(inj.Column, r.Get(inj.Column)+inj.Delta)
	}
	return records
}
