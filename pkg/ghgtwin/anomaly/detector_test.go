package anomaly

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/control"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
)

func defaultDetector() *Detector {
	return NewDetector(config.Default().Anomaly, emission.NewDefaultModel())
}

// injectedDataset returns n clean rows followed by five rows far outside the bulk
func injectedDataset(seed uint64, n int) ([]*batch.Record, map[int]bool) {
	records := SampleDataset(seed)[:n]
	for i, r := range records {
		r.ID = i + 1
		// undo the planted sample anomalies so the bulk is clean
		for _, inj := range SampleInjections {
			if inj.Row == i {
				r.Set(inj.Column, r.Get(inj.Column)-inj.Delta)
			}
		}
	}

	outliers := map[int]bool{}
	for k := 0; k < 5; k++ {
		r := &batch.Record{ID: n + k + 1, Quantities: map[string]float64{}}
		sign := float64(1 - 2*(k%2))
		for _, d := range sampleDraws {
			r.Set(d.Column, d.Mean+sign*10*d.SD*(1+0.1*float64(k)))
		}
		records = append(records, r)
		outliers[r.ID] = true
	}
	return records, outliers
}

func TestDetectFlagsInjectedOutliers(t *testing.T) {
	for _, seed := range []uint64{1, 7, 42, 99, 123} {
		records, outliers := injectedDataset(seed, 95)
		cfg := config.Default().Anomaly
		cfg.Seed = seed

		results, features, err := NewDetector(cfg, nil).Detect(records)
		require.NoError(t, err)
		assert.Equal(t, DefaultFeatures, features)
		require.Len(t, results, 100)

		flagged := map[int]bool{}
		for _, r := range results {
			if r.Label == Anomalous {
				flagged[r.BatchID] = true
				assert.Less(t, r.Decision, 0.0)
			} else {
				assert.GreaterOrEqual(t, r.Decision, 0.0)
			}
		}
		assert.Equal(t, outliers, flagged, "seed %d", seed)
	}
}

func TestDetectSampleDataset(t *testing.T) {
	records := SampleDataset(42)
	results, _, err := defaultDetector().Detect(records)
	require.NoError(t, err)

	anomalous := 0
	caught := 0
	for i, r := range results {
		if r.Label != Anomalous {
			continue
		}
		anomalous++
		for _, inj := range SampleInjections {
			if inj.Row == i {
				caught++
			}
		}
	}
	assert.Equal(t, 5, anomalous)
	assert.GreaterOrEqual(t, caught, 3)
}

func TestDetectIsReproducible(t *testing.T) {
	records := SampleDataset(3)
	a, _, err := defaultDetector().Detect(records)
	require.NoError(t, err)
	b, _, err := defaultDetector().Detect(records)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDetectDoesNotModifyRecords(t *testing.T) {
	records := SampleDataset(5)
	before := batch.CloneAll(records)
	_, _, err := defaultDetector().Detect(records)
	require.NoError(t, err)
	assert.Equal(t, before, records)
}

func TestDetectDerivesFeaturesFromBatchColumns(t *testing.T) {
	s := config.Default().Scenario
	s.Batches = 60
	records := batch.NewGenerator(s, control.NewDefault(), nil).Generate()

	results, features, err := defaultDetector().Detect(records)
	require.NoError(t, err)
	assert.Equal(t, DefaultFeatures, features)
	assert.Len(t, results, 60)

	d := defaultDetector()
	energy, ok := d.value(records[0], FeatureEnergy)
	require.True(t, ok)
	expected := records[0].Get(batch.ColMixingEnergy) + records[0].Get(batch.ColFiltrationEnergy) +
		records[0].Get(batch.ColDryingEnergy) + records[0].Get(batch.ColCleaningEnergy)
	assert.InDelta(t, expected, energy, 1e-9)

	ghg, ok := d.value(records[0], FeatureGHG)
	require.True(t, ok)
	assert.InDelta(t, emission.NewDefaultModel().Total(records[0], batch.EmissionFields), ghg, 1e-9)
}

func TestDetectGHGCountsForecastAggregates(t *testing.T) {
	r := batch.NewRecord(1, batch.Tablet)
	r.Set(batch.ColEnergy, 1200)
	r.Set(batch.ColSteamPerBatch, 300)
	r.Set(batch.ColLactose, 100)

	d := defaultDetector()
	energy, ok := d.value(r, FeatureEnergy)
	require.True(t, ok)
	assert.Equal(t, 1200.0, energy)

	ghg, ok := d.value(r, FeatureGHG)
	require.True(t, ok)
	assert.InDelta(t, 1200*0.9+300*0.07+100*1.5, ghg, 1e-9)
	assert.InDelta(t, r.Emissions(emission.NewDefaultModel(), nil).Total(), ghg, 1e-9)
}

func TestDetectMissingFeatures(t *testing.T) {
	records := SampleDataset(42)
	for _, r := range records {
		delete(r.Quantities, FeatureSteam)
	}

	t.Run("requested feature missing", func(t *testing.T) {
		cfg := config.Default().Anomaly
		cfg.Features = []string{FeatureEnergy, FeatureSteam}
		_, _, err := NewDetector(cfg, nil).Detect(records)

		var mfe *MissingFeaturesError
		require.True(t, errors.As(err, &mfe))
		assert.Equal(t, []string{FeatureSteam}, mfe.Features)
	})

	t.Run("defaults fall back to present subset", func(t *testing.T) {
		_, features, err := defaultDetector().Detect(records)
		require.NoError(t, err)
		assert.NotContains(t, features, FeatureSteam)
		assert.Len(t, features, 5)
	})

	t.Run("partially missing in one row", func(t *testing.T) {
		rows := SampleDataset(42)
		delete(rows[50].Quantities, FeatureCycle)
		cfg := config.Default().Anomaly
		cfg.Features = []string{FeatureCycle}
		_, _, err := NewDetector(cfg, nil).Detect(rows)
		var mfe *MissingFeaturesError
		require.True(t, errors.As(err, &mfe))
	})

	t.Run("nothing available", func(t *testing.T) {
		rows := []*batch.Record{{ID: 1, Quantities: map[string]float64{"Operator_Hours": 3}}}
		_, _, err := NewDetector(config.Default().Anomaly, nil).Detect(rows)
		var mfe *MissingFeaturesError
		require.True(t, errors.As(err, &mfe))
		assert.Equal(t, DefaultFeatures, mfe.Features)
	})
}

func TestDetectEmpty(t *testing.T) {
	results, _, err := defaultDetector().Detect(nil)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestThreshold(t *testing.T) {
	scores := []float64{0.4, 0.9, 0.5, 0.7, 0.45}
	assert.InDelta(t, 0.6, Threshold(scores, 2), 1e-12)
	assert.Equal(t, 0.9, Threshold(scores, 0))
	assert.Less(t, Threshold(scores, 5), 0.4)
}

func TestAveragePath(t *testing.T) {
	assert.Equal(t, 0.0, averagePath(1))
	assert.Equal(t, 1.0, averagePath(2))
	assert.InDelta(t, 10.24, averagePath(256), 0.01)
}

func TestForestScoresOutlierHigher(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, 200)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}
	f := Fit(data, 100, 128, rand.New(rand.NewSource(2)))

	inlier := f.Score([]float64{0, 0})
	outlier := f.Score([]float64{8, -8})
	assert.Greater(t, outlier, inlier)
	assert.False(t, math.IsNaN(inlier))
	assert.LessOrEqual(t, outlier, 1.0)
}

func TestSampleDataset(t *testing.T) {
	a := SampleDataset(42)
	b := SampleDataset(42)
	require.Len(t, a, SampleRows)
	assert.Equal(t, a, b)
	for i, r := range a {
		assert.Equal(t, i+1, r.ID)
		assert.Len(t, r.Quantities, len(DefaultFeatures))
	}
}
