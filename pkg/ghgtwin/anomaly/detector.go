package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/exp/rand"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
)

// Feature names, matching the KPI table columns
const (
	FeatureEnergy   = batch.ColEnergy
	FeatureGHG      = "GHG_kgCO2"
	FeatureYield    = batch.ColYield
	FeatureSteam    = batch.ColSteamPerBatch
	FeatureDowntime = batch.ColDowntime
	FeatureCycle    = batch.ColCycleTime
)

// DefaultFeatures is the KPI feature vector in column order
var DefaultFeatures = []string{FeatureEnergy, FeatureGHG, FeatureYield, FeatureSteam, FeatureDowntime, FeatureCycle}

// Label is the per-batch classification
type Label string

const (
	Normal    Label = "Normal"
	Anomalous Label = "Anomalous"
)

// Result is the verdict for one batch. Decision is negative for anomalous batches and
// positive for normal ones; Score is the raw isolation score in (0, 1].
type Result struct {
	BatchID  int     `json:"batchId"`
	Label    Label   `json:"label"`
	Score    float64 `json:"score"`
	Decision float64 `json:"decision"`
}

// MissingFeaturesError names requested features the data cannot provide
type MissingFeaturesError struct {
	Features []string
}

func (e *MissingFeaturesError) Error() string {
	return fmt.Sprintf("anomaly features unavailable: %s", strings.Join(e.Features, ", "))
}

// Detector flags the rarest fraction of batches in KPI feature space. It never modifies
// the records it inspects.
type Detector struct {
	cfg   config.AnomalyConfig
	model *emission.Model
}

// NewDetector builds a detector. model is used to derive GHG totals for records that do
// not carry a GHG column; it may be nil.
func NewDetector(cfg config.AnomalyConfig, model *emission.Model) *Detector {
	return &Detector{cfg: cfg, model: model}
}

// Detect labels every record. It fails with *MissingFeaturesError when a configured
// feature is unavailable, or when no default feature is available at all.
func (d *Detector) Detect(records []*batch.Record) ([]Result, []string, error) {
	if len(records) == 0 {
		return nil, nil, nil
	}
	features, err := d.resolveFeatures(records)
	if err != nil {
		return nil, nil, err
	}

	data := make([][]float64, len(records))
	for i, r := range records {
		row := make([]float64, len(features))
		for j, f := range features {
			row[j], _ = d.value(r, f)
		}
		data[i] = row
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	forest := Fit(data, d.cfg.Trees, d.cfg.SampleSize, rng)

	scores := make([]float64, len(data))
	for i, x := range data {
		scores[i] = forest.Score(x)
	}

	k := int(math.Round(d.cfg.Contamination * float64(len(data))))
	threshold := Threshold(scores, k)

	results := make([]Result, len(records))
	flagged := 0
	for i, r := range records {
		res := Result{
			BatchID:  r.ID,
			Label:    Normal,
			Score:    scores[i],
			Decision: threshold - scores[i],
		}
		if res.Decision < 0 {
			res.Label = Anomalous
			flagged++
		}
		results[i] = res
	}

	klog.V(2).InfoS("Detected anomalies",
		"batches", len(records),
		"features", features,
		"anomalies", flagged,
		"threshold", threshold)

	return results, features, nil
}

// Threshold returns the score cut above which exactly the k highest scores lie, placed
// midway between the k-th and (k+1)-th highest. Tied scores at the cut stay normal.
func Threshold(scores []float64, k int) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	switch {
	case len(sorted) == 0:
		return 1
	case k <= 0:
		return sorted[0]
	case k >= len(sorted):
		return sorted[len(sorted)-1] - 1e-9
	}
	return (sorted[k-1] + sorted[k]) / 2
}

func (d *Detector) resolveFeatures(records []*batch.Record) ([]string, error) {
	if len(d.cfg.Features) > 0 {
		var missing []string
		for _, f := range d.cfg.Features {
			if !d.available(records, f) {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			return nil, &MissingFeaturesError{Features: missing}
		}
		return d.cfg.Features, nil
	}

	var features []string
	for _, f := range DefaultFeatures {
		if d.available(records, f) {
			features = append(features, f)
		}
	}
	if len(features) == 0 {
		return nil, &MissingFeaturesError{Features: DefaultFeatures}
	}
	return features, nil
}

// available reports whether every record can provide the feature
func (d *Detector) available(records []*batch.Record, feature string) bool {
	if len(records) == 0 {
		return false
	}
	for _, r := range records {
		if _, ok := d.value(r, feature); !ok {
			return false
		}
	}
	return true
}

// value reads a feature directly, or derives the aggregate features from batch columns
func (d *Detector) value(r *batch.Record, feature string) (float64, bool) {
	if r.Has(feature) {
		return r.Get(feature), true
	}
	switch feature {
	case FeatureEnergy:
		return sumPresent(r, batch.EnergyColumns)
	case FeatureSteam:
		return sumPresent(r, batch.SteamColumns)
	case FeatureGHG:
		if d.model == nil {
			return 0, false
		}
		for _, f := range batch.EmissionFields {
			if r.Has(f.Field) {
				return d.model.Total(r, r.CountedFields()), true
			}
		}
	}
	return 0, false
}

func sumPresent(r *batch.Record, cols []string) (float64, bool) {
	total, found := 0.0, false
	for _, c := range cols {
		if r.Has(c) {
			total += r.Get(c)
			found = true
		}
	}
	return total, found
}
