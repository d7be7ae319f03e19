package config

import (
	"fmt"
	"sort"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/utils/ptr"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
)

// Config holds all configuration for a pharma GHG simulation
type Config struct {
	EmissionFactors emission.FactorSet  `yaml:"emissionFactors" json:"emissionFactors"`
	DefaultFactor   float64             `yaml:"defaultFactor" json:"defaultFactor"` // Factor for resource keys missing from the table
	Scenario        Scenario            `yaml:"scenario" json:"scenario"`
	Control         ControlConfig       `yaml:"control" json:"control"`
	Anomaly         AnomalyConfig       `yaml:"anomaly" json:"anomaly"`
	Server          ServerConfig        `yaml:"server" json:"server"`
	Observability   ObservabilityConfig `yaml:"observability" json:"observability"`
}

// Scenario holds the what-if parameters of one simulation run
type Scenario struct {
	Name                  string             `yaml:"name" json:"name"`
	Batches               int                `yaml:"batches" json:"batches"`
	Seed                  uint64             `yaml:"seed" json:"seed"`
	ProductMix            ProductMix         `yaml:"productMix" json:"productMix"`
	UsageMultipliers      map[string]float64 `yaml:"usageMultipliers" json:"usageMultipliers"` // keyed by resource, e.g. lactose
	Efficiency            Efficiency         `yaml:"efficiency" json:"efficiency"`
	CleaningFrequency     float64            `yaml:"cleaningFrequency" json:"cleaningFrequency"` // Full cleans per batch
	ChangeoverPenalty     float64            `yaml:"changeoverPenalty" json:"changeoverPenalty"` // Cleaning agent multiplier on changeover
	CarbonPrice           float64            `yaml:"carbonPrice" json:"carbonPrice"`             // $/ton CO2e
	OptimizeSequence      bool               `yaml:"optimizeSequence" json:"optimizeSequence"`
	MaterialSubstitutions map[string]string  `yaml:"materialSubstitutions" json:"materialSubstitutions"` // charged material -> factor key
	ClampNegative         bool               `yaml:"clampNegative" json:"clampNegative"`
}

// ProductMix holds percentage shares per product. Other is derived as the remainder
// unless given explicitly, in which case the three shares must sum to 100.
type ProductMix struct {
	Tablet  int  `yaml:"tablet" json:"tablet"`
	Inhaler int  `yaml:"inhaler" json:"inhaler"`
	Other   *int `yaml:"other,omitempty" json:"other,omitempty"`
}

// OtherShare returns the share of the "other" product category
func (m ProductMix) OtherShare() int {
	if m.Other != nil {
		return *m.Other
	}
	return 100 - m.Tablet - m.Inhaler
}

// Efficiency holds scalar multipliers applied to utility draws
type Efficiency struct {
	Energy float64 `yaml:"energy" json:"energy"`
	Steam  float64 `yaml:"steam" json:"steam"`
	HVAC   float64 `yaml:"hvac" json:"hvac"`
}

// ControlConfig holds drift-correction settings
type ControlConfig struct {
	Enabled              bool    `yaml:"enabled" json:"enabled"`
	Kp                   float64 `yaml:"kp" json:"kp"`
	Ki                   float64 `yaml:"ki" json:"ki"`
	Kd                   float64 `yaml:"kd" json:"kd"`
	IntegralLimit        float64 `yaml:"integralLimit" json:"integralLimit"` // 0 leaves the integral unbounded
	MixingEnergySetpoint float64 `yaml:"mixingEnergySetpoint" json:"mixingEnergySetpoint"`
	DryingEnergySetpoint float64 `yaml:"dryingEnergySetpoint" json:"dryingEnergySetpoint"`
}

// AnomalyConfig holds isolation forest settings
type AnomalyConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Contamination float64  `yaml:"contamination" json:"contamination"` // Expected anomaly rate
	Seed          uint64   `yaml:"seed" json:"seed"`
	Trees         int      `yaml:"trees" json:"trees"`
	SampleSize    int      `yaml:"sampleSize" json:"sampleSize"`
	Features      []string `yaml:"features" json:"features"` // Empty selects the default KPI features present in the data
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	CacheTTL        time.Duration `yaml:"cacheTTL" json:"cacheTTL"`
	MaxCacheAge     time.Duration `yaml:"maxCacheAge" json:"maxCacheAge"`
	MaxSeriesPoints int           `yaml:"maxSeriesPoints" json:"maxSeriesPoints"`
}

// ObservabilityConfig holds monitoring settings
type ObservabilityConfig struct {
	MetricsEnabled  bool   `yaml:"metricsEnabled" json:"metricsEnabled"`
	MetricsTextfile string `yaml:"metricsTextfile" json:"metricsTextfile"`
}

// Scenario parameter bounds
const (
	MinBatches           = 1
	MaxBatches           = 200
	MinUsageMultiplier   = 0.5
	MaxUsageMultiplier   = 1.5
	MinEfficiency        = 0.5
	MaxEfficiency        = 1.1
	MinCleaningFrequency = 0.2
	MaxCleaningFrequency = 1.0
	MinChangeoverPenalty = 1.0
	MaxChangeoverPenalty = 2.0
)

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	var errs field.ErrorList

	factorsPath := field.NewPath("emissionFactors")
	for _, key := range c.EmissionFactors.Keys() {
		if key == "" {
			errs = append(errs, field.Invalid(factorsPath, key, "resource key must not be empty"))
		}
	}

	errs = append(errs, c.Scenario.validate(field.NewPath("scenario"))...)
	errs = append(errs, c.Anomaly.validate(field.NewPath("anomaly"))...)

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, field.Invalid(field.NewPath("server", "port"), c.Server.Port, "must be a valid TCP port"))
	}

	return errs.ToAggregate()
}

// Validate checks scenario parameters alone
func (s *Scenario) Validate() error {
	return s.validate(field.NewPath("scenario")).ToAggregate()
}

func (s *Scenario) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList

	if s.Batches < MinBatches || s.Batches > MaxBatches {
		errs = append(errs, field.Invalid(path.Child("batches"), s.Batches,
			fmt.Sprintf("must be between %d and %d", MinBatches, MaxBatches)))
	}

	errs = append(errs, s.ProductMix.validate(path.Child("productMix"))...)

	usagePath := path.Child("usageMultipliers")
	known := emission.DefaultFactors()
	keys := make([]string, 0, len(s.UsageMultipliers))
	for k := range s.UsageMultipliers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := s.UsageMultipliers[k]
		if _, ok := known[k]; !ok {
			errs = append(errs, field.NotSupported(usagePath.Key(k), k, known.Keys()))
			continue
		}
		errs = append(errs, checkRange(usagePath.Key(k), v, MinUsageMultiplier, MaxUsageMultiplier)...)
	}

	effPath := path.Child("efficiency")
	errs = append(errs, checkRange(effPath.Child("energy"), s.Efficiency.Energy, MinEfficiency, MaxEfficiency)...)
	errs = append(errs, checkRange(effPath.Child("steam"), s.Efficiency.Steam, MinEfficiency, MaxEfficiency)...)
	errs = append(errs, checkRange(effPath.Child("hvac"), s.Efficiency.HVAC, MinEfficiency, MaxEfficiency)...)

	errs = append(errs, checkRange(path.Child("cleaningFrequency"), s.CleaningFrequency, MinCleaningFrequency, MaxCleaningFrequency)...)
	errs = append(errs, checkRange(path.Child("changeoverPenalty"), s.ChangeoverPenalty, MinChangeoverPenalty, MaxChangeoverPenalty)...)

	if s.CarbonPrice < 0 {
		errs = append(errs, field.Invalid(path.Child("carbonPrice"), s.CarbonPrice, "must be non-negative"))
	}

	subsPath := path.Child("materialSubstitutions")
	for from, to := range s.MaterialSubstitutions {
		if !emission.IsMaterial(from) {
			errs = append(errs, field.NotSupported(subsPath.Key(from), from, emission.MaterialResources))
		}
		if to == "" {
			errs = append(errs, field.Required(subsPath.Key(from), "substitute resource key"))
		}
	}

	return errs
}

func (m ProductMix) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	if m.Tablet < 0 || m.Tablet > 100 {
		errs = append(errs, field.Invalid(path.Child("tablet"), m.Tablet, "must be between 0 and 100"))
	}
	if m.Inhaler < 0 || m.Inhaler > 100 {
		errs = append(errs, field.Invalid(path.Child("inhaler"), m.Inhaler, "must be between 0 and 100"))
	}
	if m.Other != nil {
		if *m.Other < 0 {
			errs = append(errs, field.Invalid(path.Child("other"), *m.Other, "must be non-negative"))
		}
		if sum := m.Tablet + m.Inhaler + *m.Other; sum != 100 {
			errs = append(errs, field.Invalid(path, sum, "shares must sum to 100"))
		}
	} else if m.Tablet+m.Inhaler > 100 {
		errs = append(errs, field.Invalid(path, m.Tablet+m.Inhaler, "tablet and inhaler shares must not exceed 100"))
	}
	return errs
}

func (a AnomalyConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	if a.Contamination <= 0 || a.Contamination > 0.5 {
		errs = append(errs, field.Invalid(path.Child("contamination"), a.Contamination, "must be in (0, 0.5]"))
	}
	if a.Trees < 1 {
		errs = append(errs, field.Invalid(path.Child("trees"), a.Trees, "must be positive"))
	}
	if a.SampleSize < 2 {
		errs = append(errs, field.Invalid(path.Child("sampleSize"), a.SampleSize, "must be at least 2"))
	}
	return errs
}

func checkRange(path *field.Path, v, min, max float64) field.ErrorList {
	if v < min || v > max {
		return field.ErrorList{field.Invalid(path, v, fmt.Sprintf("must be between %g and %g", min, max))}
	}
	return nil
}

// DeepCopy returns a copy sharing no maps or slices with c
func (c *Config) DeepCopy() *Config {
	out := *c
	out.EmissionFactors = c.EmissionFactors.Clone()
	out.Scenario = c.Scenario.DeepCopy()
	out.Anomaly.Features = append([]string(nil), c.Anomaly.Features...)
	return &out
}

// DeepCopy returns a copy sharing no maps or pointers with s
func (s Scenario) DeepCopy() Scenario {
	out := s
	if s.ProductMix.Other != nil {
		out.ProductMix.Other = ptr.To(*s.ProductMix.Other)
	}
	if s.UsageMultipliers != nil {
		out.UsageMultipliers = make(map[string]float64, len(s.UsageMultipliers))
		for k, v := range s.UsageMultipliers {
			out.UsageMultipliers[k] = v
		}
	}
	if s.MaterialSubstitutions != nil {
		out.MaterialSubstitutions = make(map[string]string, len(s.MaterialSubstitutions))
		for k, v := range s.MaterialSubstitutions {
			out.MaterialSubstitutions[k] = v
		}
	}
	return out
}
