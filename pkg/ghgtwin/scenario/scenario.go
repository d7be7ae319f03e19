// Package scenario holds the named what-if presets and compares a scenario against
// the baseline on identical synthetic data.
package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/report"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/unitop"
)

// Preset names
const (
	Baseline        = "Baseline"
	EnergyEfficient = "Energy Efficient"
	LowSteam        = "Low Steam"
	GreenMaterials  = "Green Materials"
	Custom          = "Custom"
)

// Preset is a named adjustment of scenario parameters
type Preset struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	apply       func(s *config.Scenario)
}

var presets = []Preset{
	{
		Name:        Baseline,
		Description: "No efficiency gains, usage changes or substitutions",
		apply:       reset,
	},
	{
		Name:        EnergyEfficient,
		Description: "Energy draws reduced by 10%",
		apply: func(s *config.Scenario) {
			reset(s)
			s.Efficiency.Energy = 0.9
		},
	},
	{
		Name:        LowSteam,
		Description: "Steam draws reduced by 20%",
		apply: func(s *config.Scenario) {
			reset(s)
			s.Efficiency.Steam = 0.8
		},
	},
	{
		Name:        GreenMaterials,
		Description: "Lactose usage -5%, ethanol and gelatin usage -10%",
		apply: func(s *config.Scenario) {
			reset(s)
			s.UsageMultipliers = map[string]float64{
				emission.Lactose: 0.95,
				emission.Ethanol: 0.9,
				emission.Gelatin: 0.9,
			}
		},
	},
	{
		Name:        Custom,
		Description: "Scenario parameters as configured",
		apply:       func(s *config.Scenario) {},
	},
}

// reset clears the what-if levers while keeping batch count, seed, mix, sequencing
// and pricing
func reset(s *config.Scenario) {
	s.Efficiency = config.Efficiency{Energy: 1, Steam: 1, HVAC: 1}
	s.UsageMultipliers = map[string]float64{}
	s.MaterialSubstitutions = nil
}

// Presets returns every preset in display order
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// Names returns the preset names in display order
func Names() []string {
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = p.Name
	}
	return names
}

// Lookup finds a preset by name, ignoring case, spaces, dashes and underscores
func Lookup(name string) (Preset, bool) {
	key := normalize(name)
	for _, p := range presets {
		if normalize(p.Name) == key {
			return p, true
		}
	}
	return Preset{}, false
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// Apply returns a copy of s adjusted by the named preset
func Apply(s config.Scenario, name string) (config.Scenario, error) {
	p, ok := Lookup(name)
	if !ok {
		return s, fmt.Errorf("unknown scenario %q, expected one of: %s", name, strings.Join(Names(), ", "))
	}
	out := s
	out.UsageMultipliers = copyFloats(s.UsageMultipliers)
	out.MaterialSubstitutions = copyStrings(s.MaterialSubstitutions)
	p.apply(&out)
	out.Name = p.Name
	return out, nil
}

func copyFloats(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Runner executes one simulation
type Runner interface {
	Run(ctx context.Context, cfg *config.Config) (*report.Report, error)
}

// Outcome summarizes one side of a comparison
type Outcome struct {
	Scenario    string           `json:"scenario"`
	RunID       string           `json:"runId"`
	MeanGHG     float64          `json:"meanGhgKgCO2e"`
	TotalGHG    float64          `json:"totalGhgKgCO2e"`
	CarbonCost  decimal.Decimal  `json:"carbonCostUSD"`
	Changeovers int              `json:"changeovers"`
	Operations  unitop.Breakdown `json:"operations"`
}

// Comparison is the difference between a scenario and the baseline
type Comparison struct {
	Baseline     Outcome         `json:"baseline"`
	Scenario     Outcome         `json:"scenario"`
	DeltaMeanGHG float64         `json:"deltaMeanGhgKgCO2e"`
	DeltaPercent float64         `json:"deltaPercent"`
	DeltaCost    decimal.Decimal `json:"deltaCarbonCostUSD"`
}

func outcome(r *report.Report) Outcome {
	return Outcome{
		Scenario:    r.Scenario,
		RunID:       r.RunID,
		MeanGHG:     r.Summary.MeanGHG,
		TotalGHG:    r.Summary.TotalGHG,
		CarbonCost:  r.CarbonCost,
		Changeovers: r.Changeovers,
		Operations:  r.Operations,
	}
}

// Compare runs the baseline and the named scenario on the same seed and batch count
func Compare(ctx context.Context, runner Runner, cfg *config.Config, name string) (*Comparison, error) {
	candidate, err := Apply(cfg.Scenario, name)
	if err != nil {
		return nil, err
	}
	baseline, err := Apply(cfg.Scenario, Baseline)
	if err != nil {
		return nil, err
	}

	baseCfg := *cfg
	baseCfg.Scenario = baseline
	baseReport, err := runner.Run(ctx, &baseCfg)
	if err != nil {
		return nil, fmt.Errorf("baseline run failed: %w", err)
	}

	candCfg := *cfg
	candCfg.Scenario = candidate
	if p, _ := Lookup(name); p.Name == Custom {
		candCfg.Scenario.Name = cfg.Scenario.Name
	}
	candReport, err := runner.Run(ctx, &candCfg)
	if err != nil {
		return nil, fmt.Errorf("scenario run failed: %w", err)
	}

	c := &Comparison{
		Baseline:     outcome(baseReport),
		Scenario:     outcome(candReport),
		DeltaMeanGHG: candReport.Summary.MeanGHG - baseReport.Summary.MeanGHG,
		DeltaCost:    candReport.CarbonCost.Sub(baseReport.CarbonCost),
	}
	if baseReport.Summary.MeanGHG != 0 {
		c.DeltaPercent = c.DeltaMeanGHG / baseReport.Summary.MeanGHG * 100
	}

	klog.V(2).InfoS("Compared scenario against baseline",
		"scenario", candCfg.Scenario.Name,
		"baselineMean", c.Baseline.MeanGHG,
		"scenarioMean", c.Scenario.MeanGHG,
		"deltaPercent", c.DeltaPercent)

	return c, nil
}
