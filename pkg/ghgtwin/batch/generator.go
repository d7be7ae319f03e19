package batch

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/control"
)

// Controlled variable keys passed to the drift controller
const (
	VarMixingEnergy = "mixing_energy"
	VarDryingEnergy = "drying_energy"
)

var controlledColumns = map[string]string{
	VarMixingEnergy: ColMixingEnergy,
	VarDryingEnergy: ColDryingEnergy,
}

// Draw is the gaussian a column is sampled from
type Draw struct {
	Column string
	Mean   float64
	SD     float64
}

// kpiDraws are shared by every product
var kpiDraws = []Draw{
	{ColYield, 92, 3},
	{ColDowntime, 20, 10},
	{ColCycleTime, 250, 20},
}

// Profiles holds the per-product gaussians in draw order
var Profiles = map[Product][]Draw{
	Tablet: {
		{ColMixingEnergy, 200, 20},
		{ColFiltrationEnergy, 40, 5},
		{ColDryingEnergy, 180, 15},
		{ColCleaningEnergy, 30, 3},
		{ColHVAC, 150, 20},
		{ColCompressedAir, 8, 0.9},
		{ColDryingSteam, 120, 12},
		{ColSteam, 300, 30},
		{ColLactose, 100, 10},
		{ColEthanol, 20, 5},
		{ColAPI, 8, 0.8},
		{ColPackaging, 12, 1.2},
		{ColFilterMedia, 3, 0.3},
		{ColCleaningAgent, 6, 0.7},
		{ColWastewater, 20, 2},
	},
	Inhaler: {
		{ColMixingEnergy, 200, 25},
		{ColFiltrationEnergy, 35, 4},
		{ColDryingEnergy, 180, 20},
		{ColCleaningEnergy, 35, 3.5},
		{ColHVAC, 170, 20},
		{ColCompressedAir, 12, 1.2},
		{ColDryingSteam, 60, 6},
		{ColSteam, 250, 25},
		{ColLactose, 40, 4},
		{ColEthanol, 10, 1.5},
		{ColAPI, 2, 0.2},
		{ColHFC234a, 1.2, 0.1},
		{ColPackaging, 18, 1.8},
		{ColFilterMedia, 2, 0.2},
		{ColCleaningAgent, 7, 0.8},
		{ColWastewater, 22, 2},
	},
	Other: {
		{ColMixingEnergy, 200, 20},
		{ColFiltrationEnergy, 40, 5},
		{ColDryingEnergy, 180, 15},
		{ColCleaningEnergy, 30, 3},
		{ColHVAC, 150, 20},
		{ColCompressedAir, 9, 1},
		{ColDryingSteam, 100, 10},
		{ColSteam, 280, 28},
		{ColGelatin, 15, 3},
		{ColAPI, 6, 0.6},
		{ColSolvent, 10, 1.5},
		{ColPackaging, 14, 1.4},
		{ColFilterMedia, 3, 0.3},
		{ColCleaningAgent, 6, 0.7},
		{ColWastewater, 20, 2},
	},
}

var cleaningColumns = []string{ColCleaningAgent, ColWastewater, ColCleaningEnergy}

// columnResources maps every emission-bearing column to its factor key
var columnResources = func() map[string]string {
	out := make(map[string]string)
	for _, f := range EmissionFields {
		out[f.Field] = f.Resource
	}
	return out
}()

// Generator synthesizes reproducible batch records for a scenario
type Generator struct {
	scenario   config.Scenario
	controller *control.Controller
	setpoints  map[string]float64
}

// NewGenerator builds a generator. A nil controller disables drift correction. The
// controller is mutated by Generate and must not be shared with another run.
func NewGenerator(scenario config.Scenario, controller *control.Controller, setpoints map[string]float64) *Generator {
	return &Generator{
		scenario:   scenario,
		controller: controller,
		setpoints:  setpoints,
	}
}

// DefaultSetpoints returns the drift-correction targets for the controlled variables
func DefaultSetpoints(c config.ControlConfig) map[string]float64 {
	return map[string]float64{
		VarMixingEnergy: c.MixingEnergySetpoint,
		VarDryingEnergy: c.DryingEnergySetpoint,
	}
}

// Generate produces scenario.Batches records with IDs 1..N. Output depends only on the
// scenario and the controller's starting state.
func (g *Generator) Generate() []*Record {
	src := rand.NewSource(g.scenario.Seed)
	selector := distuv.Uniform{Min: 0, Max: 100, Src: src}

	tabletCut := float64(g.scenario.ProductMix.Tablet)
	inhalerCut := tabletCut + float64(g.scenario.ProductMix.Inhaler)

	records := make([]*Record, 0, g.scenario.Batches)
	for i := 0; i < g.scenario.Batches; i++ {
		sel := selector.Rand()
		product := Other
		switch {
		case sel < tabletCut:
			product = Tablet
		case sel < inhalerCut:
			product = Inhaler
		}

		r := NewRecord(i+1, product)
		for _, d := range Profiles[product] {
			r.Set(d.Column, distuv.Normal{Mu: d.Mean, Sigma: d.SD, Src: src}.Rand())
		}
		for _, d := range kpiDraws {
			r.Set(d.Column, distuv.Normal{Mu: d.Mean, Sigma: d.SD, Src: src}.Rand())
		}

		g.correctDrift(r)
		g.applyMultipliers(r)

		klog.V(3).InfoS("Generated batch",
			"batch", r.ID,
			"product", r.Product,
			"selector", sel,
			"mixingEnergy", r.Get(ColMixingEnergy),
			"dryingEnergy", r.Get(ColDryingEnergy))

		records = append(records, r)
	}

	klog.V(2).InfoS("Generated batches",
		"scenario", g.scenario.Name,
		"batches", len(records),
		"seed", g.scenario.Seed)

	return records
}

// correctDrift adds the controller's adjustment onto the raw controlled draws
func (g *Generator) correctDrift(r *Record) {
	if g.controller == nil || len(g.setpoints) == 0 {
		return
	}
	actuals := make(map[string]float64, len(g.setpoints))
	for key := range g.setpoints {
		if col, ok := controlledColumns[key]; ok {
			actuals[key] = r.Get(col)
		}
	}
	for key, adj := range g.controller.Adjust(g.setpoints, actuals) {
		if col, ok := controlledColumns[key]; ok {
			r.Set(col, r.Get(col)+adj)
		}
	}
}

func (g *Generator) applyMultipliers(r *Record) {
	s := g.scenario
	for col, v := range r.Quantities {
		resource, ok := columnResources[col]
		if !ok {
			continue
		}
		if m, ok := s.UsageMultipliers[resource]; ok {
			r.Quantities[col] = v * m
		}
	}

	scaleColumns(r, EnergyColumns, s.Efficiency.Energy)
	scaleColumns(r, SteamColumns, s.Efficiency.Steam)
	scaleColumns(r, []string{ColHVAC}, s.Efficiency.HVAC)
	scaleColumns(r, cleaningColumns, s.CleaningFrequency)

	if s.ClampNegative {
		for col, v := range r.Quantities {
			if _, ok := columnResources[col]; ok && v < 0 {
				r.Quantities[col] = 0
			}
		}
	}
}

func scaleColumns(r *Record, cols []string, factor float64) {
	for _, c := range cols {
		if r.Has(c) {
			r.Quantities[c] *= factor
		}
	}
}
