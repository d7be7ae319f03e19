package batch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/unitop"
)

// Product is the closed set of manufactured product categories
type Product string

const (
	Tablet  Product = "tablet"
	Inhaler Product = "inhaler"
	Other   Product = "other"
)

// Products returns every product in mix order
func Products() []Product {
	return []Product{Tablet, Inhaler, Other}
}

// ParseProduct resolves a product name case-insensitively
func ParseProduct(s string) (Product, error) {
	p := Product(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case Tablet, Inhaler, Other:
		return p, nil
	}
	return "", fmt.Errorf("unknown product %q", s)
}

// Rank returns the grouping position of a product; unknown products sort last
func (p Product) Rank() int {
	for i, known := range Products() {
		if p == known {
			return i
		}
	}
	return len(Products())
}

// Column names of the batch table
const (
	ColBatchID       = "Batch_ID"
	ColProduct       = "Product"
	ColPrevProduct   = "Prev_Product"
	ColChangeover    = "Changeover"
	ColCleaningScale = "Cleaning_Scale"

	ColMixingEnergy     = "Mixing_Energy_kWh"
	ColFiltrationEnergy = "Filtration_Energy_kWh"
	ColDryingEnergy     = "Drying_Energy_kWh"
	ColCleaningEnergy   = "Cleaning_Energy_kWh"
	ColDryingSteam      = "Drying_Steam_kg"
	ColSteam            = "Steam_kg"
	ColHVAC             = "HVAC_kWh"
	ColCompressedAir    = "Compressed_Air_kWh"
	ColPackaging        = "Packaging_kg"
	ColFilterMedia      = "Filter_Media_kg"
	ColCleaningAgent    = "Cleaning_Agent_kg"
	ColWastewater       = "Wastewater_kg"

	ColLactose = "Lactose_kg"
	ColEthanol = "Ethanol_kg"
	ColGelatin = "Gelatin_kg"
	ColAPI     = "API_kg"
	ColSolvent = "Solvent_kg"
	ColHFC234a = "HFC234a_kg"

	ColEnergy        = "Energy_kWh"
	ColSteamPerBatch = "Steam_kg_per_batch"

	ColYield     = "Material_Yield_%"
	ColDowntime  = "Downtime_Minutes_By_Cause"
	ColCycleTime = "Batch_Cycle_Time_Minutes"
)

// ResourceColumn maps a consumption column to its factor key and the operation that uses it
type ResourceColumn struct {
	Name      string
	Resource  string
	Operation unitop.Kind
	Param     string
}

// ResourceColumns are the fixed-key consumption columns in export order
var ResourceColumns = []ResourceColumn{
	{ColMixingEnergy, emission.Energy, unitop.Mixing, unitop.ParamEnergyKWh},
	{ColFiltrationEnergy, emission.Energy, unitop.Filtration, unitop.ParamEnergyKWh},
	{ColFilterMedia, emission.FilterMedia, unitop.Filtration, unitop.ParamFilterMediaKg},
	{ColDryingEnergy, emission.Energy, unitop.Drying, unitop.ParamEnergyKWh},
	{ColDryingSteam, emission.Steam, unitop.Drying, unitop.ParamSteamKg},
	{ColPackaging, emission.Packaging, unitop.Packaging, unitop.ParamPackagingMatKg},
	{ColCompressedAir, emission.CompressedAir, unitop.Packaging, unitop.ParamCompressedAirKWh},
	{ColCleaningAgent, emission.CleaningAgent, unitop.Cleaning, unitop.ParamCleaningAgentKg},
	{ColWastewater, emission.Wastewater, unitop.Cleaning, unitop.ParamWastewaterKg},
	{ColCleaningEnergy, emission.Energy, unitop.Cleaning, unitop.ParamEnergyKWh},
	{ColHVAC, emission.HVAC, unitop.HVAC, unitop.ParamHVACKWh},
	{ColSteam, emission.Steam, unitop.StreamGeneration, unitop.ParamSteamKg},
}

// EnergyColumns and SteamColumns are the per-operation energy and steam columns
var (
	EnergyColumns = []string{ColMixingEnergy, ColFiltrationEnergy, ColDryingEnergy, ColCleaningEnergy}
	SteamColumns  = []string{ColDryingSteam, ColSteam}
)

// AggregateColumn is a whole-batch consumption column. It is charged to its operation
// only when none of the per-operation columns it summarizes are present.
type AggregateColumn struct {
	ResourceColumn
	Covers []string
}

// AggregateColumns are the whole-batch energy and steam columns of the forecast table
var AggregateColumns = []AggregateColumn{
	{ResourceColumn{ColEnergy, emission.Energy, unitop.Mixing, unitop.ParamEnergyKWh}, EnergyColumns},
	{ResourceColumn{ColSteamPerBatch, emission.Steam, unitop.StreamGeneration, unitop.ParamSteamKg}, SteamColumns},
}

// Counted reports whether the aggregate carries emissions for r
func (a AggregateColumn) Counted(r *Record) bool {
	if !r.Has(a.Name) {
		return false
	}
	for _, c := range a.Covers {
		if r.Has(c) {
			return false
		}
	}
	return true
}

// MaterialColumn maps a material mass column to its factor key. Materials are charged
// through Mixing with a dynamic material_type.
type MaterialColumn struct {
	Name     string
	Resource string
}

// MaterialColumns in export order
var MaterialColumns = []MaterialColumn{
	{ColLactose, emission.Lactose},
	{ColEthanol, emission.Ethanol},
	{ColGelatin, emission.Gelatin},
	{ColAPI, emission.API},
	{ColSolvent, emission.Solvent},
	{ColHFC234a, emission.HFC234a},
}

// KPIColumns are process indicators that carry no emissions
var KPIColumns = []string{ColYield, ColDowntime, ColCycleTime}

// EmissionFields weights every emission-bearing column, aggregates included. Use
// Record.CountedFields to total a single record.
var EmissionFields = func() []emission.WeightedField {
	fields := make([]emission.WeightedField, 0, len(ResourceColumns)+len(AggregateColumns)+len(MaterialColumns))
	for _, c := range ResourceColumns {
		fields = append(fields, emission.WeightedField{Field: c.Name, Resource: c.Resource})
	}
	for _, c := range AggregateColumns {
		fields = append(fields, emission.WeightedField{Field: c.Name, Resource: c.Resource})
	}
	for _, c := range MaterialColumns {
		fields = append(fields, emission.WeightedField{Field: c.Name, Resource: c.Resource})
	}
	return fields
}()

// CountedFields returns EmissionFields without the aggregates shadowed by per-operation
// columns. A model Total over them equals the sum of the seven unit operations.
func (r *Record) CountedFields() []emission.WeightedField {
	shadowed := make(map[string]bool)
	for _, a := range AggregateColumns {
		if r.Has(a.Name) && !a.Counted(r) {
			shadowed[a.Name] = true
		}
	}
	if len(shadowed) == 0 {
		return EmissionFields
	}
	fields := make([]emission.WeightedField, 0, len(EmissionFields))
	for _, f := range EmissionFields {
		if !shadowed[f.Field] {
			fields = append(fields, f)
		}
	}
	return fields
}

// QuantityColumns returns the resource, aggregate, material and KPI columns in export order
func QuantityColumns() []string {
	cols := make([]string, 0, len(ResourceColumns)+len(AggregateColumns)+len(MaterialColumns)+len(KPIColumns))
	for _, c := range ResourceColumns {
		cols = append(cols, c.Name)
	}
	for _, c := range AggregateColumns {
		cols = append(cols, c.Name)
	}
	for _, c := range MaterialColumns {
		cols = append(cols, c.Name)
	}
	return append(cols, KPIColumns...)
}

// Record is one manufactured batch
type Record struct {
	ID          int
	Product     Product
	PrevProduct Product
	Changeover  bool
	// CleaningScale is the multiplier already applied to the cleaning agent mass; zero means 1
	CleaningScale float64
	Quantities    map[string]float64
}

// NewRecord returns an empty record
func NewRecord(id int, product Product) *Record {
	return &Record{
		ID:            id,
		Product:       product,
		CleaningScale: 1,
		Quantities:    make(map[string]float64),
	}
}

// Get returns a named quantity, zero when absent
func (r *Record) Get(field string) float64 {
	return r.Quantities[field]
}

// Set stores a named quantity
func (r *Record) Set(field string, v float64) {
	if r.Quantities == nil {
		r.Quantities = make(map[string]float64)
	}
	r.Quantities[field] = v
}

// Has reports whether a quantity is present
func (r *Record) Has(field string) bool {
	_, ok := r.Quantities[field]
	return ok
}

// Scale returns the applied cleaning scale, treating zero as 1
func (r *Record) Scale() float64 {
	if r.CleaningScale == 0 {
		return 1
	}
	return r.CleaningScale
}

// SetCleaningScale rescales the cleaning agent mass so that it carries exactly the given
// multiplier, undoing any previously applied one
func (r *Record) SetCleaningScale(scale float64) {
	if v, ok := r.Quantities[ColCleaningAgent]; ok {
		r.Quantities[ColCleaningAgent] = v / r.Scale() * scale
	}
	r.CleaningScale = scale
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	out := *r
	out.Quantities = make(map[string]float64, len(r.Quantities))
	for k, v := range r.Quantities {
		out.Quantities[k] = v
	}
	return &out
}

// CloneAll deep-copies a sequence
func CloneAll(records []*Record) []*Record {
	out := make([]*Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// ExtraColumns returns the sorted names of quantities outside the known column set
func ExtraColumns(records []*Record) []string {
	known := make(map[string]bool)
	for _, c := range QuantityColumns() {
		known[c] = true
	}
	seen := make(map[string]bool)
	var extras []string
	for _, r := range records {
		for k := range r.Quantities {
			if !known[k] && !seen[k] {
				seen[k] = true
				extras = append(extras, k)
			}
		}
	}
	sort.Strings(extras)
	return extras
}

// OperationParams builds the per-operation parameter bags of a record. Mixing gets one
// bag per charged material with the mixing energy on the first bag. Counted aggregate
// energy goes to Mixing and aggregate steam to StreamGeneration. subs rewrites a
// material's factor key, e.g. ethanol -> solvent.
func (r *Record) OperationParams(subs map[string]string) unitop.BatchParams {
	var bags unitop.BatchParams

	single := make(map[unitop.Kind]unitop.Params)
	for _, c := range ResourceColumns {
		if c.Operation == unitop.Mixing {
			continue
		}
		p, ok := single[c.Operation]
		if !ok {
			p = unitop.NewParams()
			single[c.Operation] = p
		}
		p.Set(c.Param, r.Get(c.Name))
	}

	mixEnergy := r.Get(ColMixingEnergy)
	for _, a := range AggregateColumns {
		if !a.Counted(r) {
			continue
		}
		if a.Operation == unitop.Mixing {
			mixEnergy += r.Get(a.Name)
			continue
		}
		p := single[a.Operation]
		p.Set(a.Param, p.Float(a.Param)+r.Get(a.Name))
	}
	charged := 0
	for _, c := range MaterialColumns {
		if !r.Has(c.Name) {
			continue
		}
		materialType := c.Resource
		if sub, ok := subs[c.Resource]; ok && sub != "" {
			materialType = sub
		}
		p := unitop.NewParams().
			Set(unitop.ParamMaterialKg, r.Get(c.Name)).
			SetLabel(unitop.ParamMaterialType, materialType)
		if charged == 0 {
			p.Set(unitop.ParamEnergyKWh, mixEnergy)
		}
		bags.Add(unitop.Mixing, p)
		charged++
	}
	if charged == 0 {
		bags.Add(unitop.Mixing, unitop.NewParams().Set(unitop.ParamEnergyKWh, mixEnergy))
	}

	for _, k := range unitop.Kinds() {
		if p, ok := single[k]; ok {
			bags.Add(k, p)
		}
	}
	return bags
}

// Emissions computes the per-operation breakdown of a record
func (r *Record) Emissions(m *emission.Model, subs map[string]string) unitop.Breakdown {
	return unitop.Compute(m, r.OperationParams(subs))
}
