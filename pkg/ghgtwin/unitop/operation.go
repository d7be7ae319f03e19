package unitop

import (
	"encoding/json"
	"fmt"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
)

// Kind identifies one of the fixed unit operations of the manufacturing line
type Kind int

const (
	Mixing Kind = iota
	Filtration
	Drying
	Packaging
	Cleaning
	HVAC
	StreamGeneration

	// NumKinds is the number of unit operations
	NumKinds
)

var kindNames = [NumKinds]string{
	Mixing:           "Mixing",
	Filtration:       "Filtration",
	Drying:           "Drying",
	Packaging:        "Packaging",
	Cleaning:         "Cleaning",
	HVAC:             "HVAC",
	StreamGeneration: "StreamGeneration",
}

// Parameter names understood by the operations
const (
	ParamEnergyKWh        = "energy_kWh"
	ParamMaterialKg       = "material_kg"
	ParamMaterialType     = "material_type"
	ParamFilterMediaKg    = "filter_media_kg"
	ParamSteamKg          = "steam_kg"
	ParamPackagingMatKg   = "packaging_mat_kg"
	ParamCompressedAirKWh = "compressed_air_kWh"
	ParamCleaningAgentKg  = "cleaning_agent_kg"
	ParamWastewaterKg     = "wastewater_kg"
	ParamHVACKWh          = "hvac_kWh"
)

// DefaultMaterialType is charged when a Mixing bag carries material without a type
const DefaultMaterialType = emission.Lactose

// Kinds returns every unit operation in line order
func Kinds() []Kind {
	kinds := make([]Kind, NumKinds)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind resolves an operation by its name
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown unit operation %q", name)
}

// Params is the parameter bag for one operation instance of one batch.
// Missing numeric parameters read as zero.
type Params struct {
	Values map[string]float64
	Labels map[string]string
}

// NewParams returns an empty bag
func NewParams() Params {
	return Params{Values: map[string]float64{}, Labels: map[string]string{}}
}

// Set stores a numeric parameter
func (p Params) Set(name string, v float64) Params {
	p.Values[name] = v
	return p
}

// SetLabel stores a category parameter
func (p Params) SetLabel(name, label string) Params {
	p.Labels[name] = label
	return p
}

// Float returns the numeric parameter or zero
func (p Params) Float(name string) float64 {
	return p.Values[name]
}

// Label returns the category parameter or def when absent
func (p Params) Label(name, def string) string {
	if v, ok := p.Labels[name]; ok && v != "" {
		return v
	}
	return def
}

// Compute returns the kgCO2e of one operation instance
func (k Kind) Compute(m *emission.Model, p Params) float64 {
	switch k {
	case Mixing:
		return m.Contribution(p.Float(ParamEnergyKWh), emission.Energy) +
			m.Contribution(p.Float(ParamMaterialKg), p.Label(ParamMaterialType, DefaultMaterialType))
	case Filtration:
		return m.Contribution(p.Float(ParamEnergyKWh), emission.Energy) +
			m.Contribution(p.Float(ParamFilterMediaKg), emission.FilterMedia)
	case Drying:
		return m.Contribution(p.Float(ParamEnergyKWh), emission.Energy) +
			m.Contribution(p.Float(ParamSteamKg), emission.Steam)
	case Packaging:
		return m.Contribution(p.Float(ParamPackagingMatKg), emission.Packaging) +
			m.Contribution(p.Float(ParamCompressedAirKWh), emission.CompressedAir)
	case Cleaning:
		return m.Contribution(p.Float(ParamCleaningAgentKg), emission.CleaningAgent) +
			m.Contribution(p.Float(ParamWastewaterKg), emission.Wastewater) +
			m.Contribution(p.Float(ParamEnergyKWh), emission.Energy)
	case HVAC:
		return m.Contribution(p.Float(ParamHVACKWh), emission.HVAC)
	case StreamGeneration:
		return m.Contribution(p.Float(ParamSteamKg), emission.Steam)
	}
	return 0
}

// BatchParams holds the parameter bags of every operation for one batch. An operation
// may run several instances per batch (Mixing charges one bag per material).
type BatchParams [NumKinds][]Params

// Add appends a bag for the given operation
func (b *BatchParams) Add(k Kind, p Params) {
	b[k] = append(b[k], p)
}

// Breakdown is kgCO2e per unit operation for one batch
type Breakdown [NumKinds]float64

// Compute evaluates every bag of every operation
func Compute(m *emission.Model, bags BatchParams) Breakdown {
	var out Breakdown
	for _, k := range Kinds() {
		for _, p := range bags[k] {
			out[k] += k.Compute(m, p)
		}
	}
	return out
}

// Total sums the breakdown across operations
func (b Breakdown) Total() float64 {
	total := 0.0
	for _, v := range b {
		total += v
	}
	return total
}

// Add accumulates another breakdown
func (b *Breakdown) Add(other Breakdown) {
	for i := range b {
		b[i] += other[i]
	}
}

// Map returns the breakdown keyed by operation name
func (b Breakdown) Map() map[string]float64 {
	out := make(map[string]float64, NumKinds)
	for _, k := range Kinds() {
		out[k.String()] = b[k]
	}
	return out
}

func (b Breakdown) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Map())
}
