package emission

import (
	"sort"

	"k8s.io/klog/v2"
)

// Resource keys recognized by the default factor table
const (
	Energy        = "energy"
	Steam         = "steam"
	HFC234a       = "234a"
	Lactose       = "lactose"
	Ethanol       = "ethanol"
	Gelatin       = "gelatin"
	API           = "api"
	Solvent       = "solvent"
	HVAC          = "hvac"
	Wastewater    = "wastewater"
	Packaging     = "packaging"
	FilterMedia   = "filter_media"
	CleaningAgent = "cleaning_agent"
	CompressedAir = "compressed_air"
)

// MaterialResources are the resource keys charged through the Mixing operation
var MaterialResources = []string{Lactose, Ethanol, Gelatin, API, Solvent, HFC234a}

// IsMaterial reports whether the key names a mixing material
func IsMaterial(resource string) bool {
	for _, m := range MaterialResources {
		if m == resource {
			return true
		}
	}
	return false
}

// DefaultFactorValue is applied to resource keys missing from the factor table
const DefaultFactorValue = 1.0

// FactorSet maps a resource key to kgCO2e per unit (kWh for energy-like, kg for mass-like)
type FactorSet map[string]float64

// DefaultFactors returns a fresh copy of the documented factor table
func DefaultFactors() FactorSet {
	return FactorSet{
		Energy:        0.9,
		Steam:         0.07,
		HFC234a:       1430.0,
		Lactose:       1.5,
		Ethanol:       3.0,
		Gelatin:       2.0,
		API:           5.0,
		Solvent:       4.0,
		HVAC:          0.7,
		Wastewater:    0.2,
		Packaging:     2.0,
		FilterMedia:   1.8,
		CleaningAgent: 2.5,
		CompressedAir: 0.95,
	}
}

// Clone returns an independent copy of the set
func (f FactorSet) Clone() FactorSet {
	out := make(FactorSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the resource keys in sorted order
func (f FactorSet) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WeightedField pairs a quantity name on a record with the resource key used to weight it
type WeightedField struct {
	Field    string
	Resource string
}

// Quantities is anything that can report a named quantity. Absent quantities read as zero.
type Quantities interface {
	Get(field string) float64
}

// Model converts resource quantities to kgCO2e. It is immutable once built and safe
// for concurrent use.
type Model struct {
	factors       FactorSet
	defaultFactor float64
}

// NewModel builds a model over a copy of factors. Negative factors are accepted as-is.
func NewModel(factors FactorSet, defaultFactor float64) *Model {
	if factors == nil {
		factors = DefaultFactors()
	}
	return &Model{
		factors:       factors.Clone(),
		defaultFactor: defaultFactor,
	}
}

// NewDefaultModel builds a model over the documented defaults
func NewDefaultModel() *Model {
	return NewModel(DefaultFactors(), DefaultFactorValue)
}

// Factor returns the factor for a resource key, or the default factor for unknown keys
func (m *Model) Factor(resource string) float64 {
	if v, ok := m.factors[resource]; ok {
		return v
	}
	klog.V(4).InfoS("Unknown resource key, using default factor",
		"resource", resource,
		"defaultFactor", m.defaultFactor)
	return m.defaultFactor
}

// Has reports whether the resource key is present in the factor table
func (m *Model) Has(resource string) bool {
	_, ok := m.factors[resource]
	return ok
}

// Factors returns a copy of the configured factor table
func (m *Model) Factors() FactorSet {
	return m.factors.Clone()
}

// DefaultFactor returns the fallback factor for unknown keys
func (m *Model) DefaultFactor() float64 {
	return m.defaultFactor
}

// Total sums value*factor over the given (field, resource) pairs
func (m *Model) Total(q Quantities, fields []WeightedField) float64 {
	total := 0.0
	for _, wf := range fields {
		total += q.Get(wf.Field) * m.Factor(wf.Resource)
	}
	return total
}

// Contribution returns the kgCO2e of a single quantity of the given resource
func (m *Model) Contribution(quantity float64, resource string) float64 {
	return quantity * m.Factor(resource)
}
