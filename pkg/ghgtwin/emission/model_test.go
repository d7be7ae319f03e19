package emission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type quantities map[string]float64

func (q quantities) Get(field string) float64 { return q[field] }

func TestFactorDefaults(t *testing.T) {
	m := NewDefaultModel()

	tests := []struct {
		name     string
		resource string
		expected float64
	}{
		{name: "energy", resource: Energy, expected: 0.9},
		{name: "steam", resource: Steam, expected: 0.07},
		{name: "refrigerant", resource: HFC234a, expected: 1430.0},
		{name: "compressed air", resource: CompressedAir, expected: 0.95},
		{name: "unknown resource falls back", resource: "titanium_dioxide", expected: 1.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, m.Factor(tc.resource))
		})
	}
}

func TestCustomDefaultFactor(t *testing.T) {
	m := NewModel(FactorSet{Energy: 0.4}, 2.5)
	assert.Equal(t, 0.4, m.Factor(Energy))
	assert.Equal(t, 2.5, m.Factor(Steam))
	assert.False(t, m.Has(Steam))
	assert.Equal(t, 2.5, m.DefaultFactor())
}

func TestContribution(t *testing.T) {
	m := NewModel(FactorSet{Energy: 0.4}, 2.5)
	assert.InDelta(t, 40.0, m.Contribution(100, Energy), 1e-9)
	assert.InDelta(t, 25.0, m.Contribution(10, "titanium_dioxide"), 1e-9)
	assert.Zero(t, m.Contribution(0, Energy))
}

func TestNegativeFactorAccepted(t *testing.T) {
	m := NewModel(FactorSet{"offset_credit": -2.0}, 1.0)
	got := m.Total(quantities{"credit_kg": 3}, []WeightedField{{Field: "credit_kg", Resource: "offset_credit"}})
	assert.Equal(t, -6.0, got)
}

func TestModelIsolatedFromCaller(t *testing.T) {
	factors := DefaultFactors()
	m := NewModel(factors, 1.0)
	factors[Energy] = 100

	assert.Equal(t, 0.9, m.Factor(Energy))

	copied := m.Factors()
	copied[Energy] = 50
	assert.Equal(t, 0.9, m.Factor(Energy))
}

func TestTotalMissingFieldsReadZero(t *testing.T) {
	m := NewDefaultModel()
	fields := []WeightedField{
		{Field: "energy_kWh", Resource: Energy},
		{Field: "steam_kg", Resource: Steam},
	}
	assert.InDelta(t, 90.0, m.Total(quantities{"energy_kWh": 100}, fields), 1e-9)
}

func TestTotalIsLinearInEachQuantity(t *testing.T) {
	fields := []WeightedField{
		{Field: "a", Resource: Energy},
		{Field: "b", Resource: Lactose},
		{Field: "c", Resource: "unknown"},
		{Field: "d", Resource: HFC234a},
	}
	tables := []FactorSet{
		DefaultFactors(),
		{Energy: 0.2, Lactose: 7.5, HFC234a: 3},
		{},
	}
	base := quantities{"a": 12.5, "b": 3, "c": 8, "d": 0.4}

	for ti, table := range tables {
		m := NewModel(table, 1.0)
		baseTotal := m.Total(base, fields)
		for _, wf := range fields {
			for _, k := range []float64{0, 0.5, 2, 10} {
				scaled := quantities{}
				for key, v := range base {
					scaled[key] = v
				}
				scaled[wf.Field] = base[wf.Field] * k

				contribution := base[wf.Field] * m.Factor(wf.Resource)
				expected := baseTotal - contribution + k*contribution
				assert.InDelta(t, expected, m.Total(scaled, fields), 1e-9,
					"table %d field %s k=%v", ti, wf.Field, k)
			}
		}
	}
}

func TestFactorSetKeysSorted(t *testing.T) {
	keys := DefaultFactors().Keys()
	assert.Len(t, keys, 14)
	assert.Equal(t, HFC234a, keys[0])
	assert.Equal(t, Wastewater, keys[len(keys)-1])
}
