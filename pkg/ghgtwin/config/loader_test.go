package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Scenario.Batches)
	assert.Equal(t, uint64(42), cfg.Scenario.Seed)
	assert.Equal(t, 20, cfg.Scenario.ProductMix.OtherShare())
	assert.Equal(t, emission.DefaultFactors(), cfg.EmissionFactors)
	assert.Equal(t, 0.15, cfg.Control.Gains().Kp)
	assert.Zero(t, cfg.Control.IntegralLimit)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GHGTWIN_BATCHES", "25")
	t.Setenv("GHGTWIN_SEED", "7")
	t.Setenv("GHGTWIN_TABLET_SHARE", "60")
	t.Setenv("GHGTWIN_CARBON_PRICE", "85.5")
	t.Setenv("GHGTWIN_OPTIMIZE_SEQUENCE", "true")
	t.Setenv("GHGTWIN_CACHE_TTL", "90s")
	t.Setenv("GHGTWIN_FACTOR_ENERGY", "0.45")
	t.Setenv("GHGTWIN_FACTOR_234A", "1300")
	t.Setenv("GHGTWIN_FACTOR_FILTER_MEDIA", "2.2")
	t.Setenv("GHGTWIN_USAGE_LACTOSE", "0.95")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Scenario.Batches)
	assert.Equal(t, uint64(7), cfg.Scenario.Seed)
	assert.Equal(t, 60, cfg.Scenario.ProductMix.Tablet)
	assert.Equal(t, 85.5, cfg.Scenario.CarbonPrice)
	assert.True(t, cfg.Scenario.OptimizeSequence)
	assert.Equal(t, 90*time.Second, cfg.Server.CacheTTL)
	assert.Equal(t, 0.45, cfg.EmissionFactors[emission.Energy])
	assert.Equal(t, 1300.0, cfg.EmissionFactors[emission.HFC234a])
	assert.Equal(t, 2.2, cfg.EmissionFactors[emission.FilterMedia])
	assert.Equal(t, 0.07, cfg.EmissionFactors[emission.Steam])
	assert.Equal(t, 0.95, cfg.Scenario.UsageMultipliers[emission.Lactose])
}

func TestLoadFromEnvInvalidValuesIgnored(t *testing.T) {
	t.Setenv("GHGTWIN_BATCHES", "many")
	t.Setenv("GHGTWIN_FACTOR_STEAM", "hot")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Scenario.Batches)
	assert.Equal(t, 0.07, cfg.EmissionFactors[emission.Steam])
}

func TestLoadFromEnvRejectsInvalidScenario(t *testing.T) {
	t.Setenv("GHGTWIN_BATCHES", "500")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario.batches")
}

func TestLoadFile(t *testing.T) {
	tempDir := t.TempDir()

	validYAML := `
emissionFactors:
  energy: 0.5
  "234a": 1200
defaultFactor: 2
scenario:
  name: Plant B
  batches: 40
  productMix:
    tablet: 40
    inhaler: 40
    other: 20
  efficiency:
    energy: 0.9
    steam: 1.0
    hvac: 1.0
  materialSubstitutions:
    ethanol: solvent
control:
  integralLimit: 50
anomaly:
  enabled: true
  contamination: 0.1
server:
  cacheTTL: 30s
`
	validPath := filepath.Join(tempDir, "valid.yaml")
	require.NoError(t, os.WriteFile(validPath, []byte(validYAML), 0644))

	invalidPath := filepath.Join(tempDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalidPath, []byte("scenario: [not-a-map\n"), 0644))

	outOfRangePath := filepath.Join(tempDir, "range.yaml")
	require.NoError(t, os.WriteFile(outOfRangePath, []byte("scenario:\n  changeoverPenalty: 3\n"), 0644))

	tests := []struct {
		name      string
		path      string
		expectErr bool
		check     func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid file merges onto defaults",
			path: validPath,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0.5, cfg.EmissionFactors[emission.Energy])
				assert.Equal(t, 1200.0, cfg.EmissionFactors[emission.HFC234a])
				assert.Equal(t, 1.5, cfg.EmissionFactors[emission.Lactose])
				assert.Equal(t, 2.0, cfg.DefaultFactor)
				assert.Equal(t, "Plant B", cfg.Scenario.Name)
				assert.Equal(t, 40, cfg.Scenario.Batches)
				assert.Equal(t, 20, cfg.Scenario.ProductMix.OtherShare())
				assert.Equal(t, 0.9, cfg.Scenario.Efficiency.Energy)
				assert.Equal(t, "solvent", cfg.Scenario.MaterialSubstitutions[emission.Ethanol])
				assert.Equal(t, 1.5, cfg.Scenario.ChangeoverPenalty)
				assert.Equal(t, 50.0, cfg.Control.IntegralLimit)
				assert.Equal(t, 0.15, cfg.Control.Kp)
				assert.True(t, cfg.Anomaly.Enabled)
				assert.Equal(t, 100, cfg.Anomaly.Trees)
				assert.Equal(t, 30*time.Second, cfg.Server.CacheTTL)
			},
		},
		{
			name:      "malformed yaml",
			path:      invalidPath,
			expectErr: true,
		},
		{
			name:      "out of range value",
			path:      outOfRangePath,
			expectErr: true,
		},
		{
			name:      "missing file",
			path:      filepath.Join(tempDir, "nope.yaml"),
			expectErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadFile(tc.path)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestLoadFileEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenario:\n  batches: 40\n"), 0644))
	t.Setenv("GHGTWIN_BATCHES", "12")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Scenario.Batches)
}
