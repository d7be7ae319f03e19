package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/control"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
)

const (
	envPrefix       = "GHGTWIN_"
	factorEnvPrefix = envPrefix + "FACTOR_"
	usageEnvPrefix  = envPrefix + "USAGE_"
)

// Default returns the documented default configuration
func Default() *Config {
	gains := control.DefaultGains()
	return &Config{
		EmissionFactors: emission.DefaultFactors(),
		DefaultFactor:   emission.DefaultFactorValue,
		Scenario: Scenario{
			Name:    "Baseline",
			Batches: 100,
			Seed:    42,
			ProductMix: ProductMix{
				Tablet:  50,
				Inhaler: 30,
			},
			UsageMultipliers:  map[string]float64{},
			Efficiency:        Efficiency{Energy: 1.0, Steam: 1.0, HVAC: 1.0},
			CleaningFrequency: 1.0,
			ChangeoverPenalty: 1.5,
			CarbonPrice:       50,
		},
		Control: ControlConfig{
			Enabled:              true,
			Kp:                   gains.Kp,
			Ki:                   gains.Ki,
			Kd:                   gains.Kd,
			MixingEnergySetpoint: 200,
			DryingEnergySetpoint: 180,
		},
		Anomaly: AnomalyConfig{
			Enabled:       false,
			Contamination: 0.05,
			Seed:          42,
			Trees:         100,
			SampleSize:    256,
		},
		Server: ServerConfig{
			Port:            8080,
			CacheTTL:        5 * time.Minute,
			MaxCacheAge:     1 * time.Hour,
			MaxSeriesPoints: 0,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
		},
	}
}

// LoadFromEnv loads the defaults overlaid with environment variables
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads the defaults overlaid with a YAML file, then environment variables
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	klog.V(2).InfoS("Loaded configuration",
		"path", path,
		"scenario", cfg.Scenario.Name,
		"batches", cfg.Scenario.Batches,
		"factors", len(cfg.EmissionFactors),
		"anomalyEnabled", cfg.Anomaly.Enabled)

	return cfg, nil
}

// Parse decodes YAML onto the defaults. Emission factors and usage multipliers in the
// document are merged key by key rather than replacing the default tables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	factors := cfg.EmissionFactors
	cfg.EmissionFactors = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for k, v := range cfg.EmissionFactors {
		factors[k] = v
	}
	cfg.EmissionFactors = factors
	if cfg.Scenario.UsageMultipliers == nil {
		cfg.Scenario.UsageMultipliers = map[string]float64{}
	}
	return cfg, nil
}

// Gains returns the controller gains
func (c ControlConfig) Gains() control.Gains {
	return control.Gains{Kp: c.Kp, Ki: c.Ki, Kd: c.Kd}
}

func applyEnv(cfg *Config) {
	s := &cfg.Scenario
	s.Name = getEnvOrDefault("GHGTWIN_SCENARIO", s.Name)
	s.Batches = getIntOrDefault("GHGTWIN_BATCHES", s.Batches)
	s.Seed = getUintOrDefault("GHGTWIN_SEED", s.Seed)
	s.ProductMix.Tablet = getIntOrDefault("GHGTWIN_TABLET_SHARE", s.ProductMix.Tablet)
	s.ProductMix.Inhaler = getIntOrDefault("GHGTWIN_INHALER_SHARE", s.ProductMix.Inhaler)
	s.Efficiency.Energy = getFloatOrDefault("GHGTWIN_ENERGY_EFFICIENCY", s.Efficiency.Energy)
	s.Efficiency.Steam = getFloatOrDefault("GHGTWIN_STEAM_EFFICIENCY", s.Efficiency.Steam)
	s.Efficiency.HVAC = getFloatOrDefault("GHGTWIN_HVAC_EFFICIENCY", s.Efficiency.HVAC)
	s.CleaningFrequency = getFloatOrDefault("GHGTWIN_CLEANING_FREQUENCY", s.CleaningFrequency)
	s.ChangeoverPenalty = getFloatOrDefault("GHGTWIN_CHANGEOVER_PENALTY", s.ChangeoverPenalty)
	s.CarbonPrice = getFloatOrDefault("GHGTWIN_CARBON_PRICE", s.CarbonPrice)
	s.OptimizeSequence = getBoolOrDefault("GHGTWIN_OPTIMIZE_SEQUENCE", s.OptimizeSequence)
	s.ClampNegative = getBoolOrDefault("GHGTWIN_CLAMP_NEGATIVE", s.ClampNegative)

	cfg.DefaultFactor = getFloatOrDefault("GHGTWIN_DEFAULT_FACTOR", cfg.DefaultFactor)

	cfg.Control.Enabled = getBoolOrDefault("GHGTWIN_CONTROL_ENABLED", cfg.Control.Enabled)
	cfg.Control.IntegralLimit = getFloatOrDefault("GHGTWIN_INTEGRAL_LIMIT", cfg.Control.IntegralLimit)

	cfg.Anomaly.Enabled = getBoolOrDefault("GHGTWIN_ANOMALY_ENABLED", cfg.Anomaly.Enabled)
	cfg.Anomaly.Contamination = getFloatOrDefault("GHGTWIN_ANOMALY_CONTAMINATION", cfg.Anomaly.Contamination)
	cfg.Anomaly.Seed = getUintOrDefault("GHGTWIN_ANOMALY_SEED", cfg.Anomaly.Seed)

	cfg.Server.Port = getIntOrDefault("GHGTWIN_PORT", cfg.Server.Port)
	cfg.Server.CacheTTL = getDurationOrDefault("GHGTWIN_CACHE_TTL", cfg.Server.CacheTTL)
	cfg.Server.MaxCacheAge = getDurationOrDefault("GHGTWIN_MAX_CACHE_AGE", cfg.Server.MaxCacheAge)

	cfg.Observability.MetricsEnabled = getBoolOrDefault("GHGTWIN_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.MetricsTextfile = getEnvOrDefault("GHGTWIN_METRICS_TEXTFILE", cfg.Observability.MetricsTextfile)

	if cfg.EmissionFactors == nil {
		cfg.EmissionFactors = emission.DefaultFactors()
	}
	for k, v := range loadKeyedFloats(factorEnvPrefix) {
		cfg.EmissionFactors[k] = v
	}
	if s.UsageMultipliers == nil {
		s.UsageMultipliers = map[string]float64{}
	}
	for k, v := range loadKeyedFloats(usageEnvPrefix) {
		s.UsageMultipliers[k] = v
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getUintOrDefault(key string, defaultValue uint64) uint64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseUint(strValue, 10, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid unsigned integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		value, err := strconv.ParseBool(strValue)
		if err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := time.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

// loadKeyedFloats collects PREFIX_<KEY>=<value> variables into a map keyed by the
// lower-cased suffix, e.g. GHGTWIN_FACTOR_FILTER_MEDIA=1.5 -> filter_media: 1.5
func loadKeyedFloats(prefix string) map[string]float64 {
	out := make(map[string]float64)
	for _, env := range os.Environ() {
		name, value, found := strings.Cut(env, "=")
		if !found || !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		if key == "" {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			klog.V(2).InfoS("Invalid float value, ignoring",
				"key", name,
				"value", value)
			continue
		}
		out[key] = v
	}
	return out
}
