package control

import (
	"math"
	"sort"

	"k8s.io/klog/v2"
)

// Gains holds the proportional, integral and derivative coefficients
type Gains struct {
	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`
}

// DefaultGains are the fixed gains used for process drift correction
func DefaultGains() Gains {
	return Gains{Kp: 0.15, Ki: 0.02, Kd: 0.04}
}

// State is the per-variable memory carried between invocations
type State struct {
	PrevError float64
	Integral  float64
}

// Controller is a PID-style corrector that computes, per variable, how far a simulated
// actual value should be nudged toward its setpoint. It does not apply the correction.
//
// A Controller carries state across calls and is owned by exactly one simulation run.
// It is not safe for concurrent use; concurrent runs must each build their own.
type Controller struct {
	gains Gains
	// integralLimit bounds |integral| when positive; zero leaves accumulation unbounded
	integralLimit float64
	state         map[string]*State
}

// New creates a controller with empty state
func New(gains Gains, integralLimit float64) *Controller {
	return &Controller{
		gains:         gains,
		integralLimit: integralLimit,
		state:         make(map[string]*State),
	}
}

// NewDefault creates a controller with the default gains and unbounded integral
func NewDefault() *Controller {
	return New(DefaultGains(), 0)
}

// Adjust returns one adjustment per setpoint key. Keys missing from actuals are treated
// as on target. State for each key is updated after its adjustment is computed.
func (c *Controller) Adjust(setpoints, actuals map[string]float64) map[string]float64 {
	adjustments := make(map[string]float64, len(setpoints))

	// sorted for stable log output
	keys := make([]string, 0, len(setpoints))
	for k := range setpoints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		setpoint := setpoints[key]
		actual, ok := actuals[key]
		if !ok {
			actual = setpoint
		}

		st, ok := c.state[key]
		if !ok {
			st = &State{}
			c.state[key] = st
		}

		err := setpoint - actual
		st.Integral += err
		if c.integralLimit > 0 {
			st.Integral = math.Max(-c.integralLimit, math.Min(c.integralLimit, st.Integral))
		}
		derivative := err - st.PrevError

		adjustments[key] = c.gains.Kp*err + c.gains.Ki*st.Integral + c.gains.Kd*derivative
		st.PrevError = err

		klog.V(4).InfoS("Process control adjustment",
			"variable", key,
			"setpoint", setpoint,
			"actual", actual,
			"error", err,
			"integral", st.Integral,
			"adjustment", adjustments[key])
	}

	return adjustments
}

// State returns a copy of the state for a variable
func (c *Controller) State(key string) (State, bool) {
	st, ok := c.state[key]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Gains returns the configured gains
func (c *Controller) Gains() Gains {
	return c.gains
}
