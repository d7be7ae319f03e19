// Package simulation wires generation, sequencing, emission accounting and anomaly
// detection into a single run.
package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/anomaly"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/clock"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/control"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/report"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/sequence"
)

// Runner executes simulation runs. It holds no per-run state, so one Runner may serve
// concurrent runs: every Run builds its own controller.
type Runner struct {
	clock clock.Clock
	newID func() string
}

// NewRunner returns a Runner using the system clock and random run IDs
func NewRunner() *Runner {
	return NewRunnerWithClock(clock.RealClock{})
}

// NewRunnerWithClock returns a Runner stamping reports with clk
func NewRunnerWithClock(clk clock.Clock) *Runner {
	return &Runner{
		clock: clk,
		newID: func() string { return uuid.NewString() },
	}
}

// Run generates the scenario's batches and derives the full report
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (rep *report.Report, err error) {
	start := r.clock.Now()
	defer func() { r.observe(cfg, SourceSimulate, start, rep, err) }()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var controller *control.Controller
	if cfg.Control.Enabled {
		controller = control.New(cfg.Control.Gains(), cfg.Control.IntegralLimit)
	}
	records := batch.NewGenerator(cfg.Scenario, controller, batch.DefaultSetpoints(cfg.Control)).Generate()

	return r.derive(ctx, cfg, records)
}

// Analyze derives a report from ingested records without generating any. The input
// records are not modified.
func (r *Runner) Analyze(ctx context.Context, cfg *config.Config, records []*batch.Record) (rep *report.Report, err error) {
	start := r.clock.Now()
	defer func() { r.observe(cfg, SourceAnalyze, start, rep, err) }()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no batches to analyze")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return r.derive(ctx, cfg, batch.CloneAll(records))
}

// Anomalies labels ingested records with the isolation forest regardless of whether
// detection is enabled in cfg
func (r *Runner) Anomalies(ctx context.Context, cfg *config.Config, records []*batch.Record) (results []anomaly.Result, features []string, err error) {
	start := r.clock.Now()
	defer func() {
		if !cfg.Observability.MetricsEnabled {
			return
		}
		RunsTotal.WithLabelValues(SourceAnomalies, resultLabel(err)).Inc()
		RunDuration.WithLabelValues(SourceAnomalies).Observe(r.clock.Since(start).Seconds())
		if err == nil {
			AnomaliesTotal.Add(float64(countAnomalous(results)))
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return anomaly.NewDetector(cfg.Anomaly, modelFor(cfg)).Detect(records)
}

func modelFor(cfg *config.Config) *emission.Model {
	return emission.NewModel(cfg.EmissionFactors, cfg.DefaultFactor)
}

// derive sequences the records and computes emissions, summary and anomalies
func (r *Runner) derive(ctx context.Context, cfg *config.Config, records []*batch.Record) (*report.Report, error) {
	s := cfg.Scenario
	if s.OptimizeSequence {
		records, _ = sequence.Optimize(records, s.ChangeoverPenalty)
	} else {
		sequence.Apply(records, s.ChangeoverPenalty)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model := modelFor(cfg)
	rep := report.Build(records, model, report.Options{
		RunID:         r.newID(),
		Scenario:      s.Name,
		GeneratedAt:   r.clock.Now(),
		CarbonPrice:   s.CarbonPrice,
		Substitutions: s.MaterialSubstitutions,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Anomaly.Enabled {
		results, features, err := anomaly.NewDetector(cfg.Anomaly, model).Detect(records)
		if err != nil {
			return nil, fmt.Errorf("anomaly detection failed: %w", err)
		}
		rep.AttachAnomalies(results, features)
	}

	klog.V(2).InfoS("Completed run",
		"runID", rep.RunID,
		"scenario", rep.Scenario,
		"batches", rep.Summary.Batches,
		"changeovers", rep.Changeovers,
		"totalGHG", rep.Summary.TotalGHG,
		"meanGHG", rep.Summary.MeanGHG,
		"carbonCost", rep.CarbonCost.StringFixed(2),
		"anomalies", rep.Anomalies)

	return rep, nil
}

func (r *Runner) observe(cfg *config.Config, source string, start time.Time, rep *report.Report, err error) {
	if err != nil {
		klog.ErrorS(err, "Run failed", "source", source, "scenario", cfg.Scenario.Name)
	}
	if !cfg.Observability.MetricsEnabled {
		return
	}

	RunsTotal.WithLabelValues(source, resultLabel(err)).Inc()
	RunDuration.WithLabelValues(source).Observe(r.clock.Since(start).Seconds())
	if err != nil || rep == nil {
		return
	}

	for _, b := range rep.Batches {
		BatchesTotal.WithLabelValues(string(b.Product)).Inc()
		BatchGHG.WithLabelValues(string(b.Product)).Observe(b.GHG)
	}
	Changeovers.WithLabelValues(source).Set(float64(rep.Changeovers))
	AnomaliesTotal.Add(float64(rep.Anomalies))
}

func countAnomalous(results []anomaly.Result) int {
	n := 0
	for _, res := range results {
		if res.Label == anomaly.Anomalous {
			n++
		}
	}
	return n
}
