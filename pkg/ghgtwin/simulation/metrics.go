package simulation

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ghgtwin"

// Run sources
const (
	SourceSimulate  = "simulate"
	SourceAnalyze   = "analyze"
	SourceAnomalies = "anomalies"
)

var (
	// RunsTotal counts pipeline runs by source and result
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Number of pipeline runs by source and result",
		},
		[]string{"source", "result"}, // result: "success", "error"
	)

	// BatchesTotal counts evaluated batches by product
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Number of batches evaluated by product",
		},
		[]string{"product"},
	)

	// BatchGHG tracks the per-batch emission distribution
	BatchGHG = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_ghg_kgco2e",
			Help:      "Per-batch GHG emissions in kgCO2e",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 14),
		},
		[]string{"product"},
	)

	// Changeovers reports product changeovers of the latest run
	Changeovers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "changeovers",
			Help:      "Product changeovers in the latest run",
		},
		[]string{"source"},
	)

	// AnomaliesTotal counts batches labeled anomalous
	AnomaliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Number of batches labeled anomalous",
		},
	)

	// RunDuration measures pipeline latency
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Latency of pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 15),
		},
		[]string{"source"},
	)

	// CacheLookups counts report cache lookups by result
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Report cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(BatchGHG)
	prometheus.MustRegister(Changeovers)
	prometheus.MustRegister(AnomaliesTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(CacheLookups)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
