package main

import (
	"encoding/csv"
	"encoding/json"
	goflag "flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/anomaly"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/cache"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/report"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/scenario"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/server"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/simulation"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/unitop"
)

const (
	outputText = "text"
	outputJSON = "json"
)

type rootOptions struct {
	configPath      string
	metricsTextfile string
	output          string

	cfg    *config.Config
	runner *simulation.Runner
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{runner: simulation.NewRunner()}

	cmd := &cobra.Command{
		Use:           "ghgtwin",
		Short:         "Pharmaceutical batch GHG digital twin",
		Long:          "Simulates pharmaceutical batch production, attributes greenhouse gas emissions to unit operations and flags anomalous batches.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != outputText && opts.output != outputJSON {
				return fmt.Errorf("unsupported output %q, expected %s or %s", opts.output, outputText, outputJSON)
			}
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			path := opts.metricsTextfile
			if path == "" && opts.cfg != nil {
				path = opts.cfg.Observability.MetricsTextfile
			}
			if path == "" {
				return nil
			}
			return writeMetricsTextfile(path)
		},
	}

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file (GHGTWIN_* variables still apply)")
	cmd.PersistentFlags().StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the command completes")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputText, "Output format: text or json")

	cmd.AddCommand(
		newSimulateCommand(opts),
		newAnalyzeCommand(opts),
		newCompareCommand(opts),
		newAnomaliesCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.LoadFile(path)
}

type scenarioFlags struct {
	preset      string
	batches     int
	seed        uint64
	optimize    bool
	anomalies   bool
	carbonPrice float64
}

func (f *scenarioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.preset, "scenario", "", "Apply a named preset: "+strings.Join(scenario.Names(), ", "))
	cmd.Flags().IntVar(&f.batches, "batches", 0, "Number of batches to generate")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Random seed")
	cmd.Flags().BoolVar(&f.optimize, "optimize", false, "Group batches by product to minimize changeovers")
	cmd.Flags().BoolVar(&f.anomalies, "anomalies", false, "Run anomaly detection on the batches")
	cmd.Flags().Float64Var(&f.carbonPrice, "carbon-price", 0, "Carbon price in $/ton CO2e")
}

// apply overlays explicitly set flags onto cfg
func (f *scenarioFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("batches") {
		cfg.Scenario.Batches = f.batches
	}
	if flags.Changed("seed") {
		cfg.Scenario.Seed = f.seed
	}
	if flags.Changed("optimize") {
		cfg.Scenario.OptimizeSequence = f.optimize
	}
	if flags.Changed("anomalies") {
		cfg.Anomaly.Enabled = f.anomalies
	}
	if flags.Changed("carbon-price") {
		cfg.Scenario.CarbonPrice = f.carbonPrice
	}
	if f.preset != "" {
		s, err := scenario.Apply(cfg.Scenario, f.preset)
		if err != nil {
			return err
		}
		if s.Name == scenario.Custom {
			s.Name = cfg.Scenario.Name
		}
		cfg.Scenario = s
	}
	return nil
}

func newSimulateCommand(opts *rootOptions) *cobra.Command {
	var (
		flags scenarioFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate batches for a scenario and report their emissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, opts.cfg); err != nil {
				return err
			}
			rep, err := opts.runner.Run(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			return opts.emitReport(cmd.OutOrStdout(), rep, out)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "Export the batch table to a .csv or .xlsx file")
	return cmd
}

func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	var (
		out       string
		optimize  bool
		anomalies bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <csv>",
		Short: "Compute emissions for an existing batch table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readTable(args[0], batch.ReadCSV)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("optimize") {
				opts.cfg.Scenario.OptimizeSequence = optimize
			}
			if cmd.Flags().Changed("anomalies") {
				opts.cfg.Anomaly.Enabled = anomalies
			}
			rep, err := opts.runner.Analyze(cmd.Context(), opts.cfg, records)
			if err != nil {
				return err
			}
			return opts.emitReport(cmd.OutOrStdout(), rep, out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Export the batch table to a .csv or .xlsx file")
	cmd.Flags().BoolVar(&optimize, "optimize", false, "Group batches by product to minimize changeovers")
	cmd.Flags().BoolVar(&anomalies, "anomalies", false, "Run anomaly detection on the batches")
	return cmd
}

func newCompareCommand(opts *rootOptions) *cobra.Command {
	var flags scenarioFlags
	cmd := &cobra.Command{
		Use:   "compare <scenario>",
		Short: "Compare a named scenario against the baseline on the same batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.preset != "" {
				return fmt.Errorf("--scenario is not supported by compare, pass the scenario as an argument")
			}
			if err := flags.apply(cmd, opts.cfg); err != nil {
				return err
			}
			cmp, err := scenario.Compare(cmd.Context(), opts.runner, opts.cfg, args[0])
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), cmp)
			}
			return printComparison(cmd.OutOrStdout(), cmp)
		},
	}
	flags.register(cmd)
	return cmd
}

func newAnomaliesCommand(opts *rootOptions) *cobra.Command {
	var (
		sample bool
		out    string
	)
	cmd := &cobra.Command{
		Use:   "anomalies [csv]",
		Short: "Label batches as normal or anomalous with an isolation forest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []*batch.Record
			switch {
			case sample && len(args) == 0:
				records = anomaly.SampleDataset(opts.cfg.Anomaly.Seed)
			case !sample && len(args) == 1:
				var err error
				records, err = readTable(args[0], func(r io.Reader) ([]*batch.Record, error) {
					return batch.ReadTable(r)
				})
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("pass either a CSV file or --sample")
			}

			results, features, err := opts.runner.Anomalies(cmd.Context(), opts.cfg, records)
			if err != nil {
				return err
			}
			if out != "" {
				if err := writeAnomaliesCSV(out, results); err != nil {
					return err
				}
			}
			if opts.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), server.AnomalyResponse{
					Features:  features,
					Batches:   len(results),
					Anomalies: countAnomalous(results),
					Results:   results,
				})
			}
			return printAnomalies(cmd.OutOrStdout(), results, features)
		},
	}
	cmd.Flags().BoolVar(&sample, "sample", false, "Use the built-in sample KPI table")
	cmd.Flags().StringVar(&out, "out", "", "Write labels to a .csv file")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				opts.cfg.Server.Port = port
			}
			if err := opts.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			reports := cache.New(opts.cfg.Server.CacheTTL, opts.cfg.Server.MaxCacheAge)
			defer reports.Close()
			return server.New(opts.cfg, opts.runner, reports).Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port")
	return cmd
}

func readTable(path string, parse func(io.Reader) ([]*batch.Record, error)) ([]*batch.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	records, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

func (o *rootOptions) emitReport(w io.Writer, rep *report.Report, out string) error {
	if out != "" {
		if err := rep.Export(out); err != nil {
			return err
		}
	}
	if o.output == outputJSON {
		return writeJSON(w, rep)
	}
	return printReport(w, rep)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, rep *report.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	s := rep.Summary
	fmt.Fprintf(tw, "Run\t%s\n", rep.RunID)
	fmt.Fprintf(tw, "Scenario\t%s\n", rep.Scenario)
	fmt.Fprintf(tw, "Batches\t%d\n", s.Batches)
	fmt.Fprintf(tw, "Changeovers\t%d\n", rep.Changeovers)
	fmt.Fprintf(tw, "Total GHG\t%.2f kgCO2e\n", s.TotalGHG)
	fmt.Fprintf(tw, "Mean GHG per batch\t%.2f kgCO2e (sd %.2f, p90 %.2f)\n", s.MeanGHG, s.StdDevGHG, s.P90GHG)
	fmt.Fprintf(tw, "Carbon cost\t$%s at $%g/t\n", rep.CarbonCost.StringFixed(2), rep.CarbonPrice)
	if rep.AnomalyFeatures != nil {
		fmt.Fprintf(tw, "Anomalies\t%d\n", rep.Anomalies)
	}
	fmt.Fprintln(tw)

	total := rep.Operations.Total()
	fmt.Fprintln(tw, "Operation\tkgCO2e\tShare")
	for _, k := range unitop.Kinds() {
		share := 0.0
		if total != 0 {
			share = rep.Operations[k] / total * 100
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.1f%%\n", k, rep.Operations[k], share)
	}
	return tw.Flush()
}

func printComparison(w io.Writer, cmp *scenario.Comparison) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "\t%s\t%s\n", cmp.Baseline.Scenario, cmp.Scenario.Scenario)
	fmt.Fprintf(tw, "Mean GHG (kgCO2e)\t%.2f\t%.2f\n", cmp.Baseline.MeanGHG, cmp.Scenario.MeanGHG)
	fmt.Fprintf(tw, "Total GHG (kgCO2e)\t%.2f\t%.2f\n", cmp.Baseline.TotalGHG, cmp.Scenario.TotalGHG)
	fmt.Fprintf(tw, "Carbon cost ($)\t%s\t%s\n", cmp.Baseline.CarbonCost.StringFixed(2), cmp.Scenario.CarbonCost.StringFixed(2))
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Change in mean GHG\t%+.2f kgCO2e (%+.2f%%)\n", cmp.DeltaMeanGHG, cmp.DeltaPercent)
	fmt.Fprintf(tw, "Change in carbon cost\t$%s\n", cmp.DeltaCost.StringFixed(2))
	return tw.Flush()
}

func printAnomalies(w io.Writer, results []anomaly.Result, features []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Features\t%s\n", strings.Join(features, ", "))
	fmt.Fprintf(tw, "Batches\t%d\n", len(results))
	fmt.Fprintf(tw, "Anomalies\t%d\n", countAnomalous(results))
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Batch\tLabel\tScore\tDecision")
	for _, r := range results {
		if r.Label != anomaly.Anomalous {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\n", r.BatchID, r.Label, r.Score, r.Decision)
	}
	return tw.Flush()
}

func writeAnomaliesCSV(path string, results []anomaly.Result) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" && ext != "" {
		return fmt.Errorf("unsupported anomaly export format %q", ext)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeAnomalyRows(f, results); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func writeAnomalyRows(out io.Writer, results []anomaly.Result) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{batch.ColBatchID, batch.ColAnomaly, batch.ColAnomalyScore, batch.ColAnomalyDecision}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{strconv.Itoa(r.BatchID), string(r.Label), batch.FormatFloat(r.Score), batch.FormatFloat(r.Decision)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func countAnomalous(results []anomaly.Result) int {
	n := 0
	for _, r := range results {
		if r.Label == anomaly.Anomalous {
			n++
		}
	}
	return n
}
