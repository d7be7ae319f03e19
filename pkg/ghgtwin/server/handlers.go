package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/anomaly"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/batch"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/cache"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/emission"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/report"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/scenario"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/simulation"
)

// AnomalyResponse is the body of POST /v1/anomalies
type AnomalyResponse struct {
	Features  []string         `json:"features"`
	Batches   int              `json:"batches"`
	Anomalies int              `json:"anomalies"`
	Results   []anomaly.Result `json:"results"`
}

func errorJSON(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"requestId": requestID(c),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleFactors(c *gin.Context) {
	m := emission.NewModel(s.cfg.EmissionFactors, s.cfg.DefaultFactor)
	c.JSON(http.StatusOK, gin.H{
		"factors":       m.Factors(),
		"defaultFactor": m.DefaultFactor(),
	})
}

func (s *Server) handleScenarios(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scenarios": scenario.Presets()})
}

// requestConfig copies the server defaults and overlays the JSON scenario overrides in
// the request body, if any, then the preset named by ?scenario=
func (s *Server) requestConfig(c *gin.Context) (*config.Config, error) {
	cfg := s.cfg.DeepCopy()

	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg.Scenario); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid scenario body: %w", err)
	}

	if name := c.Query("scenario"); name != "" {
		applied, err := scenario.Apply(cfg.Scenario, name)
		if err != nil {
			return nil, err
		}
		if applied.Name == scenario.Custom {
			applied.Name = cfg.Scenario.Name
		}
		cfg.Scenario = applied
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seriesOptions reads ?maxPoints= and ?strategy=
func (s *Server) seriesOptions(c *gin.Context) (report.DownsamplingStrategy, int, error) {
	maxPoints := s.cfg.Server.MaxSeriesPoints
	if raw := c.Query("maxPoints"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("maxPoints must be a non-negative integer, got %q", raw)
		}
		maxPoints = n
	}
	return report.StrategyFor(c.Query("strategy")), maxPoints, nil
}

func (s *Server) respondReport(c *gin.Context, rep *report.Report, strategy report.DownsamplingStrategy, maxPoints int) {
	if maxPoints > 0 {
		rep = rep.WithSeries(rep.Downsampled(strategy, maxPoints))
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleSimulate(c *gin.Context) {
	strategy, maxPoints, err := s.seriesOptions(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.requestConfig(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	key, err := cache.Fingerprint(cfg)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if s.reports != nil {
		if rep, ok := s.reports.Get(key); ok {
			simulation.CacheLookups.WithLabelValues("hit").Inc()
			klog.V(4).InfoS("Serving cached report", "key", key, "runID", rep.RunID)
			s.respondReport(c, rep, strategy, maxPoints)
			return
		}
		simulation.CacheLookups.WithLabelValues("miss").Inc()
	}

	rep, err := s.runner.Run(c.Request.Context(), cfg)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if s.reports != nil {
		s.reports.Set(key, rep)
	}
	s.respondReport(c, rep, strategy, maxPoints)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	strategy, maxPoints, err := s.seriesOptions(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	records, err := batch.ReadCSV(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	rep, err := s.runner.Analyze(c.Request.Context(), s.cfg, records)
	if err != nil {
		var missing *anomaly.MissingFeaturesError
		if errors.As(err, &missing) {
			errorJSON(c, http.StatusUnprocessableEntity, err)
			return
		}
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	s.respondReport(c, rep, strategy, maxPoints)
}

func (s *Server) handleCompare(c *gin.Context) {
	name := c.Query("scenario")
	if name == "" {
		errorJSON(c, http.StatusBadRequest, fmt.Errorf("query parameter scenario is required"))
		return
	}
	if _, err := scenario.Apply(s.cfg.Scenario, name); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	// The preset is applied by Compare, not by requestConfig
	q := c.Request.URL.Query()
	q.Del("scenario")
	c.Request.URL.RawQuery = q.Encode()

	cfg, err := s.requestConfig(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	cmp, err := scenario.Compare(c.Request.Context(), s.runner, cfg, name)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (s *Server) handleAnomalies(c *gin.Context) {
	var records []*batch.Record
	if sample, _ := strconv.ParseBool(c.Query("sample")); sample {
		records = anomaly.SampleDataset(s.cfg.Anomaly.Seed)
	} else {
		var err error
		records, err = batch.ReadTable(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}

	results, features, err := s.runner.Anomalies(c.Request.Context(), s.cfg, records)
	if err != nil {
		var missing *anomaly.MissingFeaturesError
		if errors.As(err, &missing) {
			errorJSON(c, http.StatusUnprocessableEntity, err)
			return
		}
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	resp := AnomalyResponse{
		Features: features,
		Batches:  len(results),
		Results:  results,
	}
	for _, r := range results {
		if r.Label == anomaly.Anomalous {
			resp.Anomalies++
		}
	}
	c.JSON(http.StatusOK, resp)
}
