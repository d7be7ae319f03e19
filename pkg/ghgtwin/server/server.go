// Package server exposes simulation, analysis, comparison and anomaly detection over
// HTTP for the dashboard.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/cache"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/config"
	"github.com/elevated-systems/pharma-ghg-twin/pkg/ghgtwin/simulation"
)

const (
	maxBodyBytes    = 10 << 20
	shutdownTimeout = 10 * time.Second
)

// Server serves the HTTP API
type Server struct {
	cfg     *config.Config
	runner  *simulation.Runner
	reports *cache.Cache
	engine  *gin.Engine
}

// New builds the router. cfg supplies the defaults that request bodies override and must
// already be valid. reports may be nil to disable caching.
func New(cfg *config.Config, runner *simulation.Runner, reports *cache.Cache) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		reports: reports,
		engine:  gin.New(),
	}
	s.engine.Use(requestIDMiddleware(), loggerMiddleware(), recoveryMiddleware(), corsMiddleware(), gzipMiddleware())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.cfg.Observability.MetricsEnabled {
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.engine.Group("/v1")
	v1.GET("/factors", s.handleFactors)
	v1.GET("/scenarios", s.handleScenarios)
	v1.POST("/simulate", s.handleSimulate)
	v1.POST("/analyze", s.handleAnalyze)
	v1.POST("/compare", s.handleCompare)
	v1.POST("/anomalies", s.handleAnomalies)
}

// Handler returns the router as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured port until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	klog.InfoS("Starting API server", "addr", srv.Addr, "metrics", s.cfg.Observability.MetricsEnabled)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	klog.InfoS("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}
