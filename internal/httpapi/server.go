// Package httpapi provides the HTTP API for playbookd: corpus
// ingestion, extraction and clustering runs, playbook aggregation,
// draft scoring and question answering.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/cluster"
	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/extraction"
	"github.com/fyrsmithlabs/playbookd/internal/pipeline"
	"github.com/fyrsmithlabs/playbookd/internal/qa"
	"github.com/fyrsmithlabs/playbookd/internal/score"
	"github.com/fyrsmithlabs/playbookd/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps holds the server's collaborators.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Scorer   *score.Scorer
	Router   *qa.Router
	Store    *store.Store
	Logger   *zap.Logger
	Config   config.Server
}

// Server provides HTTP endpoints for playbookd.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Pipeline
	scorer   *score.Scorer
	router   *qa.Router
	store    *store.Store
	logger   *zap.Logger
	config   config.Server
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if deps.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("qa router is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		pipeline: deps.Pipeline,
		scorer:   deps.Scorer,
		router:   deps.Router,
		store:    deps.Store,
		logger:   logger,
		config:   deps.Config,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ingest", s.handleIngest)
	v1.POST("/extract", s.handleExtract)
	v1.POST("/cluster", s.handleCluster)
	v1.POST("/playbooks", s.handleAggregate)
	v1.GET("/playbooks/:company_id/:doc_type", s.handleGetPlaybook)
	v1.POST("/score", s.handleScore)
	v1.POST("/ask", s.handleAsk)
}

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	Documents []corpus.Document `json:"documents"`
	Chunks    []corpus.Chunk    `json:"chunks"`
}

// IngestResponse is the response body for POST /api/v1/ingest.
type IngestResponse struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// ExtractRequest is the request body for POST /api/v1/extract.
type ExtractRequest struct {
	CompanyID    string               `json:"company_id"`
	PatternTypes []corpus.PatternType `json:"pattern_types,omitempty"`
}

// ClusterResponse is the response body for POST /api/v1/cluster.
type ClusterResponse struct {
	CompanyID string                     `json:"company_id"`
	Families  map[corpus.PatternType]int `json:"families"`
}

// AggregateRequest is the request body for POST /api/v1/playbooks.
type AggregateRequest struct {
	CompanyID string `json:"company_id"`
	DocType   string `json:"doc_type"`
}

// ScoreRequest is the request body for POST /api/v1/score.
type ScoreRequest struct {
	CompanyID string         `json:"company_id"`
	DocType   string         `json:"doc_type"`
	Draft     []corpus.Chunk `json:"draft"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 && len(req.Chunks) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents or chunks are required")
	}

	if err := s.pipeline.Ingest(c.Request().Context(), req.Documents, req.Chunks); err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, IngestResponse{
		Documents: len(req.Documents),
		Chunks:    len(req.Chunks),
	})
}

func (s *Server) handleExtract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CompanyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id is required")
	}

	report, err := s.pipeline.ExtractPatterns(c.Request().Context(), req.CompanyID, req.PatternTypes)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleCluster(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CompanyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id is required")
	}

	counts, err := s.pipeline.ClusterFamilies(c.Request().Context(), req.CompanyID, req.PatternTypes)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, ClusterResponse{CompanyID: req.CompanyID, Families: counts})
}

func (s *Server) handleAggregate(c echo.Context) error {
	var req AggregateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CompanyID == "" || req.DocType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id and doc_type are required")
	}

	pb, err := s.pipeline.BuildPlaybook(c.Request().Context(), req.CompanyID, req.DocType)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, pb)
}

func (s *Server) handleGetPlaybook(c echo.Context) error {
	pb, err := s.store.GetPlaybook(c.Request().Context(), c.Param("company_id"), c.Param("doc_type"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, pb)
}

func (s *Server) handleScore(c echo.Context) error {
	var req ScoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CompanyID == "" || req.DocType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id and doc_type are required")
	}
	if len(req.Draft) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "draft chunks are required")
	}

	ctx := c.Request().Context()
	pb, err := s.store.GetPlaybook(ctx, req.CompanyID, req.DocType)
	if err != nil {
		return s.mapError(err)
	}
	report, err := s.scorer.Score(ctx, pb, req.Draft)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleAsk(c echo.Context) error {
	var req qa.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CompanyID == "" || req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "company_id and question are required")
	}

	answer, err := s.router.Ask(c.Request().Context(), req)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, answer)
}

// mapError translates domain errors to HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, corpus.ErrEmptyCorpus):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, extraction.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, cluster.ErrScopeLocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, extraction.ErrServiceUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
