// Package http provides the HTTP API for cprd.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rescuelabs/cprd/internal/analysis"
	"github.com/rescuelabs/cprd/internal/backend"
	"github.com/rescuelabs/cprd/internal/guidance"
	"github.com/rescuelabs/cprd/internal/session"
)

// Analyzer resolves one frame through the backend chain.
type Analyzer interface {
	Resolve(ctx context.Context, image []byte) (analysis.Result, error)
}

// Synthesizer turns raw measurements into coaching guidance.
type Synthesizer interface {
	Synthesize(r analysis.Result) guidance.Result
}

// Sessions is the session lifecycle surface the API exposes.
type Sessions interface {
	StartSession(ctx context.Context, deviceID string) (*session.Record, error)
	EnsureSession(ctx context.Context, sessionID, deviceID string) (*session.Record, error)
	RecordFrame(ctx context.Context, sessionID string, ar analysis.Result, gr guidance.Result) (*session.Record, error)
	UpdateCompressionCount(ctx context.Context, sessionID string, count int) error
	EndSession(ctx context.Context, sessionID string) (*session.Record, error)
	GetSession(ctx context.Context, sessionID string) (*session.Record, error)
}

// Summarizer produces the natural-language session debrief.
type Summarizer interface {
	Summarize(ctx context.Context, record *session.Record) string
}

// Server provides HTTP endpoints for cprd.
type Server struct {
	echo       *echo.Echo
	analyzer   Analyzer
	guide      Synthesizer
	sessions   Sessions
	summarizer Summarizer
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	MaxUploadBytes int64

	// Backends lists the analysis backends active in the fallback chain,
	// reported by the health endpoint.
	Backends []string
}

// NewServer creates a new HTTP server.
func NewServer(analyzer Analyzer, guide Synthesizer, sessions Sessions, summarizer Summarizer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if guide == nil {
		return nil, fmt.Errorf("guidance synthesizer is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session aggregator is required")
	}
	if summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Port: 8000}
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 10 << 20
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
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
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:       e,
		analyzer:   analyzer,
		guide:      guide,
		sessions:   sessions,
		summarizer: summarizer,
		logger:     logger,
		config:     cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/analyze", s.handleAnalyze)
	v1.POST("/sessions", s.handleStartSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/end", s.handleEndSession)
	v1.GET("/sessions/:id/summary", s.handleSummary)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string   `json:"status"`
	Backends []string `json:"backends,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Backends: s.config.Backends,
	})
}

// AnalyzeResponse is the response body for POST /api/v1/analyze.
type AnalyzeResponse struct {
	Analysis analysis.Result `json:"analysis"`
	Guidance guidance.Result `json:"guidance"`
	Session  *session.Record `json:"session,omitempty"`
}

// handleAnalyze runs one frame through the backend chain and the guidance
// rules. When a session_id form field is present the frame is also recorded
// into that session, creating it on first use.
func (s *Server) handleAnalyze(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	if file.Size > s.config.MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}

	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, s.config.MaxUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	if int64(len(data)) > s.config.MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}

	ctx := c.Request().Context()

	result, err := s.analyzer.Resolve(ctx, data)
	if errors.Is(err, backend.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded file is not a decodable image")
	}
	if err != nil {
		s.logger.Error("analysis failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "analysis failed")
	}

	coaching := s.guide.Synthesize(result)

	resp := AnalyzeResponse{Analysis: result, Guidance: coaching}

	if sessionID := c.FormValue("session_id"); sessionID != "" {
		deviceID := c.FormValue("device_id")
		if _, err := s.sessions.EnsureSession(ctx, sessionID, deviceID); err != nil {
			s.logger.Error("session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "session tracking failed")
		}

		record, err := s.sessions.RecordFrame(ctx, sessionID, result, coaching)
		if err != nil {
			if errors.Is(err, session.ErrEnded) {
				return echo.NewHTTPError(http.StatusConflict, "session has ended")
			}
			s.logger.Error("frame recording failed", zap.String("session_id", sessionID), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "session tracking failed")
		}

		var count int
		if _, ferr := fmt.Sscanf(c.FormValue("compression_count"), "%d", &count); ferr == nil && count > 0 {
			if err := s.sessions.UpdateCompressionCount(ctx, sessionID, count); err != nil {
				s.logger.Warn("compression count update failed", zap.String("session_id", sessionID), zap.Error(err))
			} else {
				record.CompressionCount = count
			}
		}
		resp.Session = record
	}

	return c.JSON(http.StatusOK, resp)
}

// StartSessionRequest is the request body for POST /api/v1/sessions.
type StartSessionRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleStartSession(c echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	record, err := s.sessions.StartSession(c.Request().Context(), req.DeviceID)
	if err != nil {
		s.logger.Error("session start failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start session")
	}
	return c.JSON(http.StatusCreated, record)
}

func (s *Server) handleGetSession(c echo.Context) error {
	record, err := s.sessions.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		s.logger.Error("session lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load session")
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) handleEndSession(c echo.Context) error {
	record, err := s.sessions.EndSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		s.logger.Error("session end failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not end session")
	}
	return c.JSON(http.StatusOK, record)
}

// SummaryResponse is the response body for GET /api/v1/sessions/:id/summary.
type SummaryResponse struct {
	SessionID string `json:"session_id"`
	Summary   string `json:"summary"`
}

func (s *Server) handleSummary(c echo.Context) error {
	ctx := c.Request().Context()
	record, err := s.sessions.GetSession(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		s.logger.Error("session lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load session")
	}

	return c.JSON(http.StatusOK, SummaryResponse{
		SessionID: record.SessionID,
		Summary:   s.summarizer.Summarize(ctx, record),
	})
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
