package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"multimodal-rag/internal/chromemdb"
	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/pipeline"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Service is the part of the pipeline the HTTP API exposes.
type Service interface {
	Upload(ctx context.Context, name string, r io.Reader) (*pipeline.IngestReport, error)
	Ask(ctx context.Context, question string) (*pipeline.AskResult, error)
	IndexStats() (*chromemdb.Metadata, error)
}

var _ Service = (*pipeline.Pipeline)(nil)

type AskRequest struct {
	Question string `json:"question"`
}

// Server serves the document QA API. Pipeline calls are serialized: the
// index has a single writer and answers always see a fully saved index.
type Server struct {
	e   *echo.Echo
	svc Service
	mu  sync.Mutex
}

func New(svc Service, imagesDir string) *Server {
	s := &Server{e: echo.New(), svc: svc}
	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))
	e.HTTPErrorHandler = errorHandler

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.Static("/images", imagesDir)

	api := e.Group("/api")
	api.POST("/documents", s.uploadDocument)
	api.POST("/ask", s.ask)
	api.GET("/index", s.indexStats)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) uploadDocument(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}
	defer src.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	report, err := s.svc.Upload(c.Request().Context(), fh.Filename, src)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, report)
}

func (s *Server) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.svc.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) indexStats(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, err := s.svc.IndexStats()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, chromemdb.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, chromemdb.ErrConfigMismatch):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, pipeline.ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, llmservice.ErrModelCall):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(err error, c echo.Context) {
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Message != nil {
		msg = fmt.Sprint(he.Message)
	}
	req := c.Request()
	ev := log.Warn()
	if code >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Int("status", code).Str("method", req.Method).Str("path", req.URL.Path).Msg("Request failed")
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}
