// Package server exposes the report data endpoint and the operational routes
// of the report bridge.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Sternrassler/bitrix-report/pkg/logging"
	"github.com/Sternrassler/bitrix-report/pkg/metrics"
	"github.com/Sternrassler/bitrix-report/pkg/report"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// ReportDataPath is the route of the report data endpoint.
const ReportDataPath = "/api/reports/data"

// DefaultShutdownTimeout bounds graceful shutdown in Run.
const DefaultShutdownTimeout = 10 * time.Second

// ReportService produces report data for a query. *report.Service implements it.
type ReportService interface {
	GetReportData(ctx context.Context, q report.Query) (report.Result, error)
}

// Pinger checks a backing dependency for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Server serves the report API.
type Server struct {
	reports ReportService
	pinger  Pinger
	logger  zerolog.Logger
}

// New creates a server. pinger may be nil when no backing store is configured.
func New(reports ReportService, pinger Pinger) *Server {
	return &Server{
		reports: reports,
		pinger:  pinger,
		logger:  logging.NewLogger("http-server"),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	}))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get(ReportDataPath, s.handleReportData)

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting report server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "listen")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down report server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.pinger.Ping(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func (s *Server) handleReportData(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)
	q := report.QueryFromValues(r.URL.Query())

	logger.Debug().
		Str("date_from", q.DateFrom).
		Str("date_to", q.DateTo).
		Str("employee_id", q.EmployeeID).
		Str("project_name", q.ProjectName).
		Msg("Report data requested")

	result, err := s.reports.GetReportData(r.Context(), q)
	if err != nil {
		payload := NewErrorPayload(err)
		logger.Error().
			Err(err).
			Str("type", payload.Type).
			Str("file", payload.File).
			Int("line", payload.Line).
			Msg("Report data request failed")
		writeJSON(w, http.StatusInternalServerError, payload)
		return
	}

	if result.Items == nil {
		result.Items = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, result)
}

// requestIDLogger attaches chi's request id to the request logger.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			logger := zerolog.Ctx(r.Context())
			logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
