// Package api serves the report history over HTTP for monitoring.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/stock-importer/internal/report"
)

// ReportSource returns the history entries within the retention window.
type ReportSource interface {
	Recent() []report.Record
}

// Server is the read-only report API.
type Server struct {
	reports ReportSource
	router  *chi.Mux
}

// NewServer creates a Server with its middleware and routes.
func NewServer(reports ReportSource, corsOrigins []string) *Server {
	s := &Server{reports: reports, router: chi.NewRouter()}
	s.setupMiddleware(corsOrigins)
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware(corsOrigins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/reports", s.handleListReports)
	s.router.Get("/reports/{file}", s.handleLatestReport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListReports returns recent reports, optionally filtered by ?status=.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	records := s.reports.Recent()

	if status := r.URL.Query().Get("status"); status != "" {
		want := report.Status(status)
		switch want {
		case report.StatusPending, report.StatusSuccess, report.StatusCompletedWithErrors, report.StatusFailed:
		default:
			writeError(w, http.StatusBadRequest, "unknown status "+status)
			return
		}
		filtered := make([]report.Record, 0, len(records))
		for _, rec := range records {
			if rec.Status == want {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	writeJSON(w, http.StatusOK, records)
}

// handleLatestReport returns the most recent report for one file name.
func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	records := s.reports.Recent()
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].File == file {
			writeJSON(w, http.StatusOK, records[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "no recent report for "+file)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
