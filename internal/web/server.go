package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/metrics"
	"github.com/sloppy/orangesage/internal/microservices"
	"github.com/sloppy/orangesage/internal/orchestrator"
	"github.com/sloppy/orangesage/internal/report"
)

// UserHeader carries the acting user's ID, set by the authenticating proxy
// in front of the server.
const UserHeader = "X-User-ID"

// ServiceHealth reports the reachability of the analysis services.
type ServiceHealth interface {
	Health(ctx context.Context) map[microservices.Service]microservices.Health
}

// Server wires the web handlers and dependencies.
type Server struct {
	DB       *db.DB
	Orch     *orchestrator.Orchestrator
	Metrics  *metrics.Metrics
	Services ServiceHealth
	Branding report.Branding
	Logger   *slog.Logger
	Router   chi.Router
}

// Option configures optional Server dependencies.
type Option func(*Server)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.Metrics = m } }

func WithServiceHealth(h ServiceHealth) Option { return func(s *Server) { s.Services = h } }

func WithBranding(b report.Branding) Option { return func(s *Server) { s.Branding = b } }

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.Logger = l } }

// NewServer constructs the router and registers routes.
func NewServer(database *db.DB, orch *orchestrator.Orchestrator, opts ...Option) *Server {
	server := &Server{DB: database, Orch: orch, Logger: slog.Default()}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withUser)

	r.Get("/", server.handleRoot)
	r.Get("/healthz", server.handleHealth)
	if server.Metrics != nil {
		r.Handle("/metrics", server.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(csrfGuard)
		r.Get("/projects", server.handleProjectsList)
		r.Post("/projects", server.handleProjectsCreate)
		r.Get("/projects/{id}", server.handleProjectDashboard)
		r.Post("/projects/{id}/delete", server.handleProjectsDelete)
		r.Post("/projects/{id}/targets", server.handleTargetsCreate)
		r.Post("/projects/{id}/scans", server.handleScansCreate)
		r.Get("/scans/{id}", server.handleScanDetail)
		r.Post("/scans/{id}/cancel", server.handleScanCancel)
		r.Post("/scans/{id}/findings/{findingID}/status", server.handleFindingStatusUpdate)
		r.Get("/scans/{id}/report", server.handleScanReport)
		r.Get("/scans/{id}/export", server.handleScanExport)
		r.Get("/projects/{id}/export", server.handleProjectExport)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(csrfGuard)
		r.Get("/projects", server.apiListProjects)
		r.Post("/projects", server.apiCreateProject)
		r.Get("/projects/{id}", server.apiGetProject)
		r.Delete("/projects/{id}", server.apiDeleteProject)
		r.Get("/projects/{id}/targets", server.apiListTargets)
		r.Post("/projects/{id}/targets", server.apiCreateTarget)
		r.Get("/projects/{id}/scans", server.apiListScans)
		r.Post("/projects/{id}/scans", server.apiCreateScan)
		r.Get("/scans/{id}", server.apiScanStatus)
		r.Post("/scans/{id}/start", server.apiStartScan)
		r.Post("/scans/{id}/cancel", server.apiCancelScan)
		r.Get("/scans/{id}/agents", server.apiListAgents)
		r.Get("/scans/{id}/findings", server.apiListFindings)
		r.Get("/scans/{id}/report", server.handleScanReport)
		r.Get("/scans/{id}/reports", server.apiListReports)
		r.Get("/findings/{id}", server.apiGetFinding)
		r.Patch("/findings/{id}", server.apiUpdateFinding)
		r.Get("/services/health", server.apiServicesHealth)
	})

	server.Router = r
	return server
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.Router
}

func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get(UserHeader); user != "" {
			r = r.WithContext(orchestrator.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}
