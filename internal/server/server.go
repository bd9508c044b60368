// Package server provides the listings HTTP server.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/syvkst/curia/internal/catalog"
	"github.com/syvkst/curia/internal/config"
	"github.com/syvkst/curia/internal/metrics"
	"github.com/syvkst/curia/internal/session"
	"github.com/syvkst/curia/internal/store"
	"github.com/syvkst/curia/pkg/types"
)

const maxBodyBytes = 1 << 20

// Server wraps HTTP routes and dependencies.
type Server struct {
	store       store.Backend
	cfg         config.Config
	version     string
	commit      string
	buildDate   string
	openapiSpec []byte
	catalog     *catalog.Catalog
	editors     *session.Registry
	gatherer    prometheus.Gatherer
	metrics     *metrics.Store
	log         zerolog.Logger
	router      chi.Router

	// mutateMu serializes the read-modify-write case endpoints.
	mutateMu sync.Mutex
}

// Option configures server construction.
type Option func(*Server)

// WithOpenAPISpec sets the embedded OpenAPI bytes.
func WithOpenAPISpec(spec []byte) Option {
	return func(s *Server) {
		s.openapiSpec = spec
	}
}

// WithCatalog validates listing court refs against c.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithEditors serves remote edit sessions from reg under /listings/v1/editors.
func WithEditors(reg *session.Registry) Option {
	return func(s *Server) {
		s.editors = reg
	}
}

// WithMetrics serves g on /metrics and counts store operations in m.
func WithMetrics(g prometheus.Gatherer, m *metrics.Store) Option {
	return func(s *Server) {
		s.gatherer = g
		s.metrics = m
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.log = logger
	}
}

// New constructs a listings API server.
func New(st store.Backend, cfg config.Config, version, commit, buildDate string, opts ...Option) *Server {
	s := &Server{
		store:     st,
		cfg:       cfg,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		gatherer:  prometheus.DefaultGatherer,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewStore(nil)
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the configured router.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(recoverer(s.log))
	r.Use(secureHeaders)
	r.Use(middleware.RequestSize(maxBodyBytes))
	r.Use(apiVersion(types.APIVersion))
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Group(func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)
		r.Get("/version", s.handleVersion)
		if s.cfg.MetricsEnabled {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
		r.Get("/api/openapi.yaml", s.handleOpenAPI)
	})

	r.Route("/listings/v1", func(r chi.Router) {
		r.Use(requireJSONBody)

		r.Get("/listings", s.handleListListings)
		r.Post("/listings", s.handleCreateListing)
		r.Get("/listings/{id}", s.handleGetListing)
		r.Put("/listings/{id}", s.handleReplaceListing)
		r.Delete("/listings/{id}", s.handleDeleteListing)

		r.Post("/listings/{id}/cases", s.handleAddCase)
		r.Get("/listings/{id}/cases/{caseID}", s.handleGetCase)
		r.Put("/listings/{id}/cases/{caseID}", s.handleUpsertCase)
		r.Delete("/listings/{id}/cases/{caseID}", s.handleDeleteCase)

		r.Get("/listings/{id}/sort", s.handleGetSortStatus)
		r.Post("/listings/{id}/sort", s.handleSortCases)

		r.Get("/catalog/courts", s.handleListCourts)

		if s.editors != nil {
			r.Post("/editors", s.handleOpenEditor)
			r.Get("/editors/{editorID}", s.handleGetEditor)
			r.Put("/editors/{editorID}", s.handleSwitchEditor)
			r.Delete("/editors/{editorID}", s.handleCloseEditor)
			r.Post("/editors/{editorID}/messages", s.handleEditorMessage)
			r.Post("/editors/{editorID}/refresh", s.handleRefreshEditor)
		}
	})

	return r
}

func (s *Server) observe(operation string, err error) {
	s.metrics.Operations.WithLabelValues(operation, outcomeOf(err)).Inc()
}

// readinessTimeout bounds the store ping of a readiness probe.
const readinessTimeout = 2 * time.Second
