package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opensource-finance/heron/internal/alerts"
	"github.com/opensource-finance/heron/internal/cases"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/entity"
	"github.com/opensource-finance/heron/internal/evidence"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/risk"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/sar"
)

// Services bundles the engine components the API exposes.
type Services struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Audit    domain.AuditLogger
	Metrics  *metrics.Metrics
	Catalog  *rules.Catalog
	Evidence *evidence.Builder
	Risk     *risk.Service
	Alerts   *alerts.Manager
	Cases    *cases.Workflow
	SARs     *sar.Workflow
	Entities *entity.Assembler
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, auth domain.AuthConfig, svc Services, version string) *Server {
	handler := NewHandler(svc, version)
	router := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", ActorIDHeader, ActorRoleHeader, RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(MetricsMiddleware(svc.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health checks and metrics need no actor
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(auth.JWTSecret))

		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{ruleId}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		r.Post("/subjects", handler.CreateSubject)
		r.Get("/subjects/{id}", handler.GetSubject)
		r.Post("/subjects/{id}/documents", handler.AddDocument)
		r.Get("/subjects/{id}/view", handler.GetView)
		r.Get("/subjects/{id}/consistency", handler.CheckConsistency)
		r.Post("/subjects/{id}/assessments", handler.Assess)
		r.Get("/subjects/{id}/assessments", handler.ListAssessments)

		r.Post("/transactions", handler.RecordTransaction)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Post("/transactions/{id}/flag", handler.FlagTransaction)

		r.Get("/alerts/{id}", handler.GetAlert)
		r.Post("/alerts/{id}/notes", handler.AddAlertNote)
		r.Post("/alerts/{id}/investigate", handler.InvestigateAlert)
		r.Post("/alerts/{id}/escalate", handler.EscalateAlert)
		r.Post("/alerts/{id}/dismiss", handler.DismissAlert)

		r.Post("/cases", handler.CreateCase)
		r.Post("/cases/from-assessment", handler.CreateCaseFromAssessment)
		r.Get("/cases/{id}", handler.GetCase)
		r.Post("/cases/{id}/transition", handler.TransitionCase)
		r.Post("/cases/{id}/assign", handler.AssignCase)

		r.Post("/sars", handler.CreateSAR)
		r.Post("/sars/from-case", handler.CreateSARFromCase)
		r.Post("/sars/from-pattern", handler.CreateSARFromPattern)
		r.Get("/sars/{id}", handler.GetSAR)
		r.Post("/sars/{id}/actions", handler.ApplySARAction)
		r.Post("/sars/{id}/transactions", handler.LinkSARTransactions)
		r.Get("/sars/{id}/history", handler.SARHistory)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
