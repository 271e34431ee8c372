package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/config"
	"github.com/FairForge/vaultaire-recovery/internal/ha"
	"github.com/FairForge/vaultaire-recovery/internal/metrics"
	"github.com/FairForge/vaultaire-recovery/internal/tenant"
)

const version = "0.1.0"

// Options wires the server to the engine
type Options struct {
	Config   *config.Config
	Logger   *zap.Logger
	Tenants  *tenant.Registry
	DR       *ha.Executor
	Sites    *ha.SiteManager
	Recorder *metrics.Recorder
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	tenants    *tenant.Registry
	dr         *ha.Executor
	sites      *ha.SiteManager
	recorder   *metrics.Recorder
	limiter    *RateLimiter
	validator  *validator

	startTime time.Time
}

// NewServer builds the router and HTTP server
func NewServer(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    cfg,
		logger:    logger.Named("api"),
		router:    mux.NewRouter(),
		tenants:   opts.Tenants,
		dr:        opts.DR,
		sites:     opts.Sites,
		recorder:  recorder,
		validator: v,
		startTime: time.Now(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.Handle("/metrics", s.recorder.Handler()).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.tenantMiddleware)
	if s.limiter != nil {
		api.Use(RateLimitMiddleware(s.limiter, s.recorder))
	}

	// Jobs and executions
	api.HandleFunc("/jobs", s.handleCreateJob).Methods("POST")
	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleUpdateJob).Methods("PUT")
	api.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/run", s.handleRunJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/executions", s.handleListExecutions).Methods("GET")
	api.HandleFunc("/jobs/{id}/executions/{execID}", s.handleGetExecution).Methods("GET")
	api.HandleFunc("/jobs/{id}/restore", s.handleRestore).Methods("POST")

	// Tenant-wide views and actions
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")
	api.HandleFunc("/statistics", s.handleStatistics).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/storage", s.handleStorage).Methods("GET")
	api.HandleFunc("/emergency", s.handleEmergency).Methods("POST")
	api.HandleFunc("/cleanup", s.handleCleanup).Methods("POST")

	// Disaster recovery
	api.HandleFunc("/dr/plans", s.handleCreatePlan).Methods("POST")
	api.HandleFunc("/dr/plans", s.handleListPlans).Methods("GET")
	api.HandleFunc("/dr/plans/{id}", s.handleGetPlan).Methods("GET")
	api.HandleFunc("/dr/plans/{id}", s.handleUpdatePlan).Methods("PUT")
	api.HandleFunc("/dr/plans/{id}", s.handleDeletePlan).Methods("DELETE")
	api.HandleFunc("/dr/plans/{id}/activate", s.handleActivate).Methods("POST")
	api.HandleFunc("/dr/plans/{id}/activations", s.handleListActivations).Methods("GET")
	api.HandleFunc("/dr/plans/{id}/test", s.handleTestPlan).Methods("POST")
	api.HandleFunc("/dr/plans/{id}/failover", s.handleFailover).Methods("POST")
	api.HandleFunc("/dr/plans/{id}/failback", s.handleFailback).Methods("POST")
	api.HandleFunc("/dr/activations/{id}", s.handleGetActivation).Methods("GET")
	api.HandleFunc("/dr/status", s.handleDRStatus).Methods("GET")
	api.HandleFunc("/dr/recovery", s.handleRecoveryMetrics).Methods("GET")
	api.HandleFunc("/dr/sites", s.handleSites).Methods("GET")
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": version,
		"uptime":  time.Since(s.startTime).Seconds(),
		"tenants": len(s.tenants.Tenants()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": version,
		"go":      runtime.Version(),
	})
}

// ApplyRateLimit updates the per-tenant limits of a running server. The
// limiter itself cannot be switched on or off without a restart.
func (s *Server) ApplyRateLimit(cfg config.RateLimitConfig) {
	if s.limiter == nil {
		if cfg.Enabled {
			s.logger.Warn("rate limiting was disabled at startup, restart to enable it")
		}
		return
	}
	s.limiter.SetLimits(cfg.RequestsPerSecond, cfg.Burst)
	s.logger.Info("rate limits updated",
		zap.Float64("requests_per_second", cfg.RequestsPerSecond),
		zap.Int("burst", cfg.Burst))
}

func (s *Server) Start() error {
	s.logger.Info("starting server", zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
