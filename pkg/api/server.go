package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"seatengine/pkg/api/middleware"
	"seatengine/pkg/apportionment"
	"seatengine/pkg/auth"
	"seatengine/pkg/coordination"
	"seatengine/pkg/logger"
	"seatengine/pkg/scheduler"
	"seatengine/pkg/storage"
)

// HealthCheck probes one dependency; a nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *middleware.RateLimiter

	elections   storage.ElectionStore
	tallies     storage.TallyStore
	results     storage.ResultSink
	runs        storage.RunStore
	dispatcher  *scheduler.Dispatcher
	engine      *apportionment.Engine
	registry    *apportionment.Registry
	coordinator coordination.Coordinator
	apiKeys     auth.APIKeyStore
	validator   *middleware.Validator
	checks      map[string]HealthCheck
	log         *zap.Logger
}

// Config holds API server configuration.
type Config struct {
	Port        string
	Elections   storage.ElectionStore
	Tallies     storage.TallyStore
	Results     storage.ResultSink
	Runs        storage.RunStore
	Queue       storage.Queue
	Engine      *apportionment.Engine
	Registry    *apportionment.Registry
	Coordinator coordination.Coordinator
	JWT         *auth.JWTService
	APIKeys     auth.APIKeyStore
	RateLimit   middleware.RateLimiterConfig
	Validation  middleware.ValidatorConfig
	// HealthChecks are probed by GET /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck
	Logger       *zap.Logger
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit = middleware.DefaultRateLimiterConfig()
	}
	if cfg.Validation.IDPattern == "" {
		cfg.Validation = middleware.DefaultValidatorConfig()
	}
	log := cfg.Logger.With(zap.String("component", "api"))

	router := gin.New()

	// order matters: request id and metrics wrap everything below them
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("seatengine-api"))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.BodySizeLimitMiddleware(cfg.Validation.MaxBodySize))

	s := &Server{
		router:      router,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimit),
		elections:   cfg.Elections,
		tallies:     cfg.Tallies,
		results:     cfg.Results,
		runs:        cfg.Runs,
		dispatcher:  scheduler.NewDispatcher(cfg.Runs, cfg.Queue),
		engine:      cfg.Engine,
		registry:    cfg.Registry,
		coordinator: cfg.Coordinator,
		apiKeys:     cfg.APIKeys,
		validator:   middleware.NewValidator(cfg.Validation),
		checks:      cfg.HealthChecks,
		log:         log,
	}

	s.registerRoutes(middleware.AuthConfig{JWTService: cfg.JWT, APIKeyStore: cfg.APIKeys})

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("Starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes(authCfg middleware.AuthConfig) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(authCfg))
	v1.Use(s.rateLimiter.Middleware())

	read := middleware.Observer()
	write := middleware.Commissioner()

	elections := v1.Group("/elections")
	{
		elections.POST("", write, s.createElection)
		elections.GET("/:id", read, s.getElection)
		elections.PUT("/:id/tallies", write, s.replaceTallies)
		elections.GET("/:id/tallies", read, s.getTallies)
		elections.GET("/:id/eligibility", read, s.evaluateEligibility)

		elections.POST("/:id/districts/:district/compute", read, s.computeDistrict)
		elections.POST("/:id/compute", read, s.computeElection)
		elections.POST("/:id/compare", read, s.compareMethods)

		elections.POST("/:id/runs", write, s.createRun)
		elections.GET("/:id/runs", read, s.listRuns)
		elections.GET("/:id/runs/:run", read, s.getRun)
		elections.GET("/:id/results", read, s.getResults)
	}

	v1.GET("/methods", read, s.listMethods)

	cluster := v1.Group("/cluster", read)
	{
		cluster.GET("/nodes", s.listNodes)
		cluster.GET("/leader", s.getLeader)
	}

	keys := v1.Group("/apikeys", middleware.Admin())
	{
		keys.POST("", s.createAPIKey)
		keys.GET("", s.listAPIKeys)
		keys.DELETE("/:key", s.revokeAPIKey)
	}
}

// healthCheck probes every registered dependency.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
