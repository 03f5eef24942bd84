package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/framelink/internal/api/http"
	"github.com/GriffinCanCode/framelink/internal/api/middleware"
	"github.com/GriffinCanCode/framelink/internal/embed"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/config"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/framelink/internal/session"
	"github.com/GriffinCanCode/framelink/internal/transport"
	"github.com/GriffinCanCode/framelink/internal/transport/sandbox"
	"github.com/GriffinCanCode/framelink/internal/transport/wschan"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return New(cfg, logger)
}

// New creates a server that logs to logger.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger = logger.OrNop()
	logger.Info("Initializing framelink server",
		zap.String("port", cfg.Server.Port),
		zap.String("oembed", cfg.Embed.Endpoint),
		zap.Bool("sandbox", cfg.Sandbox.Enabled),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	policy, err := transport.NewOriginPolicy(cfg.TrustedOrigins()...)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted origins: %w", err)
	}

	frames, err := frameFactory(cfg, logger)
	if err != nil {
		return nil, err
	}

	resolver := embed.NewResolver(embed.ResolverConfig{
		Endpoint:   cfg.Embed.Endpoint,
		DisplayURL: cfg.Embed.DisplayURL,
		Timeout:    cfg.Embed.Timeout.Std(),
		Retries:    cfg.Embed.Retries,
		RetryWait:  500 * time.Millisecond,
		RPS:        cfg.Embed.RPS,
		UserAgent:  cfg.Embed.UserAgent,
		Policy:     policy,
	}, logger, metrics)
	builder := embed.NewBuilder(policy, wschan.DefaultOptions(), logger)

	sessions := session.NewManager(session.Options{
		Bus:      transport.NewBus(),
		Policy:   policy,
		Resolver: resolver,
		Builder:  builder,
		Logger:   logger,
		Metrics:  metrics,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	tracer := tracing.New("framelink", logger)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(middleware.Logger(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	handlers := api.NewHandlers(api.Options{
		Sessions:     sessions,
		Metrics:      metrics,
		Gatherer:     registry,
		Logger:       logger,
		Tracer:       tracer,
		Sandbox:      frames,
		Defaults:     embed.Params{},
		CallTimeout:  cfg.Session.CallTimeout.Std(),
		ReadyTimeout: cfg.Session.ReadyTimeout.Std(),
		WSOrigins:    cfg.Server.CORSOrigins,
	})
	handlers.Register(router)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// frameFactory returns the sandbox session factory, or nil when sandboxes are off.
func frameFactory(cfg *config.Config, logger *logging.Logger) (api.FrameFactory, error) {
	if !cfg.Sandbox.Enabled {
		return nil, nil
	}

	script := sandbox.DisplayScript
	if cfg.Sandbox.Script != "" {
		data, err := os.ReadFile(cfg.Sandbox.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read sandbox script: %w", err)
		}
		script = string(data)
	}

	frameCfg := sandbox.DefaultConfig()
	frameCfg.Origin = cfg.Sandbox.Origin
	frameCfg.JobTimeout = cfg.Sandbox.JobTimeout.Std()

	return func() (transport.Channel, error) {
		return sandbox.New(script, frameCfg, logger)
	}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones, then destroys
// every session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.http.Shutdown(ctx)
	s.sessions.Close()
	s.logger.Info("Closed all sessions")
	s.tracer.Close()

	_ = s.logger.Sync()
	return err
}

// Close shuts down immediately.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
