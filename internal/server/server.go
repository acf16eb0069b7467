package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/readpipe/internal/middleware"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config contains server configuration
type Config struct {
	Addr             string
	StreamInterval   time.Duration
	RunID            string
	Development      bool
	CORS             middleware.CORSConfig
	RateLimit        middleware.RateLimitConfig
	RateLimitEnabled bool
}

// ConfigFrom derives the server configuration for one run
func ConfigFrom(cfg *config.Config, runID string) Config {
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	rl.Burst = cfg.RateLimit.Burst
	cors := middleware.DefaultCORSConfig()
	if len(cfg.Server.Origins) > 0 {
		cors.Origins = cfg.Server.Origins
	}
	return Config{
		Addr:             cfg.Server.Addr,
		StreamInterval:   cfg.Server.StreamInterval,
		RunID:            runID,
		Development:      cfg.Logging.Development,
		CORS:             cors,
		RateLimit:        rl,
		RateLimitEnabled: cfg.RateLimit.Enabled,
	}
}

// Server exposes pipeline progress over HTTP
type Server struct {
	cfg      Config
	router   *gin.Engine
	source   monitoring.StatsSource
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	closing  chan struct{}
	stopOnce sync.Once
}

// New creates a status server. source is sampled on every /stats request
// and stream tick; gatherer backs /metrics.
func New(cfg Config, source monitoring.StatsSource, metrics *monitoring.Metrics, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics(prometheus.NewRegistry())
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = time.Second
	}

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.CORS))
	if cfg.RateLimitEnabled {
		logger.Debug("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	s := &Server{
		cfg:     cfg,
		router:  router,
		source:  source,
		metrics: metrics,
		logger:  logger,
		closing: make(chan struct{}),
	}

	router.GET("/health", s.health)
	router.GET("/stats", s.stats)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/stream", s.stream)

	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is cancelled, then shuts down
// gracefully and closes open streams.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		s.stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server failed: %w", err)
	case <-ctx.Done():
	}

	s.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	s.logger.Debug("Status server stopped")
	return nil
}

// stop releases open streams, which Shutdown does not track
func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.closing) })
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"run_id":         s.cfg.RunID,
		"uptime_seconds": s.metrics.Snapshot().UptimeSeconds,
	})
}

// StatsResponse is the /stats body
type StatsResponse struct {
	RunID   string                        `json:"run_id"`
	Stages  map[string]map[string]float64 `json:"stages"`
	Metrics monitoring.MetricsSnapshot    `json:"metrics"`
}

func (s *Server) snapshot() StatsResponse {
	return StatsResponse{
		RunID:   s.cfg.RunID,
		Stages:  groupStats(s.sample()),
		Metrics: s.metrics.Snapshot(),
	}
}

func (s *Server) sample() map[string]float64 {
	if s.source == nil {
		return nil
	}
	return s.source()
}

func (s *Server) stats(c *gin.Context) {
	data, err := sonic.Marshal(s.snapshot())
	if err != nil {
		s.logger.Error("Failed to encode stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode stats"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// groupStats nests flat "node.stat" keys by node
func groupStats(flat map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for key, v := range flat {
		node, stat := pipeline.Split(key)
		if node == "" {
			node = "pipeline"
		}
		if out[node] == nil {
			out[node] = make(map[string]float64)
		}
		out[node][stat] = v
	}
	return out
}
