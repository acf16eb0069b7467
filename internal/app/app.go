package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model/accel"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
	"github.com/GriffinCanCode/readpipe/internal/server"
	"github.com/GriffinCanCode/readpipe/internal/shared/id"
)

// App runs one basecall or correction job
type App struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	runID    id.RunID
	command  string
	locks    *accel.Locks
}

// Option configures an App
type Option func(*App)

// WithLogger sets the application logger
func WithLogger(l *logging.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithCommandLine records the invocation in output headers
func WithCommandLine(cmd string) Option {
	return func(a *App) { a.command = cmd }
}

// WithRunID overrides the generated run ID
func WithRunID(run id.RunID) Option {
	return func(a *App) { a.runID = run }
}

// New validates cfg and prepares a run with its own metrics registry
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	registry := prometheus.NewRegistry()
	a := &App{
		cfg:      cfg,
		logger:   logging.NewNop(),
		registry: registry,
		metrics:  monitoring.NewMetrics(registry),
		runID:    id.NewRunID(),
		command:  "readpipe",
		locks:    accel.Shared(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RunID returns the identifier stamped on every read of this run
func (a *App) RunID() id.RunID { return a.runID }

// Metrics returns the run's metrics
func (a *App) Metrics() *monitoring.Metrics { return a.metrics }

// Registry returns the run's Prometheus registry
func (a *App) Registry() *prometheus.Registry { return a.registry }

func (a *App) devices() []int {
	devices, err := accel.ParseDevices(a.cfg.Pipeline.Device)
	if err != nil {
		return []int{0}
	}
	return devices
}

func (a *App) format() message.Format {
	f, _ := message.ParseFormat(a.cfg.Output.Format)
	return f
}

// node wraps proc in a pipeline node with the configured queue capacity
func (a *App) node(name string, proc pipeline.Processor, threads int) (*pipeline.Node, error) {
	return pipeline.NewNode(name, proc,
		pipeline.WithThreads(max(threads, 1)),
		pipeline.WithQueueCapacity(a.cfg.Pipeline.QueueCapacity),
	)
}

// feeder pushes every input message into p, stopping early when ctx ends
type feeder func(ctx context.Context, p *pipeline.Pipeline) error

// execute creates the pipeline, serves status while feed runs, then drains
// the pipeline. Stats are returned even when feeding failed.
func (a *App) execute(ctx context.Context, desc *pipeline.Descriptor, feed feeder) (pipeline.NamedStats, error) {
	p, err := pipeline.Create(desc, pipeline.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := a.registry.Register(monitoring.NewStatsCollector(func() map[string]float64 {
		return p.SampleStats()
	})); err != nil {
		a.logger.Warn("Stage stats not exported", zap.Error(err))
	}

	serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServer()

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Addr != "" {
		srv := server.New(server.ConfigFrom(a.cfg, a.runID.String()),
			func() map[string]float64 { return p.SampleStats() },
			a.metrics, a.registry, a.logger.Stage("server"))
		g.Go(func() error { return srv.Run(serverCtx) })
	}

	var stats pipeline.NamedStats
	start := time.Now()
	g.Go(func() error {
		defer stopServer()
		feedErr := feed(gctx, p)
		if feedErr != nil && ctx.Err() != nil {
			a.logger.Warn("Interrupted, draining reads already in flight")
		}
		stats = p.Terminate(pipeline.FlushOptions{})
		return feedErr
	})

	err = g.Wait()
	a.logStats(stats, time.Since(start))
	return stats, err
}

func (a *App) logStats(stats pipeline.NamedStats, elapsed time.Duration) {
	if stats == nil {
		return
	}
	fields := make([]zap.Field, 0, len(stats)+2)
	fields = append(fields, zap.String("run_id", a.runID.String()), logging.Elapsed(elapsed))
	for _, k := range stats.Keys() {
		fields = append(fields, zap.Float64(k, stats[k]))
	}
	a.logger.Info("Pipeline finished", fields...)
}
