package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"optrack.evalgo.org/config"
	"optrack.evalgo.org/db"
	apihttp "optrack.evalgo.org/http"
	"optrack.evalgo.org/metrics"
	"optrack.evalgo.org/otel"
	"optrack.evalgo.org/queue"
	"optrack.evalgo.org/statemanager"
	"optrack.evalgo.org/sweeper"
	"optrack.evalgo.org/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP API, worker pool and recovery sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "HTTP listen port")
	serveCmd.Flags().String("amqp-url", "", "RabbitMQ URL for lifecycle events (empty disables)")

	bindFlags(serveCmd.Flags(), map[string]string{
		"server.port":     "port",
		"events.amqp_url": "amqp-url",
	})
}

// runServer wires every component and blocks until ctx is cancelled.
// Shutdown first stops execution scheduling, then drains HTTP, waits for
// in-flight status changes, stops the worker pool and finally the sweeper.
func runServer(ctx context.Context, cfg *config.Config) error {
	log := serviceLogger(cfg)

	b, err := openBackends(cfg, log, true)
	if err != nil {
		return err
	}
	defer b.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(b.gdb); err != nil {
			return err
		}
	}

	tracing, err := openTracing(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer tracing.Shutdown(context.Background())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(cfg.Metrics.Namespace, registry)

	observers := statemanager.Observers{
		statemanager.NewLogObserver(log),
		collector,
	}
	if cfg.Events.AMQPURL != "" {
		publisher, err := queue.NewEventPublisher(cfg.Events.AMQPURL, cfg.Events.Queue, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		observers = append(observers, publisher)
		log.WithField("queue", cfg.Events.Queue).Info("Publishing lifecycle events")
	}

	pool := worker.NewPool(worker.Config{
		Concurrency: cfg.Lifecycle.WorkerConcurrency,
		Logger:      log,
	})

	manager := statemanager.New(statemanager.Config{
		Store:     b.store,
		Ledger:    b.ledger,
		Locker:    b.locker(),
		Cache:     b.cache(),
		Scheduler: pool,
		Executor:  statemanager.SimulatedWork(cfg.Lifecycle.WorkDuration),
		Observer:  observers,
		Logger:    log,
		LockTTL:   cfg.Lifecycle.LockTTL,
		CacheTTL:  cfg.Lifecycle.CacheTTL,
	})

	if stats, err := manager.Stats(ctx); err != nil {
		log.WithError(err).Warn("could not seed running gauge")
	} else {
		collector.SeedRunning(stats.ByStatus[statemanager.StatusRunning])
	}

	sw := sweeper.New(sweeperConfig(cfg, b, observers, log))
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sw.Run(sweepCtx)
	}()

	serverCfg := apihttp.ServerConfig{
		Addr:            cfg.Server.Addr(),
		Debug:           cfg.Server.Debug,
		BodyLimit:       cfg.Server.BodyLimit,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       cfg.Server.RateLimit,
		Logger:          log,
	}
	if tracing != nil {
		serverCfg.Tracing = tracing.Middleware()
	}
	e := apihttp.NewEchoServer(serverCfg)
	e.GET("/health", apihttp.HealthCheckHandlerWithChecks(cfg.Service.Name, cfg.Service.Version, b.healthChecks()))
	if cfg.Metrics.Enabled {
		metrics.RegisterMetricsEndpoint(e, cfg.Metrics.Path, registry)
	}
	manager.RegisterRoutes(e.Group(""))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apihttp.StartServer(e, serverCfg)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err = <-serverErr:
		if err != nil {
			log.WithError(err).Error("server stopped unexpectedly")
		}
	}

	shutdown(log, cfg, manager.BeginShutdown,
		func() error { return apihttp.GracefulShutdown(e, cfg.Server.ShutdownTimeout) },
		manager.Shutdown, pool.Shutdown)

	stopSweeper()
	<-sweeperDone
	return err
}

// shutdown runs begin before draining HTTP so requests still in flight can
// no longer schedule executions, then runs the remaining stages in order.
func shutdown(log logrus.FieldLogger, cfg *config.Config, begin func(), server func() error, stages ...func(context.Context) error) {
	begin()
	if err := server(); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, stage := range stages {
		if err := stage(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.WithError(err).Warn("shutdown stage failed")
		} else if err != nil {
			log.Warn("shutdown timed out, abandoned work will be reclaimed by the sweeper")
			return
		}
	}
}

// openTracing returns nil when tracing is disabled
func openTracing(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*otel.Provider, error) {
	if !cfg.Tracing.Enabled {
		return nil, nil
	}
	provider, err := otel.NewProvider(ctx, otel.Config{
		ServiceName:   cfg.Service.Name,
		Version:       cfg.Service.Version,
		Environment:   cfg.Service.Environment,
		Endpoint:      cfg.Tracing.Endpoint,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"endpoint": cfg.Tracing.Endpoint,
		"sampling": cfg.Tracing.SamplingRatio,
	}).Info("OpenTelemetry tracing enabled")
	return provider, nil
}

func sweeperConfig(cfg *config.Config, b *backends, observer statemanager.Observer, log logrus.FieldLogger) sweeper.Config {
	sc := sweeper.Config{
		Store:     b.store,
		Interval:  cfg.Lifecycle.SweepInterval,
		Threshold: cfg.Lifecycle.StuckThreshold,
		Observer:  observer,
		Logger:    log,
		Ledger:    b.ledger,
		Retention: cfg.Lifecycle.IdempotencyRetention,
	}
	if b.redis != nil {
		sc.Cache = b.redis
	}
	return sc
}
