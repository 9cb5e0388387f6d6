package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docsignal/docsignal/internal/admin"
	"github.com/docsignal/docsignal/internal/auth"
	"github.com/docsignal/docsignal/internal/config"
	"github.com/docsignal/docsignal/internal/db"
	"github.com/docsignal/docsignal/internal/dispatch"
	"github.com/docsignal/docsignal/internal/health"
	"github.com/docsignal/docsignal/internal/logging"
	"github.com/docsignal/docsignal/internal/metrics"
	"github.com/docsignal/docsignal/internal/retry"
	"github.com/docsignal/docsignal/internal/store"
	"github.com/docsignal/docsignal/internal/tracing"
	"github.com/docsignal/docsignal/internal/trigger"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("docsignal-notifier")

	shutdown, err := tracing.InitTracing(ctx, "docsignal-notifier")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// Store: postgres for real deployments, memory for local development
	var (
		st       store.Store
		resolver trigger.RecipientResolver
		pool     *pgxpool.Pool
	)
	switch cfg.StoreDriver {
	case "memory":
		st = store.NewMemoryStore()
		resolver = trigger.NewStaticResolver(nil)
		logger.Plain().Warn("using in-memory store, deliveries will not survive a restart")
	default:
		pool, err = db.Connect(ctx, cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("db connect failed")
		}
		defer pool.Close()
		st = store.NewPostgresStore(pool)
		resolver = trigger.NewPostgresResolver(pool)
	}

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// Permanent-failure alert path: DLQ topic when enabled, logs otherwise
	var alerter dispatch.Alerter = dispatch.NewLogAlerter(logger)
	if cfg.NSQ.PublishDLQ {
		dlqProducer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqProducer.Stop()
		alerter = dispatch.NewNSQAlerter(dlqProducer, cfg.NSQ.DLQTopic, logger)
	}

	// Dispatcher + worker pool
	httpClient := &http.Client{Timeout: cfg.Delivery.HTTPTimeout}
	dispatcher := dispatch.New(st, httpClient, logger, dispatch.Config{
		Schedule: dispatch.Schedule(cfg.Delivery.BackoffSchedule),
		Alerter:  alerter,
	})
	workerPool := dispatch.NewPool(dispatcher, cfg.Delivery.Workers, cfg.Delivery.QueueSize, logger)
	workerPool.Start(ctx)

	// Retry scheduler
	scheduler := retry.NewScheduler(st, dispatcher, logger, retry.Config{
		Interval:     cfg.Scheduler.Interval,
		BatchSize:    cfg.Scheduler.BatchSize,
		Parallelism:  cfg.Scheduler.Parallelism,
		PendingGrace: cfg.Scheduler.PendingGrace,
	})
	go scheduler.Run(ctx)

	// Event trigger + NSQ event source
	trig := trigger.New(st, resolver, workerPool, logger, trigger.Config{
		MaxAttempts: cfg.Delivery.MaxAttempts,
	})
	consumer, err := trigger.NewConsumer(cfg.NSQ.EventsTopic, cfg.NSQ.EventsChannel, trig, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	if err := consumer.Connect(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("nsq connect failed")
	}

	// HTTP: health, metrics, admin API
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	admin.NewServer(st, workerPool, logger).Register(mux)

	var handler http.Handler = mux
	if cfg.Auth.PublicKeyPEM != "" {
		validator, err := auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("admin JWT validator creation failed")
		}
		handler = validator.HTTPMiddleware(mux)
	} else {
		logger.Plain().Warn("admin API auth disabled (no ADMIN_JWT_PUBLIC_KEY)")
	}

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: handler}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("notifier HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("notifier HTTP server failed")
		}
	}()

	logger.Plain().Info("notifier service started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down notifier service")
	consumer.Stop()
	cancel()
	workerPool.Wait()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("notifier service stopped")
}
