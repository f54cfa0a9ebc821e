// Package main provides the facility API service entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-facilityops/internal/api/handlers"
	"github.com/drfirst/go-facilityops/internal/api/middleware"
	"github.com/drfirst/go-facilityops/internal/domain/triage"
	"github.com/drfirst/go-facilityops/internal/domain/wayfinding"
	"github.com/drfirst/go-facilityops/internal/infrastructure/postgres"
	"github.com/drfirst/go-facilityops/internal/infrastructure/redpanda"
	"github.com/drfirst/go-facilityops/internal/intake"
	"github.com/drfirst/go-facilityops/internal/observability/metrics"
	"github.com/drfirst/go-facilityops/internal/observability/tracing"
	"github.com/drfirst/go-facilityops/pkg/idempotency"
	"github.com/drfirst/go-facilityops/pkg/workerpool"
)

const serviceName = "facility-api"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	m := metrics.New()

	queue := triage.NewQueue(triage.Config{}, logger.Named("triage"))
	graph := wayfinding.BuildGraph(wayfinding.ReferenceFacility())
	if err := graph.Validate(); err != nil {
		logger.Fatal("invalid facility graph", zap.Error(err))
	}
	health := handlers.NewHealthHandler(serviceName, queue, graph, logger)

	// Audit outbox and intake inbox need the database
	var (
		pool  *pgxpool.Pool
		audit handlers.AuditSink
		inbox *idempotency.Inbox
	)
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("schema setup failed", zap.Error(err))
		}
		logger.Info("connected to database")

		audit = postgres.NewRecorder(pool, redpanda.EventTopic, logger.Named("audit"))
		health.AddCheck("postgres", pool.Ping)

		inbox = idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger.Named("inbox"))
		if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
			logger.Warn("inbox recovery failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("recovered stale inbox entries", zap.Int64("count", n))
		}
		inbox.StartCleanup()
	} else {
		logger.Warn("DATABASE_URL not set, audit trail and intake deduplication disabled")
	}

	triageHandler := handlers.NewTriageHandler(queue, audit, m, logger.Named("triage"))
	navigationHandler := handlers.NewNavigationHandler(graph, m, logger.Named("wayfinding"))

	// Kiosk intake needs the broker
	var (
		in       *intake.Intake
		consumer *redpanda.Consumer
	)
	if len(cfg.KafkaBrokers) > 0 {
		var dedupe intake.Deduper
		if inbox != nil {
			dedupe = inbox
		}

		poolCfg := workerpool.DefaultConfig()
		poolCfg.Workers = cfg.IntakeWorkers
		in, err = intake.New(triageHandler, dedupe, poolCfg, m, logger.Named("intake"))
		if err != nil {
			logger.Fatal("intake setup failed", zap.Error(err))
		}

		consumerCfg := redpanda.DefaultConsumerConfig()
		consumerCfg.Brokers = cfg.KafkaBrokers
		consumer, err = redpanda.NewConsumer(consumerCfg, in.HandleMessage, logger.Named("consumer"))
		if err != nil {
			logger.Fatal("consumer creation failed", zap.Error(err))
		}

		health.AddCheck("redpanda", consumer.Ping)
		health.AddCheck("intake", func(context.Context) error {
			if !in.Healthy() {
				return errIntakeSaturated
			}
			return nil
		})

		in.Start()
		consumer.Start()
		logger.Info("kiosk intake started", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/emergency", triageHandler.Routes())
		r.Mount("/navigation", navigationHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}

		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				logger.Error("consumer stop error", zap.Error(err))
			}
			stats := consumer.Stats()
			logger.Info("consumer stopped",
				zap.Int64("messages_read", stats.MessagesRead),
				zap.Int64("errors", stats.ErrorCount))
		}
		if in != nil {
			if err := in.Stop(); err != nil {
				logger.Error("intake stop error", zap.Error(err))
			}
		}
		if inbox != nil {
			inbox.Stop()
		}
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting facility API",
		zap.String("port", cfg.Port),
		zap.Int("locations", graph.Len()),
		zap.Bool("tracing", tp.Enabled()))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	<-done
	logger.Info("server stopped")
}
