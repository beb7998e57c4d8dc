// Command consumer runs the pgebus system: a dedicated LISTEN
// connection, a bounded hand-off queue, and a pool of workers claiming
// and dispatching durable events, grounded on the teacher's
// cmd/worker wiring (tracer -> slog -> pool -> signal-based shutdown).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/U1traVeno/pgebus/internal/config"
	"github.com/U1traVeno/pgebus/internal/db"
	"github.com/U1traVeno/pgebus/internal/handlers"
	"github.com/U1traVeno/pgebus/internal/healthsrv"
	"github.com/U1traVeno/pgebus/internal/notifications"
	"github.com/U1traVeno/pgebus/internal/observability"
	"github.com/U1traVeno/pgebus/internal/pgebus"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
	"github.com/U1traVeno/pgebus/internal/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "pgebus-consumer", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		slog.Default().ErrorContext(ctx, "otel.init_failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	level := slog.LevelInfo
	if cfg.Env == "dev" {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(observability.NewTraceHandler(base))
	slog.SetDefault(logger)

	pcfg, err := cfg.PoolConfig()
	if err != nil {
		logger.ErrorContext(ctx, "config.pool_config_failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, pcfg)
	if err != nil {
		logger.ErrorContext(ctx, "db.connect_failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	metrics := observability.NewEventMetrics()

	repo := postgres.NewEventsRepo(pool, cfg.Database.SchemaName, prom)

	r := router.New()
	baseNotifier := notifications.NewLogNotifier()
	notifier := notifications.NewProtectedNotifier(baseNotifier, notifications.ProtectedNotifierConfig{
		Timeout:          2 * time.Second,
		FailureThreshold: 3,
		Cooldown:         15 * time.Second,
		HalfOpenMaxCalls: 1,
	})
	r.On("registration.confirmed", handlers.RegistrationConfirmation(notifier))

	sys := pgebus.New(pgebus.Config{
		SchemaName:          cfg.Database.SchemaName,
		Channel:             cfg.EventSystem.Channel,
		NWorkers:            cfg.EventSystem.NWorkers,
		QueueMaxSize:        cfg.EventSystem.QueueMaxSize,
		MaxRetries:          cfg.EventSystem.MaxRetries,
		PollInterval:        cfg.EventSystem.PollInterval,
		BackfillBatchSize:   cfg.EventSystem.BackfillBatchSize,
		StuckRunningGrace:   cfg.EventSystem.StuckRunningGrace,
		ReaperInterval:      time.Minute,
		ShutdownWaitTimeout: cfg.EventSystem.ShutdownWaitTimeout,
	}, pool, cfg.Database.ConnString(), repo, r, logger.With("component", "pgebus"), prom, metrics)

	health := healthsrv.New(reg, sys)
	healthAddr := os.Getenv("PGEBUS_HEALTH_ADDR")
	if healthAddr == "" {
		healthAddr = ":8081"
	}
	healthSrv := &http.Server{Addr: healthAddr, Handler: health.Handler()}
	go func() {
		logger.InfoContext(ctx, "healthsrv.start", "addr", healthAddr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorContext(ctx, "healthsrv.failed", "err", err)
		}
	}()

	if err := sys.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "pgebus.start_failed", "err", err)
		os.Exit(1)
	}
	health.SetReady(true)

	logger.InfoContext(ctx, "consumer.start", "n_workers", cfg.EventSystem.NWorkers, "channel", cfg.EventSystem.Channel)

	<-ctx.Done()
	logger.InfoContext(context.Background(), "consumer.shutdown_signal_received")

	health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.EventSystem.ShutdownWaitTimeout+5*time.Second)
	defer cancel()

	if err := sys.Stop(shutdownCtx, cfg.EventSystem.ShutdownWaitForCompletion, cfg.EventSystem.ShutdownWaitTimeout); err != nil {
		logger.ErrorContext(shutdownCtx, "pgebus.stop_failed", "err", err)
	}

	_ = healthSrv.Shutdown(shutdownCtx)

	logger.InfoContext(context.Background(), "consumer.shutdown_complete")
}
