package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketbook/internal/api"
	"marketbook/internal/catalog"
	"marketbook/internal/clock"
	"marketbook/internal/config"
	"marketbook/internal/database"
	"marketbook/internal/domain"
	"marketbook/internal/events"
	"marketbook/internal/ledger"
	"marketbook/internal/logging"
	"marketbook/internal/metrics"
	"marketbook/internal/models"
	"marketbook/internal/registry"
	"marketbook/internal/repository"
	"marketbook/internal/service"
	"marketbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", cfg.CatalogPath).Msg("load catalog")
		return err
	}
	logger.Info().Int("resources", cat.Len()).Msg("catalog loaded")

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()
	bus := events.NewBus(logger)
	reg := registry.New(db, bus, clk, logger)
	led := ledger.New(db, clk, logger)
	if _, err := led.Restore(ctx); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if _, err := reg.Restore(ctx); err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}

	svc := service.NewBookingService(cat, reg, led, initThrottle(redisClient, logger), service.Options{
		HoldTTL:         cfg.Booking.HoldTTLDuration(),
		RequesterLimit:  cfg.Booking.RequesterLimit,
		RequesterWindow: cfg.Booking.RequesterWindowDuration(),
	}, clk, logger)

	sweeper := service.NewSweeper(svc, service.SweepOptions{
		Interval:     cfg.Booking.SweepIntervalDuration(),
		Retention:    cfg.Booking.RetentionDuration(),
		AutoComplete: cfg.Booking.AutoComplete,
	}, logger)
	go sweeper.Start(ctx)

	var feed api.FeedReader
	if redisClient != nil {
		sink := events.NewRedisSink(redisClient, cfg.Redis.FeedChannel, cfg.Redis.FeedLength, cfg.Redis.StatusTTLDuration())
		feed = sink
		startOutbox(ctx, cfg, db, sink, redisClient, bus, clk, logger)
	} else {
		logger.Warn().Msg("redis is not configured; feed events stay queued in the outbox")
	}

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, logger).Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	httpServer := api.NewHTTPServer(cfg.API, svc, api.Options{
		Feed:     feed,
		Ready:    db.PingContext,
		Location: cfg.Booking.LoadLocation(),
	}, logger)

	return serve(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initThrottle(client *redis.Client, logger *zerolog.Logger) domain.RequestThrottle {
	memory := repository.NewMemoryThrottle(nil)
	if client == nil {
		return memory
	}
	return repository.NewFailoverThrottle(repository.NewRedisThrottle(client), memory, logger)
}

func startOutbox(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	sink domain.EventSink,
	client *redis.Client,
	bus *events.Bus,
	clk clock.Clock,
	logger *zerolog.Logger,
) {
	w := worker.NewOutboxWorker(db, sink, client, worker.RetryPolicyFromConfig(cfg.Outbox), worker.OutboxOptions{
		PollInterval:  config.Duration(cfg.Outbox.PollInterval, 2*time.Second),
		BatchSize:     cfg.Outbox.BatchSize,
		DeadLetterKey: cfg.Outbox.DeadLetterKey,
		KeepDelivered: cfg.Booking.RetentionDuration(),
	}, clk, logger)

	// Every committed transition has an outbox row by the time it is published.
	bus.Subscribe(events.AnyStatus, func(models.BookingEvent) error {
		w.Notify()
		return nil
	})
	go w.Start(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if !cfg.API.HTTP.Enabled {
			logger.Warn().Msg("http api is disabled; running workers only")
			return
		}
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("marketbook started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("marketbook stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
