package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tourbook/internal/api"
	"tourbook/internal/catalog"
	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/export"
	"tourbook/internal/google"
	"tourbook/internal/logging"
	"tourbook/internal/metrics"
	"tourbook/internal/repository"
	"tourbook/internal/scheduler"
	"tourbook/internal/service"
	"tourbook/internal/worker"

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

	db, err := database.Open(cfg.Database, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	svc := api.Services{
		Availability: service.NewAvailabilityService(db, db, db, cfg.Booking, logging.Component(&logger, "availability")),
		Reservations: service.NewReservationService(db, bus, cfg.Booking, logging.Component(&logger, "reservations")),
		Capacity:     service.NewCapacityService(db, db, logging.Component(&logger, "capacity")),
		Settlements:  service.NewSettlementService(db, bus, cfg.Settlement, logging.Component(&logger, "settlements")),
		Tours:        service.NewTourService(db, logging.Component(&logger, "tours")),
		Bookings:     service.NewBookingService(db, bus, logging.Component(&logger, "bookings")),
		Payments:     service.NewPaymentService(db, bus, cfg.Booking, logging.Component(&logger, "payments")),
		Outbox:       service.NewOutboxService(db, logging.Component(&logger, "outbox")),
	}

	if err := seedTours(ctx, svc.Tours, &logger); err != nil {
		return err
	}

	if cfg.Outbox.Enabled {
		outbox := worker.NewOutboxWorker(db, redisClient, worker.RetryPolicy{
			MaxRetries:    cfg.Outbox.MaxRetries,
			InitialDelay:  cfg.Outbox.InitialDelay,
			MaxDelay:      cfg.Outbox.MaxDelay,
			BackoffFactor: cfg.Outbox.BackoffFactor,
		}, cfg.Outbox.PollInterval, logging.Component(&logger, "outbox"), initSinks(ctx, cfg, svc.Settlements, &logger)...)
		outbox.Subscribe(bus, events.AllEventTypes)
		go outbox.Start(ctx)
	}

	jobs, err := scheduler.New(svc.Settlements, db, cfg.Settlement.Schedule, cfg.Backup, logging.Component(&logger, "scheduler"))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() { _ = jobs.Shutdown() }()

	checks := map[string]api.HealthCheck{"database": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }
	}
	httpServer := api.NewHTTPServer(cfg, svc, idempotencyStore(redisClient, &logger), checks, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, svc, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// seedTours upserts the catalogue file when it exists.
func seedTours(ctx context.Context, tours *service.TourService, logger *zerolog.Logger) error {
	toursPath := os.Getenv("TOURS_PATH")
	if toursPath == "" {
		toursPath = "configs/tours.yaml"
	}
	if _, err := os.Stat(toursPath); errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("tours_path", toursPath).Msg("no tours file, skipping seed")
		return nil
	}

	list, err := catalog.Load(toursPath)
	if err != nil {
		logger.Error().Err(err).Str("tours_path", toursPath).Msg("load tours")
		return err
	}
	if err := tours.Seed(ctx, list); err != nil {
		logger.Error().Err(err).Str("tours_path", toursPath).Msg("seed tours")
		return err
	}
	return nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func idempotencyStore(redisClient *redis.Client, logger *zerolog.Logger) domain.IdempotencyStore {
	memory := repository.NewMemoryIdempotencyStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverIdempotencyStore(repository.NewRedisIdempotencyStore(redisClient), memory, logger)
}

func initSinks(ctx context.Context, cfg *config.Config, settlements *service.SettlementService, logger *zerolog.Logger) []worker.Sink {
	sinks := []worker.Sink{worker.NewLogSink(logging.Component(logger, "events"))}

	if cfg.Outbox.WebhookURL != "" {
		sinks = append(sinks, worker.NewWebhookSink(cfg.Outbox.WebhookURL, &http.Client{Timeout: 10 * time.Second}))
	}
	if cfg.Exports.Path != "" {
		sinks = append(sinks, export.NewArchive(settlements, cfg.Exports.Path))
	}
	if sheet := initPayoutSheet(ctx, cfg, logger); sheet != nil {
		sinks = append(sinks, sheet)
	}
	return sinks
}

func initPayoutSheet(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.PayoutSheet {
	if cfg.Google.CredentialsFile == "" || cfg.Google.PayoutsSpreadsheetID == "" {
		return nil
	}

	sheet, err := google.NewPayoutSheet(ctx, cfg.Google.CredentialsFile, cfg.Google.PayoutsSpreadsheetID, cfg.Google.PayoutsSheet)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheet.EnsureHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets header failed, continuing without sheets")
		return nil
	}
	if err := sheet.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets cache warm-up failed")
	}

	logger.Info().Msg("google sheets connected")
	return sheet
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

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	logger.Info().Str("http_addr", httpServer.Addr()).Bool("grpc", grpcServer != nil).Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return runErr
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
