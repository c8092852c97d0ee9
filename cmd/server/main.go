package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"function-ticketing-platform/internal/config"
	"function-ticketing-platform/internal/database"
	"function-ticketing-platform/internal/handlers"
	"function-ticketing-platform/internal/logging"
	"function-ticketing-platform/internal/middleware"
	"function-ticketing-platform/internal/models"
	"function-ticketing-platform/internal/repositories"
	"function-ticketing-platform/internal/services"
)

var version = "dev"

func main() {
	catalogFile := pflag.String("catalog", "", "YAML catalog loaded into the in-memory store when no database is reachable")
	migrate := pflag.Bool("migrate", false, "Apply pending migrations before serving")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Server.Env)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *catalogFile, *migrate); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, catalogFile string, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.TraceContext{})

	a := &app{cfg: cfg, logger: logger, metrics: services.NewMetrics()}
	defer a.close()

	if err := a.setupStorage(ctx, catalogFile, migrate); err != nil {
		return err
	}
	if err := a.setupDeduplicator(ctx); err != nil {
		return err
	}
	a.setupProvider()
	a.setupOrchestrator(ctx)

	go func() {
		if err := a.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", "error", err)
		}
	}()

	go a.sweepPending(ctx)

	a.limiter = middleware.NewRateLimiter(cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window)
	go a.limiter.Cleanup(ctx, cfg.RateLimit.Window)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           newRouter(a),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", srv.Addr,
			"env", cfg.Server.Env,
			"version", version,
			"provider", a.provider.Name(),
			"memory_mode", a.db == nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// app holds the wired dependencies of the HTTP server
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *services.Metrics

	db       *database.DB // nil in memory mode
	catalog  services.CatalogSource
	store    services.RegistrationStore
	outbox   services.OutboxStore
	provider services.PaymentProvider
	verifier handlers.SignatureVerifier
	dedup    services.EventDeduplicator
	producer services.Producer

	orchestrator *services.Orchestrator
	relay        *services.OutboxRelay
	limiter      *middleware.RateLimiter

	closers []func() error
}

const (
	pendingSweepInterval = 15 * time.Minute
	pendingTTL           = 2 * time.Hour
)

// sweepPending cancels abandoned checkouts until ctx is done
func (a *app) sweepPending(ctx context.Context) {
	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.orchestrator.ExpirePending(ctx, pendingTTL); err != nil {
				a.logger.Warn("pending registration sweep failed", "error", err)
			}
		}
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
}

func (a *app) setupStorage(ctx context.Context, catalogFile string, migrate bool) error {
	db, err := database.NewConnection(ctx, a.cfg.Database, a.logger)
	if err != nil {
		if a.cfg.IsProduction() {
			return fmt.Errorf("database is required in production: %w", err)
		}
		a.logger.Warn("database unavailable, using in-memory store", "error", err)
		return a.setupMemoryStorage(ctx, catalogFile)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	if migrate {
		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a.catalog = repositories.NewCatalogRepository(db.DB)
	a.store = repositories.NewRegistrationRepository(db.DB)
	a.outbox = repositories.NewOutboxRepository(db.DB)
	return nil
}

func (a *app) setupMemoryStorage(ctx context.Context, catalogFile string) error {
	catalog := repositories.NewMemoryCatalog()
	if catalogFile != "" {
		file, err := repositories.LoadCatalogFile(catalogFile)
		if err != nil {
			return err
		}
		if err := repositories.SeedCatalog(ctx, catalog, file); err != nil {
			return err
		}
		a.logger.Info("catalog loaded", "file", catalogFile, "items", len(file.Items), "packages", len(file.Packages))
	}

	store := repositories.NewMemoryRegistrationStore(catalog)
	a.catalog = catalog
	a.store = store
	a.outbox = store
	return nil
}

func (a *app) setupDeduplicator(ctx context.Context) error {
	ttl := a.cfg.Redis.DedupeTTL

	switch {
	case a.cfg.Redis.URL != "":
		opts, err := redis.ParseURL(a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		a.dedup = services.NewRedisEventDeduplicator(rdb, ttl)
		a.logger.Info("webhook deduplication backed by redis")
	case a.cfg.Bolt.Path != "":
		bolt, err := services.NewBoltEventDeduplicator(a.cfg.Bolt.Path, ttl)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bolt.Close)
		a.dedup = bolt
		a.logger.Info("webhook deduplication backed by bolt", "path", a.cfg.Bolt.Path)
	default:
		a.dedup = services.NewMemoryEventDeduplicator(ttl)
	}
	return nil
}

func (a *app) setupProvider() {
	if a.cfg.Square.AccessToken == "" {
		a.logger.Warn("square access token not set, using mock payment provider")
		a.provider = services.NewMockPaymentService(a.logger)
		return
	}

	square := services.NewSquareService(a.cfg.Square, a.cfg.Payment, a.logger)
	a.provider = square
	if a.cfg.Square.WebhookSignatureKey != "" {
		a.verifier = square
	} else {
		a.logger.Warn("square webhook signature key not set, webhook signatures are not verified")
	}
}

func (a *app) setupOrchestrator(ctx context.Context) {
	prefixes := models.ConfirmationPrefixes{
		models.RegistrationIndividual: a.cfg.Confirmation.IndividualPrefix,
		models.RegistrationLodge:      a.cfg.Confirmation.LodgePrefix,
		models.RegistrationDelegation: a.cfg.Confirmation.DelegationPrefix,
	}

	a.orchestrator = services.NewOrchestrator(services.OrchestratorDeps{
		Catalog:   a.catalog,
		Provider:  a.provider,
		Finalizer: services.NewFinalizer(a.store, prefixes, a.logger),
		Inventory: services.NewInventoryGuard(a.catalog),
		Builder:   services.NewOrderBuilder(a.cfg.Square.LocationID),
		Fees:      services.NewFeeCalculator(a.cfg.Fees),
		Retry: services.RetryPolicy{
			MaxAttempts: a.cfg.Payment.MaxRetries + 1,
			BaseDelay:   a.cfg.Payment.RetryBaseDelay,
		},
		Archive:  services.NewReconciliationArchive(ctx, a.cfg.R2, a.logger),
		Metrics:  a.metrics,
		Logger:   a.logger,
		Currency: a.cfg.Payment.Currency,
	})

	if len(a.cfg.Kafka.Brokers) > 0 {
		writer := services.NewKafkaWriter(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
		a.closers = append(a.closers, writer.Close)
		a.producer = writer
		a.logger.Info("publishing registration events to kafka", "brokers", a.cfg.Kafka.Brokers, "topic", a.cfg.Kafka.Topic)
	} else {
		a.producer = services.NewLoggingProducer(a.logger)
	}
	a.relay = services.NewOutboxRelay(a.logger, a.outbox, services.NewEventPublisher(a.logger, a.producer), a.metrics)
}
