package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/luis12duboqwe/inventario-sub008/internal/handlers"
	"github.com/luis12duboqwe/inventario-sub008/internal/offline"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/config"
	pfirestore "github.com/luis12duboqwe/inventario-sub008/internal/platform/firestore"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/idempotency"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/jobs"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/kvstore"
	"github.com/luis12duboqwe/inventario-sub008/internal/platform/observability"
	"github.com/luis12duboqwe/inventario-sub008/internal/remote"
	"github.com/luis12duboqwe/inventario-sub008/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("register")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	store, cleanup, err := newStateStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise state store", zap.Error(err))
	}
	defer cleanup(logger)

	backend, err := remote.NewClient(remote.ClientDeps{
		BaseURL:    cfg.Backend.BaseURL,
		APIToken:   cfg.Backend.APIToken,
		RegisterID: cfg.Register.ID,
		Timeout:    cfg.Backend.Timeout,
	})
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}

	cart := services.NewCartService()
	rates, err := services.NewTaxRateLearner(services.TaxRateLearnerDeps{
		Store:  store,
		Logger: observability.EventLogger(logger.Named("taxrate")),
	})
	if err != nil {
		logger.Fatal("failed to initialise tax rate learner", zap.Error(err))
	}
	queue, err := offline.NewQueue(offline.QueueDeps{
		Store:  store,
		Logger: observability.EventLogger(logger.Named("offline")),
	})
	if err != nil {
		logger.Fatal("failed to initialise offline queue", zap.Error(err))
	}

	var publisher services.EventPublisher
	if cfg.Events.Enabled {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(cfg.Events.Topic)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err = jobs.NewPubSubSalePublisher(topic, cfg.Register.ID)
		if err != nil {
			logger.Fatal("failed to initialise sale publisher", zap.Error(err))
		}
	}

	register, err := services.NewRegisterService(services.RegisterServiceDeps{
		Cart:    cart,
		Pricing: services.NewPricingEngine(),
		Rates:   rates,
		Queue:   queue,
		Backend: backend,
		Events:  publisher,
		Logger:  observability.EventLogger(logger.Named("register")),
	})
	if err != nil {
		logger.Fatal("failed to initialise register service", zap.Error(err))
	}

	checkoutGuard := idempotency.Middleware(
		idempotency.NewMemoryStore(),
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.ReadinessCheck{Name: "storage", Probe: storageProbe(store)},
		handlers.ReadinessCheck{Name: "backend", Probe: backend.Ping},
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(cfg.Register.ID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithSaleRoutes(handlers.NewSaleHandlers(register, cart, checkoutGuard).Routes),
		handlers.WithOfflineRoutes(handlers.NewOfflineHandlers(register, queue).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("register_id", cfg.Register.ID),
	)
	go func() {
		serverLogger.Info("register agent listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newStateStore(ctx context.Context, cfg config.Config) (kvstore.Store, func(*zap.Logger), error) {
	noop := func(*zap.Logger) {}

	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		return kvstore.NewMemoryStore(), noop, nil
	case config.StorageDriverFile:
		store, err := kvstore.NewFileStore(cfg.Storage.FilePath)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case config.StorageDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Storage.Firestore)
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, noop, err
		}
		store, err := kvstore.NewFirestoreStore(client,
			kvstore.WithCollection(cfg.Storage.Firestore.Collection),
			kvstore.WithRegisterID(cfg.Register.ID),
		)
		if err != nil {
			return nil, noop, err
		}
		cleanup := func(logger *zap.Logger) {
			if err := provider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}
		return store, cleanup, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func storageProbe(store kvstore.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, "tax_rate")
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil
		}
		return err
	}
}
