/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the WMS lifecycle engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, -config file, WMS_* env)
  2. Build the zap logger
  3. Open the store (memory or sqlite)
  4. Load policies, connect redis supply and kafka notifier when configured
  5. Build the engine, HTTP router and SLA monitor
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the SLA monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close the kafka producer, redis client and store
  5. Exit

EXAMPLES:
  # Run with defaults (sqlite at ./wms.db)
  ./server

  # In-memory store on a different port
  WMS_STORE_DRIVER=memory WMS_SERVER_PORT=3000 ./server

  # Full stack
  ./server -config=./deploy/wms.yaml

SEE ALSO:
  - config/config.go: settings
  - api/server.go: Router configuration
  - engine/engine.go: wiring of the domain services
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/wms-engine/api"
	"github.com/warp/wms-engine/config"
	"github.com/warp/wms-engine/engine"
	"github.com/warp/wms-engine/factory"
	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/lifecycle/store"
	"github.com/warp/wms-engine/logging"
	"github.com/warp/wms-engine/notify"
	"github.com/warp/wms-engine/store/redis"
	"github.com/warp/wms-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("WMS_CONFIG"), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.WithLevel("wms-engine", cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Store
	repo, closeRepo, err := openRepository(cfg.Store)
	if err != nil {
		return err
	}
	defer closeRepo()
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver), zap.String("path", cfg.Store.Path))

	// Policies
	policies := factory.DefaultPolicies()
	if cfg.PolicyFile != "" {
		policies, err = factory.NewPolicyFactory().LoadFile(cfg.PolicyFile)
		if err != nil {
			return err
		}
		logger.Info("policies loaded", zap.String("file", cfg.PolicyFile))
	}

	// Notifiers
	notifiers := []lifecycle.Notifier{notify.LogNotifier{Logger: logger.Named("transitions")}}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return err
		}
		defer kafka.Close()
		notifiers = append(notifiers, kafka)
		logger.Info("kafka notifier ready", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Supply
	var supply lifecycle.SupplySource
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		supply = redis.NewSupplySource(client)
		logger.Info("redis supply ready", zap.String("addr", cfg.Redis.Addr))
	}

	eng := engine.New(engine.Options{
		Repo:      repo,
		Logger:    logger,
		Notifiers: notifiers,
		Policies:  &policies,
		Supply:    supply,
	})

	monitor := api.NewSLAMonitor(eng.Inbound, logger)
	monitor.CheckInterval = cfg.SLA.Interval
	monitor.Start()
	defer monitor.Stop()

	router := api.NewRouter(api.NewHandler(eng, logger), cfg.Server.AllowedOrigins)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	monitor.Stop()
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openRepository(cfg config.StoreConfig) (lifecycle.Repository, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
