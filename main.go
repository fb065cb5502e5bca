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

	"ms-events/internal/auth"
	"ms-events/internal/config"
	"ms-events/internal/database"
	"ms-events/internal/database/migrations"
	eventsdb "ms-events/internal/events/db"
	"ms-events/internal/events/service"
	"ms-events/internal/kafka"
	"ms-events/internal/logger"
	"ms-events/internal/metrics"
	"ms-events/internal/middleware"
	"ms-events/internal/realtime"
	"ms-events/internal/server"
	"ms-events/internal/uploads"
	usersdb "ms-events/internal/users/db"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:           "ms-events",
	Short:         "Event management API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env when present and validates the environment.
func loadConfig(log *logger.Logger) (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	usedFallback, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if usedFallback {
		log.Warn("CONFIG", "JWT_SECRET not set, using the development fallback secret")
	}
	return cfg, nil
}

func serve() error {
	bootLog := logger.New(os.Stdout, nil)
	cfg, err := loadConfig(bootLog)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LogDir)
	if err != nil {
		return err
	}
	defer log.Close()
	log.Info("APP", fmt.Sprintf("Starting events API (%s)", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Driver == "postgres" && cfg.Database.AutoMigrate {
		if err := runMigrations(cfg.Database.DSN, log); err != nil {
			return err
		}
	}

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	hub := realtime.NewHub(log)
	hub.OnConnectionCount(func(n int) { metrics.RealtimeConnections.Set(float64(n)) })

	users := &usersdb.DB{Bun: bunDB}
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.ExpiresIn, cfg.Auth.Issuer)
	authService := auth.NewService(users, tokens, log)
	events := service.NewEventService(&eventsdb.DB{Bun: bunDB}, log)
	events.AddPublisher("realtime", hub)

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}

		broker := realtime.NewRedisBroker(redisClient, hub, log)
		bridgeErr := make(chan error, 1)
		go func() { bridgeErr <- broker.Run(ctx) }()
		select {
		case <-broker.Ready():
		case err := <-bridgeErr:
			return fmt.Errorf("redis realtime bridge: %w", err)
		}
		hub.SetBroker(broker)
		log.Info("REDIS", fmt.Sprintf("Realtime rooms shared through %s", cfg.Redis.Addr))
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, kafka.Topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		events.AddPublisher("kafka", producer)
	}
	// pending notifications drain before their sinks close
	defer events.Wait()

	store, err := uploads.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		return err
	}
	limiter := middleware.NewRateLimiter(cfg.Server.AuthRatePerMinute, log)
	defer limiter.Stop()

	srv := &http.Server{
		Addr: cfg.Server.Port,
		Handler: server.NewRouter(server.Deps{
			Config:  cfg,
			Logger:  log,
			DB:      bunDB,
			Auth:    authService,
			Users:   users,
			Events:  events,
			Hub:     hub,
			Uploads: store,
			Limiter: limiter,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Shutdown waits for active requests, so open streams are ended first.
	srv.RegisterOnShutdown(hub.Close)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP", fmt.Sprintf("Events API running on %s", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Events API shutdown complete")
	}
	return nil
}

func runMigrations(dsn string, log *logger.Logger) error {
	runner := migrations.NewRunner(dsn, log)
	defer runner.Close()
	if err := runner.MigrateUp(); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}
