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

	"run-route/internal/run-service/companion"
	"run-route/internal/run-service/directions"
	"run-route/internal/run-service/handler"
	"run-route/internal/run-service/infrastructure/messaging"
	"run-route/internal/run-service/infrastructure/repository"
	"run-route/internal/run-service/service"
	"run-route/migrations"
	"run-route/pkg/auth"
	"run-route/pkg/clock"
	"run-route/pkg/config"
	"run-route/pkg/db"
	"run-route/pkg/logger"
	"run-route/pkg/rabbitmq"
	"run-route/pkg/ratelimit"
	"run-route/pkg/websocket"
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.NewLogger("run-service", logger.WithLevel(logger.ParseLevel(cfg.Log.Level)))
	log.WithFields(logger.LogFields{"port": cfg.HTTP.Port}).Info("service_starting", "Run Service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg, log)
	if err != nil {
		log.Error("db_connect_failed", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.MigrateUp(cfg, migrations.FS, log); err != nil {
		log.Error("db_migrate_failed", err)
		os.Exit(1)
	}

	rabbit, err := rabbitmq.NewConnection(cfg, log)
	if err != nil {
		log.Error("rabbitmq_connect_failed", err)
		os.Exit(1)
	}
	defer rabbit.Close()

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	sockets := websocket.NewManager(log)

	// The watch channel delivers actions to the service it also serves.
	var svc *service.RunService
	watch := companion.NewAMQPChannel(rabbit, rabbit, func(ctx context.Context, a companion.Action) error {
		return svc.HandleCompanionAction(ctx, a)
	}, log)

	svc = service.NewRunService(service.Config{
		Directions:      directions.NewOSRMClient(cfg.OSRM.BaseURL, cfg.OSRM.Profile, cfg.OSRM.Timeout, log),
		Speech:          sockets,
		Repository:      repository.NewPostgresRunRepository(pool),
		Publisher:       messaging.NewRabbitMQEventPublisher(rabbit, log),
		Companion:       watch,
		RefreshInterval: cfg.Planner.RefreshInterval,
		Logger:          log,
	})
	defer svc.Close()

	if err := watch.Open(ctx); err != nil {
		log.Error("companion_open_failed", err)
		os.Exit(1)
	}
	defer watch.Close()

	fixes := ratelimit.New(clock.Real{}, cfg.Tracking.FixInterval, cfg.Tracking.Burst)

	mux := http.NewServeMux()
	handler.New(svc, jwtManager, sockets, fixes, log).Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler.RequestLogger(log, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server_failed", err)
			os.Exit(1)
		}
	}()
	log.WithFields(logger.LogFields{"addr": srv.Addr}).Info("server_running", "Run Service listening")

	<-ctx.Done()

	log.Info("server_shutdown", "Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server_shutdown_failed", err)
	}
	log.Info("server_stopped", "Server stopped gracefully")
}
