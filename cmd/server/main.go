package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kolosave/savings-engine/internal/config"
	"github.com/kolosave/savings-engine/internal/handler"
	"github.com/kolosave/savings-engine/internal/ledger"
	"github.com/kolosave/savings-engine/internal/repository"
	"github.com/kolosave/savings-engine/internal/service"
	"github.com/kolosave/savings-engine/pkg/response"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg)

	if err := runMigrations(cfg); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	db, err := initDB(cfg)
	if err != nil {
		slog.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	groupRepo := repository.NewGroupRepository(db)
	planRepo := repository.NewPlanRepository(db)
	postingRepo := repository.NewPostingRepository(db)

	poster := ledger.NewHTTPPoster(cfg.Ledger.BaseURL, cfg.LedgerTimeout())
	outbox := ledger.NewOutbox(postingRepo, poster, redisClient, cfg.Ledger.MaxAttempts)

	rotationService := service.NewRotationService(groupRepo, outbox, redisClient, cfg)
	installmentService := service.NewInstallmentService(planRepo, outbox, cfg)

	rotationHandler := handler.NewRotationHandler(rotationService)
	installmentHandler := handler.NewInstallmentHandler(installmentService)
	healthHandler := handler.NewHealthHandler(db, redisClient, postingRepo)

	router := setupRoutes(rotationHandler, installmentHandler, healthHandler)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", server.Addr, "env", cfg.Server.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited")
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}

	var h slog.Handler
	if cfg.Logging.Format == "text" {
		h = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(h))
}

func runMigrations(cfg *config.Config) error {
	m, err := migrate.New("file://"+cfg.Database.MigrationsDir, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func setupRoutes(rotation *handler.RotationHandler, installment *handler.InstallmentHandler, health *handler.HealthHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.CORSMiddleware)
	router.Use(response.LoggingMiddleware)
	router.Use(handler.MetricsMiddleware)

	router.HandleFunc("/health", health.Health).Methods("GET")
	router.HandleFunc("/health/ready", health.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/rotation-groups", rotation.CreateGroup).Methods("POST")
	api.HandleFunc("/rotation-groups/{groupId}", rotation.GetGroup).Methods("GET")
	api.HandleFunc("/rotation-groups/{groupId}/join", rotation.Join).Methods("POST")
	api.HandleFunc("/rotation-groups/{groupId}/contributions", rotation.RecordContribution).Methods("POST")
	api.HandleFunc("/rotation-groups/{groupId}/advance", rotation.AdvanceRound).Methods("POST")
	api.HandleFunc("/rotation-groups/{groupId}/cancel", rotation.Cancel).Methods("POST")
	api.HandleFunc("/rotation-groups/{groupId}/schedule", rotation.GetSchedule).Methods("GET")

	api.HandleFunc("/installment-plans/preview", installment.PreviewBreakdown).Methods("POST")
	api.HandleFunc("/installment-plans", installment.CreatePlan).Methods("POST")
	api.HandleFunc("/installment-plans", installment.ListPlans).Methods("GET")
	api.HandleFunc("/installment-plans/{planId}", installment.GetPlan).Methods("GET")
	api.HandleFunc("/installment-plans/{planId}/payments/{paymentNumber}/apply", installment.ApplyPayment).Methods("POST")

	return router
}
