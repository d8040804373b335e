package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/kolosave/savings-engine/internal/config"
	"github.com/kolosave/savings-engine/internal/ledger"
	"github.com/kolosave/savings-engine/internal/repository"
	"github.com/kolosave/savings-engine/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg)

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		slog.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	groupRepo := repository.NewGroupRepository(db)
	planRepo := repository.NewPlanRepository(db)
	postingRepo := repository.NewPostingRepository(db)

	poster := ledger.NewHTTPPoster(cfg.Ledger.BaseURL, cfg.LedgerTimeout())
	outbox := ledger.NewOutbox(postingRepo, poster, redisClient, cfg.Ledger.MaxAttempts)

	rotationService := service.NewRotationService(groupRepo, outbox, redisClient, cfg)
	installmentService := service.NewInstallmentService(planRepo, outbox, cfg)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		slog.Error("loading scheduler timezone", "timezone", cfg.Scheduler.Timezone, "error", err)
		os.Exit(1)
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	if err := setupJobs(c, cfg, rotationService, installmentService, outbox); err != nil {
		slog.Error("scheduling jobs", "error", err)
		os.Exit(1)
	}

	c.Start()
	slog.Info("scheduler started",
		"advance_spec", cfg.Scheduler.AdvanceSpec,
		"overdue_spec", cfg.Scheduler.OverdueSpec,
		"outbox_spec", cfg.Scheduler.OutboxSpec,
		"timezone", cfg.Scheduler.Timezone,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down scheduler")
	<-c.Stop().Done()
	slog.Info("scheduler stopped")
}

func setupJobs(c *cron.Cron, cfg *config.Config, rotation *service.RotationService, installment *service.InstallmentService, outbox *ledger.Outbox) error {
	// Round advancement sweep: releases or defers every due payout. Safe to
	// run at any cadence, advancement is idempotent.
	if _, err := c.AddFunc(cfg.Scheduler.AdvanceSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := rotation.AdvanceDueGroups(ctx); err != nil {
			slog.Error("advance sweep", "error", err)
		}
	}); err != nil {
		return err
	}

	// Overdue sweep over open installment plans.
	if _, err := c.AddFunc(cfg.Scheduler.OverdueSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := installment.SweepOverdue(ctx, time.Now()); err != nil {
			slog.Error("overdue sweep", "error", err)
		}
	}); err != nil {
		return err
	}

	// Outbox flush retries undelivered ledger postings.
	if _, err := c.AddFunc(cfg.Scheduler.OutboxSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := outbox.Flush(ctx); err != nil {
			slog.Error("outbox flush", "error", err)
		}
	}); err != nil {
		return err
	}

	return nil
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
