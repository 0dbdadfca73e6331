package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/telemed-booking/internal/app"
	"github.com/hackgods/telemed-booking/internal/booking"
	"github.com/hackgods/telemed-booking/internal/config"
	"github.com/hackgods/telemed-booking/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := app.NewLogger(cfg.Env)
	defer logger.Sync()

	logger.Info("sweep-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.SweepSchedule),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)
	// the sweep uses neither the doctor lock nor the video provider
	svc := booking.NewService(repo, nil, nil, logger)

	runOnce := func() {
		runCtx, cancel := context.WithTimeout(rootCtx, 20*time.Second)
		defer cancel()

		start := time.Now()
		updated := svc.SweepExpired(runCtx, time.Now())
		logger.Info("sweep run complete",
			zap.Int64("updated", updated),
			zap.Duration("took", time.Since(start)),
		)
	}

	// Run once at startup, then on the configured schedule.
	runOnce()

	c := cron.New()
	if _, err := c.AddFunc(cfg.SweepSchedule, runOnce); err != nil {
		logger.Fatal("invalid sweep schedule", zap.Error(err))
	}
	c.Start()

	<-rootCtx.Done()

	logger.Info("shutdown signal received, stopping sweep worker")
	<-c.Stop().Done()
}
