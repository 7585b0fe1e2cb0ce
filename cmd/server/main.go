package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/yourname/sleepstreak/internal"
	api "github.com/yourname/sleepstreak/internal/api"
	"github.com/yourname/sleepstreak/internal/auth"
	"github.com/yourname/sleepstreak/internal/config"
	"github.com/yourname/sleepstreak/internal/fitness"
	"github.com/yourname/sleepstreak/internal/motion"
	"github.com/yourname/sleepstreak/internal/service"
	"github.com/yourname/sleepstreak/internal/sleepcalc"
	"github.com/yourname/sleepstreak/internal/storage"
)

func main() {
	cfg := config.Load()

	logger, err := internal.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to init storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("failed to close storage: %v", err)
		}
	}()

	provider, err := auth.NewProvider(ctx, cfg, store, logger)
	if err != nil {
		logger.Fatalf("failed to init auth: %v", err)
	}

	sampling := api.Sampling{
		Window:     cfg.MotionWindow,
		Interval:   cfg.MotionInterval,
		Cadence:    cfg.MotionCadence,
		Thresholds: motion.DefaultThresholds(),
	}
	fit := fitness.NewGoogleFitFactory(cfg.FitnessBaseURL, cfg.FitnessTimeout, logger)
	monitor := motion.NewReportedMonitor()
	tracker := service.NewTracker(service.TrackerDeps{
		Sessions:   store,
		Users:      store,
		Calculator: sleepcalc.NewCalculator(cfg.FitnessTimeout, logger),
		Monitor:    monitor,
		Fitness:    fit,
		Thresholds: sampling.Thresholds,
		Logger:     logger,
	})
	app := api.NewApp(api.Deps{
		Logger:      logger,
		Tracker:     tracker,
		Users:       store,
		Fitness:     fit,
		Permissions: monitor,
		Sampling:    sampling,
	})

	aggregator := service.NewStreakAggregator(store, store, cfg.StreakCutoffHour, cfg.StreakConcurrency, logger)
	cl := motion.CronLogger{L: logger}
	scheduler := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := scheduler.AddFunc(cfg.StreakSchedule, func() {
		if _, err := aggregator.Run(ctx, time.Now().UTC()); err != nil {
			logger.Errorf("streak: scheduled run failed: %v", err)
		}
	}); err != nil {
		logger.Fatalf("invalid STREAK_SCHEDULE %q: %v", cfg.StreakSchedule, err)
	}
	scheduler.Start()

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestIDMiddleware(), api.AccessLogMiddleware(logger))
	api.RegisterRoutes(r, app, auth.AuthMiddleware(provider, logger))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Server running on %s (storage=%s, auth=%s)", cfg.HTTPAddr, cfg.DBType, cfg.AuthMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	<-scheduler.Stop().Done()
}
