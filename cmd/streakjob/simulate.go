package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/config"
	"github.com/yourname/sleepstreak/internal/motion"
	"github.com/yourname/sleepstreak/internal/service"
	"github.com/yourname/sleepstreak/internal/sleepcalc"
	"github.com/yourname/sleepstreak/internal/storage"
)

// newSimulateCmd runs a device-side session against the configured store,
// sampling a recorded motion log on the background cadence.
func newSimulateCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		userID    string
		recording string
		duration  time.Duration
		cadence   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Track one sleep session from a recorded motion log",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(recording)
			if err != nil {
				return fmt.Errorf("open recording: %w", err)
			}
			samples, err := motion.LoadRecording(f)
			_ = f.Close()
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cadence <= 0 {
				cadence = cfg.MotionCadence
			}
			logger, err := internal.NewLogger(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := storage.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			runner := motion.NewCronRunner(logger)
			defer runner.Stop()
			sensor := motion.NewReplaySensor(samples)
			sampler := motion.NewSampler(sensor, motion.SamplerConfig{
				Window:     cfg.MotionWindow,
				Interval:   cfg.MotionInterval,
				Thresholds: motion.DefaultThresholds(),
			}, logger)
			tracker := service.NewTracker(service.TrackerDeps{
				Sessions:   store,
				Users:      store,
				Calculator: sleepcalc.NewCalculator(cfg.FitnessTimeout, logger),
				Monitor:    motion.NewSensorMonitor(sensor, runner, sampler, cadence, logger),
				Logger:     logger,
			})

			ctx := cmd.Context()
			if _, err := tracker.Start(ctx, userID); err != nil {
				return err
			}
			timer := time.NewTimer(duration)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}

			closed, err := tracker.Stop(context.WithoutCancel(ctx), userID, service.StopOptions{})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(closed)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "u1", "user to track")
	cmd.Flags().StringVar(&recording, "recording", "", "motion log, one JSON sample per line")
	cmd.Flags().DurationVar(&duration, "duration", 8*time.Hour, "how long the session runs")
	cmd.Flags().DurationVar(&cadence, "cadence", 0, "window cadence (default MOTION_CADENCE)")
	_ = cmd.MarkFlagRequired("recording")
	return cmd
}
