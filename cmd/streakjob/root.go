package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/config"
	"github.com/yourname/sleepstreak/internal/service"
	"github.com/yourname/sleepstreak/internal/storage"
)

func newRootCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	root := &cobra.Command{
		Use:           "streakjob",
		Short:         "Daily sleep streak aggregation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(loadConfig), newWindowCmd(loadConfig), newSimulateCmd(loadConfig))
	return root
}

func parseAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC3339: %w", err)
	}
	return t.UTC(), nil
}

func newRunCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply the day that closed at the last cutoff to every user's streak",
		RunE: func(cmd *cobra.Command, args []string) error {
			invokedAt, err := parseAt(at)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
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

			agg := service.NewStreakAggregator(store, store, cfg.StreakCutoffHour, cfg.StreakConcurrency, logger)
			rep, err := agg.Run(cmd.Context(), invokedAt)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "invocation time (RFC3339, default now)")
	return cmd
}

func newWindowCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "window",
		Short: "Print the aggregation window for an invocation time",
		RunE: func(cmd *cobra.Command, args []string) error {
			invokedAt, err := parseAt(at)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w := service.DayWindow(invokedAt, cfg.StreakCutoffHour)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "invocation time (RFC3339, default now)")
	return cmd
}
