package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/monitoring"
	"github.com/sells-group/sensor-harvest/internal/scheduler"
)

var scheduleOnce string

var harvestScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the configured harvest schedules",
	Long:  "Runs every entry of the schedules section on its cron expression until interrupted. A failing harvest is logged and the schedule keeps running.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initHarvest(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := []scheduler.Option{scheduler.WithAfterRun(env.writeMetrics)}
		if cfg.Monitoring.WebhookURL != "" && cfg.Monitoring.CheckCron != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, nil),
				monitoring.NewAlerter(cfg.Monitoring),
				env.Metrics,
				cfg.Monitoring,
			)
			opts = append(opts, scheduler.WithMonitor(checker, cfg.Monitoring.CheckCron))
		}

		s, err := scheduler.New(env.Orchestrator, cfg.Schedules, cfg.Harvest.CheckCompatibility, opts...)
		if err != nil {
			return err
		}

		if scheduleOnce != "" {
			return s.RunOnce(ctx, scheduleOnce)
		}

		if err := s.Start(ctx); err != nil {
			return err
		}
		zap.L().Info("scheduler started", zap.Int("jobs", s.Jobs()))

		<-ctx.Done()
		zap.L().Info("shutting down scheduler")
		s.Stop()
		return nil
	},
}

func init() {
	harvestScheduleCmd.Flags().StringVar(&scheduleOnce, "once", "", "run the named schedule once and exit")
	harvestCmd.AddCommand(harvestScheduleCmd)
}
