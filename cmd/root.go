package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/config"
)

var cfg *config.Config

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sensor-harvest",
	Short: "Harvest sensor files into observation services",
	Long:  "Discovers CSV and XLSX sensor files, extracts their observations with a column mapping, and imports the resulting sensors into Postgres-backed observation services.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		zap.L().Debug("config loaded",
			zap.String("store", cfg.Store.Driver),
			zap.Int("services", len(cfg.Services)),
			zap.Int("schedules", len(cfg.Schedules)),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
