package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "marketing-agent",
	Short: "Weekly marketing performance agent",
	Long:  "Ingests daily ad metrics from Meta Ads, GA4, and Google Ads into a canonical store and runs the analyze/decide/create pipeline over them, with human approval gating every recommendation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
