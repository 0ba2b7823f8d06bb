package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/store"
)

var (
	runWindowDays     int
	runComparisonDays int
	runType           string
	runAsync          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one agent pipeline run",
	Long:  "Runs analyze, decide, create, and aggregate over the stored metrics and records the outcome in the run ledger. All recommended actions land pending; nothing is executed without approval.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runner, st, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		params := model.RunParams{
			WindowDays:     runWindowDays,
			ComparisonDays: runComparisonDays,
		}

		if runAsync {
			run, err := runner.Trigger(ctx, model.RunType(runType), params)
			if err != nil {
				return err
			}
			fmt.Println(run.ID)
			// Wait in-process; Trigger detaches from ctx but this process is
			// the only executor, so block until the ledger goes terminal.
			return waitForRun(cmd, st, run.ID)
		}

		run, err := runner.Run(ctx, model.RunType(runType), params)
		if run != nil {
			zap.L().Info("run finished",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)))
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// waitForRun blocks until the run reaches a terminal status, then mirrors it
// in the exit code.
func waitForRun(cmd *cobra.Command, st store.Store, runID string) error {
	ctx := cmd.Context()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if !run.Status.Terminal() {
			continue
		}
		if run.Status == model.RunStatusFailed {
			return eris.Errorf("run %s failed: %s", runID, run.ErrorMessage)
		}
		return nil
	}
}

func init() {
	runCmd.Flags().IntVar(&runWindowDays, "window-days", 0, "analysis window length in days (default from config)")
	runCmd.Flags().IntVar(&runComparisonDays, "comparison-days", 0, "comparison period length in days (default from config)")
	runCmd.Flags().StringVar(&runType, "type", string(model.RunTypeAdhoc), "run type: weekly or adhoc")
	runCmd.Flags().BoolVar(&runAsync, "async", false, "print the run ID immediately and let the run finish in the background")
	rootCmd.AddCommand(runCmd)
}
