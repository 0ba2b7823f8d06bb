package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/store"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect derived metrics",
}

var metricsWeeklyCmd = &cobra.Command{
	Use:   "weekly <campaign-id>",
	Short: "Show weekly aggregates for a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		weekly, err := st.ListWeeklyMetrics(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "metrics weekly")
		}

		if len(weekly) == 0 {
			fmt.Fprintln(os.Stderr, "No weekly metrics found. Run `metrics recompute` after ingesting.")
			return nil
		}

		formatWeeklyMetrics(os.Stdout, weekly)
		return nil
	},
}

var metricsRecomputeCmd = &cobra.Command{
	Use:   "recompute <week-start>",
	Short: "Recompute weekly aggregates from daily rows",
	Long:  "Rebuilds the weekly aggregates for the week containing the given date (YYYY-MM-DD). Aggregates are derived data; recomputing after corrections or late-arriving rows is always safe.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		weekStart, err := store.WeekStart(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		n, err := st.RecomputeWeekly(ctx, weekStart)
		if err != nil {
			return eris.Wrap(err, "metrics recompute")
		}

		zap.L().Info("weekly metrics recomputed",
			zap.String("week_start", weekStart),
			zap.Int("rows", n))
		fmt.Printf("recomputed %d weekly row(s) for week of %s\n", n, weekStart)
		return nil
	},
}

func formatWeeklyMetrics(w io.Writer, weekly []model.WeeklyMetric) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WEEK\tSOURCE\tIMPR\tCLICKS\tSPEND\tCONV\tREVENUE\tROAS\tCTR\tCPC")
	for _, m := range weekly {
		// CTR is stored as a ratio; render it as a percentage.
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%d\t%.2f\t%.2f\t%.2f%%\t%.2f\n",
			m.WeekStart, m.Source, m.Impressions, m.Clicks, m.Spend, m.Conversions, m.Revenue, m.ROAS, m.CTR*100, m.CPC)
	}
	tw.Flush()
}

func init() {
	metricsWeeklyCmd.Flags().Int("limit", 12, "maximum weeks to list")

	metricsCmd.AddCommand(metricsWeeklyCmd)
	metricsCmd.AddCommand(metricsRecomputeCmd)
	rootCmd.AddCommand(metricsCmd)
}
