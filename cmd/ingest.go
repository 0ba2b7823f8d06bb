package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/ingest"
	"github.com/sells-group/marketing-agent/internal/model"
)

var (
	ingestSource     string
	ingestSample     bool
	ingestSampleDays int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest daily metrics from a feed file",
	Long:  "Reads a JSON, CSV, or XLSX feed and upserts campaigns and daily metrics. Re-ingesting the same feed is safe: rows are keyed by (date, campaign, source) and the last write wins. With --sample, generates synthetic feed data instead of reading a file.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source := model.Source(ingestSource)
		if !source.Valid() {
			return eris.Errorf("unsupported source: %s", ingestSource)
		}

		var records []ingest.RawRecord
		switch {
		case ingestSample:
			switch source {
			case model.SourceGA4:
				records = ingest.SampleGA4Records(ingestSampleDays)
			default:
				records = ingest.SampleMetaAdsRecords(ingestSampleDays)
			}
		case len(args) == 1:
			var err error
			records, err = ingest.ReadFeedFile(args[0])
			if err != nil {
				return eris.Wrapf(err, "read feed %s", args[0])
			}
		default:
			return eris.New("either a feed file or --sample is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		engine := ingest.New(st, zap.L(), ingest.Options{
			ImpressionsPerSession: cfg.GA4.ImpressionsPerSession,
		})

		result, err := engine.IngestBatch(ctx, records, source)
		if err != nil {
			return eris.Wrap(err, "ingest batch")
		}

		zap.L().Info("ingest complete",
			zap.String("source", string(source)),
			zap.Int("applied", result.Applied),
			zap.Int("skipped", result.Skipped))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "metrics source: meta_ads, ga4, or google_ads (required)")
	ingestCmd.Flags().BoolVar(&ingestSample, "sample", false, "generate sample feed data instead of reading a file")
	ingestCmd.Flags().IntVar(&ingestSampleDays, "days", 7, "days of sample data to generate")
	_ = ingestCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(ingestCmd)
}
