package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/store"
)

// Engine validates, normalizes, and idempotently merges feed records into the
// canonical store. It is the only writer of campaigns and daily metrics.
type Engine struct {
	store store.Store
	log   *zap.Logger
	opts  Options
}

func New(st store.Store, log *zap.Logger, opts Options) *Engine {
	if opts.ImpressionsPerSession <= 0 {
		opts.ImpressionsPerSession = 2.0
	}
	return &Engine{store: st, log: log, opts: opts}
}

// RecordResult reports the outcome of one record within a batch.
type RecordResult struct {
	Index      int    `json:"index"`
	Outcome    string `json:"outcome"` // "applied" or "skipped:<reason>"
	CampaignID string `json:"campaign_id,omitempty"`
	MetricID   string `json:"metric_id,omitempty"`
	Date       string `json:"date,omitempty"`
}

// BatchResult summarizes one batch ingestion call.
type BatchResult struct {
	Applied int            `json:"applied"`
	Skipped int            `json:"skipped"`
	Records []RecordResult `json:"records"`
}

// IngestRecord normalizes and upserts a single record. A *ValidationError
// means the record itself was bad; any other error is a store failure.
func (e *Engine) IngestRecord(ctx context.Context, raw RawRecord, source model.Source) (*RecordResult, error) {
	n, err := Normalize(raw, source, e.opts)
	if err != nil {
		return nil, err
	}

	campaign, err := e.store.UpsertCampaign(ctx, store.CampaignUpsert{
		ExternalID: n.ExternalID,
		Name:       n.Name,
		Source:     source,
		Status:     n.Status,
	})
	if err != nil {
		return nil, err
	}

	metric, err := e.store.UpsertDailyMetric(ctx, store.MetricUpsert{
		Date:        n.Date,
		CampaignID:  campaign.ID,
		Source:      source,
		Impressions: n.Impressions,
		Clicks:      n.Clicks,
		Spend:       n.Spend,
		Conversions: n.Conversions,
		Revenue:     n.Revenue,
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("ingested record",
		zap.String("campaign", campaign.Name),
		zap.String("source", string(source)),
		zap.String("date", n.Date))

	return &RecordResult{
		Outcome:    "applied",
		CampaignID: campaign.ID,
		MetricID:   metric.ID,
		Date:       metric.Date,
	}, nil
}

// IngestBatch processes records in order. A bad record is skipped with its
// reason and the batch continues; a store failure aborts the batch with an
// error so it is never mistaken for bad data. Re-delivery of a whole batch
// is safe: the upserts are idempotent, so replays converge instead of
// double counting.
func (e *Engine) IngestBatch(ctx context.Context, records []RawRecord, source model.Source) (*BatchResult, error) {
	result := &BatchResult{Records: make([]RecordResult, 0, len(records))}

	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rec, err := e.IngestRecord(ctx, raw, source)
		if err != nil {
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				// Infra trouble, not data trouble. The partial batch is fine
				// to leave behind; a retry replays over it.
				return result, eris.Wrapf(err, "ingest: record %d", i)
			}
			e.log.Warn("skipped record",
				zap.Int("index", i),
				zap.String("source", string(source)),
				zap.Error(err))

			result.Skipped++
			result.Records = append(result.Records, RecordResult{
				Index:   i,
				Outcome: fmt.Sprintf("skipped:%s", vErr.Error()),
			})
			continue
		}

		rec.Index = i
		result.Applied++
		result.Records = append(result.Records, *rec)
	}

	e.log.Info("batch ingested",
		zap.String("source", string(source)),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped))

	return result, nil
}
