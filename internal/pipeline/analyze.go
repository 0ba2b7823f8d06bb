package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/marketing-agent/internal/config"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/store"
)

// DateRange is a half-open [From, To) range of canonical dates.
type DateRange struct {
	From string
	To   string
}

func (r DateRange) String() string { return r.From + ".." + r.To }

// goodnessMetrics are compared between periods; a negative move on any of
// them is a drop. CPC is deliberately absent: it moves inversely and is
// covered through CTR and spend.
var goodnessMetrics = []string{"roas", "ctr", "conversion_rate", "revenue"}

// Analyzer computes period comparisons over stored metrics and emits typed
// insights. It reads only the canonical store; given identical stored data
// and thresholds it always produces identical insights in identical order.
type Analyzer struct {
	store store.Store
	cfg   config.AnalysisConfig
}

func NewAnalyzer(st store.Store, cfg config.AnalysisConfig) *Analyzer {
	return &Analyzer{store: st, cfg: cfg}
}

// periodTotals is a campaign's aggregate over one period.
type periodTotals struct {
	Impressions int64
	Clicks      int64
	Conversions int64
	Spend       float64
	Revenue     float64
}

func (p periodTotals) metric(name string) float64 {
	switch name {
	case "roas":
		return model.SafeDiv(p.Revenue, p.Spend)
	case "ctr":
		return model.SafeDiv(float64(p.Clicks), float64(p.Impressions)) * 100
	case "cpc":
		return model.SafeDiv(p.Spend, float64(p.Clicks))
	case "conversion_rate":
		return model.SafeDiv(float64(p.Conversions), float64(p.Clicks)) * 100
	case "revenue":
		return p.Revenue
	default:
		return 0
	}
}

// Analyze compares window against comparison per campaign and returns ordered
// insights plus a count summary line.
func (a *Analyzer) Analyze(ctx context.Context, runID string, window, comparison DateRange) ([]model.Insight, string, error) {
	current, err := a.aggregate(ctx, window)
	if err != nil {
		return nil, "", eris.Wrap(err, "analyze: load window")
	}
	previous, err := a.aggregate(ctx, comparison)
	if err != nil {
		return nil, "", eris.Wrap(err, "analyze: load comparison")
	}

	campaignIDs := make([]string, 0, len(current))
	for id := range current {
		campaignIDs = append(campaignIDs, id)
	}
	sort.Strings(campaignIDs)

	// Campaigns are independent, so classification fans out. The final sort
	// restores deterministic ordering regardless of completion order.
	var mu sync.Mutex
	var insights []model.Insight
	now := time.Now().UTC()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range campaignIDs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			found := a.classifyCampaign(runID, id, current[id], previous, now)
			if len(found) > 0 {
				mu.Lock()
				insights = append(insights, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", eris.Wrap(err, "analyze: classify campaigns")
	}

	model.SortInsights(insights)

	summary := summarizeInsights(insights, len(campaignIDs))
	zap.L().Info("analysis complete",
		zap.String("run_id", runID),
		zap.Int("campaigns", len(campaignIDs)),
		zap.Int("insights", len(insights)))

	return insights, summary, nil
}

func (a *Analyzer) aggregate(ctx context.Context, r DateRange) (map[string]periodTotals, error) {
	rows, err := a.store.MetricsInRange(ctx, r.From, r.To)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]periodTotals)
	for _, m := range rows {
		t := totals[m.CampaignID]
		t.Impressions += m.Impressions
		t.Clicks += m.Clicks
		t.Conversions += m.Conversions
		t.Spend += m.Spend
		t.Revenue += m.Revenue
		totals[m.CampaignID] = t
	}
	return totals, nil
}

func (a *Analyzer) classifyCampaign(runID, campaignID string, cur periodTotals, previousAll map[string]periodTotals, now time.Time) []model.Insight {
	prev, hadPrevious := previousAll[campaignID]

	// Dormant both periods: excluded entirely, not an anomaly.
	if cur.Spend == 0 && (!hadPrevious || prev.Spend == 0) {
		return nil
	}

	base := func() model.Insight {
		return model.Insight{
			ID:         uuid.New().String(),
			RunID:      runID,
			CampaignID: campaignID,
			CreatedAt:  now,
		}
	}

	var insights []model.Insight

	// Spend without delivery points at a tracking or serving fault.
	if cur.Spend > 0 && cur.Impressions == 0 {
		in := base()
		in.Type = model.InsightAnomaly
		in.Metric = "impressions"
		in.Severity = model.SeverityHigh
		in.Description = fmt.Sprintf("Spend of %.2f recorded with zero impressions", cur.Spend)
		insights = append(insights, in)
	}

	if !hadPrevious {
		in := base()
		in.Type = model.InsightOpportunity
		in.Metric = "new_campaign"
		in.Severity = model.SeverityMedium
		in.Description = "New campaign detected"
		insights = append(insights, in)
		return insights
	}

	for _, metric := range goodnessMetrics {
		curVal := cur.metric(metric)
		prevVal := prev.metric(metric)
		if prevVal == 0 {
			// Change is undefined against a zero baseline; never divide.
			continue
		}

		change := (curVal - prevVal) / prevVal * 100
		severity := a.classifyMagnitude(change)
		if severity == "" {
			continue // below the noise floor
		}

		in := base()
		in.Metric = metric
		in.Severity = severity
		change = round2(change)
		in.ChangePercent = &change

		if change < 0 {
			in.Type = model.InsightDrop
			in.Description = fmt.Sprintf("%s dropped %.1f%% (%.2f -> %.2f)", metricLabel(metric), -change, prevVal, curVal)
		} else {
			in.Type = model.InsightOpportunity
			if severity == model.SeverityCritical {
				in.Type = model.InsightSpike
			}
			in.Description = fmt.Sprintf("%s increased %.1f%% (%.2f -> %.2f)", metricLabel(metric), change, prevVal, curVal)
		}
		insights = append(insights, in)
	}

	return insights
}

// classifyMagnitude maps an absolute change percent onto a severity, or ""
// when the move is below the low threshold.
func (a *Analyzer) classifyMagnitude(changePct float64) model.Severity {
	abs := changePct
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < a.cfg.LowThresholdPct:
		return ""
	case abs >= a.cfg.CriticalThresholdPct:
		return model.SeverityCritical
	case abs >= a.cfg.HighThresholdPct:
		return model.SeverityHigh
	default:
		return model.SeverityMedium
	}
}

func summarizeInsights(insights []model.Insight, campaigns int) string {
	counts := make(map[model.InsightType]int)
	for _, in := range insights {
		counts[in.Type]++
	}
	return fmt.Sprintf("%d insight(s) across %d campaign(s): %d drop(s), %d spike(s), %d opportunity(ies), %d anomaly(ies)",
		len(insights), campaigns,
		counts[model.InsightDrop], counts[model.InsightSpike],
		counts[model.InsightOpportunity], counts[model.InsightAnomaly])
}

func metricLabel(metric string) string {
	switch metric {
	case "roas":
		return "ROAS"
	case "ctr":
		return "CTR"
	case "cpc":
		return "CPC"
	case "conversion_rate":
		return "Conversion rate"
	case "revenue":
		return "Revenue"
	default:
		return metric
	}
}

func round2(f float64) float64 {
	if f < 0 {
		return float64(int64(f*100-0.5)) / 100
	}
	return float64(int64(f*100+0.5)) / 100
}
