package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketing-agent/internal/config"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/store"
)

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		WindowDays:           7,
		ComparisonDays:       7,
		LowThresholdPct:      10,
		HighThresholdPct:     30,
		CriticalThresholdPct: 50,
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedCampaignMetrics(t *testing.T, st store.Store, externalID, name string, days map[string]store.MetricUpsert) string {
	t.Helper()
	camp, err := st.UpsertCampaign(context.Background(), store.CampaignUpsert{
		ExternalID: externalID,
		Name:       name,
		Source:     model.SourceMetaAds,
		Status:     model.CampaignActive,
	})
	require.NoError(t, err)
	for date, m := range days {
		m.Date = date
		m.CampaignID = camp.ID
		m.Source = model.SourceMetaAds
		_, err := st.UpsertDailyMetric(context.Background(), m)
		require.NoError(t, err)
	}
	return camp.ID
}

func TestClassifyCampaignDrops(t *testing.T) {
	a := NewAnalyzer(nil, testAnalysisConfig())
	now := time.Now().UTC()

	cur := periodTotals{Impressions: 10000, Clicks: 200, Conversions: 10, Spend: 500, Revenue: 1000}
	prev := map[string]periodTotals{
		"c1": {Impressions: 10000, Clicks: 200, Conversions: 10, Spend: 500, Revenue: 2500},
	}

	insights := a.classifyCampaign("run1", "c1", cur, prev, now)
	require.Len(t, insights, 1)

	in := insights[0]
	assert.Equal(t, model.InsightDrop, in.Type)
	assert.Equal(t, "roas", in.Metric)
	assert.Equal(t, model.SeverityCritical, in.Severity)
	require.NotNil(t, in.ChangePercent)
	assert.InDelta(t, -60.0, *in.ChangePercent, 0.01)
	assert.Contains(t, in.Description, "ROAS dropped 60.0%")
}

func TestClassifyCampaignSpikeAndOpportunity(t *testing.T) {
	a := NewAnalyzer(nil, testAnalysisConfig())
	now := time.Now().UTC()

	// Revenue doubles at equal spend: ROAS and revenue both up 100%.
	cur := periodTotals{Impressions: 10000, Clicks: 200, Conversions: 20, Spend: 500, Revenue: 4000}
	prev := map[string]periodTotals{
		"c1": {Impressions: 10000, Clicks: 200, Conversions: 10, Spend: 500, Revenue: 2000},
	}

	insights := a.classifyCampaign("run1", "c1", cur, prev, now)
	require.NotEmpty(t, insights)
	for _, in := range insights {
		assert.Equal(t, model.InsightSpike, in.Type, "100%% moves are critical and reported as spikes")
	}
}

func TestClassifyCampaignNoiseFloor(t *testing.T) {
	a := NewAnalyzer(nil, testAnalysisConfig())
	now := time.Now().UTC()

	cur := periodTotals{Impressions: 10000, Clicks: 205, Conversions: 10, Spend: 500, Revenue: 2050}
	prev := map[string]periodTotals{
		"c1": {Impressions: 10000, Clicks: 200, Conversions: 10, Spend: 500, Revenue: 2000},
	}

	insights := a.classifyCampaign("run1", "c1", cur, prev, now)
	assert.Empty(t, insights, "moves under the low threshold are noise")
}

func TestClassifyCampaignZeroBaselineSkipped(t *testing.T) {
	a := NewAnalyzer(nil, testAnalysisConfig())
	now := time.Now().UTC()

	// Prior spend existed but produced no revenue; ROAS change against the
	// zero baseline is undefined and must not be reported.
	cur := periodTotals{Impressions: 10000, Clicks: 200, Conversions: 10, Spend: 500, Revenue: 2000}
	prev := map[string]periodTotals{
		"c1": {Impressions: 8000, Clicks: 150, Conversions: 0, Spend: 400, Revenue: 0},
	}

	insights := a.classifyCampaign("run1", "c1", cur, prev, now)
	for _, in := range insights {
		assert.NotEqual(t, "roas", in.Metric)
		assert.NotEqual(t, "revenue", in.Metric)
		assert.NotEqual(t, "conversion_rate", in.Metric)
	}
}

func TestClassifyCampaignDormantExcluded(t *testing.T) {
	a := NewAnalyzer(nil, testAnalysisConfig())
	now := time.Now().UTC()

	insights := a.classifyCampaign("run1", "c1", periodTotals{}, map[string]periodTotals{"c1": {}}, now)
	assert.Empty(t, insights)
}

func TestClassifyCampaignNewCampaign(t *testing.T) {
	a := NewAnalyzer(nil, testAnalysisConfig())
	now := time.Now().UTC()

	cur := periodTotals{Impressions: 5000, Clicks: 100, Conversions: 5, Spend: 200, Revenue: 800}
	insights := a.classifyCampaign("run1", "c1", cur, map[string]periodTotals{}, now)
	require.Len(t, insights, 1)
	assert.Equal(t, model.InsightOpportunity, insights[0].Type)
	assert.Equal(t, "new_campaign", insights[0].Metric)
	assert.Equal(t, model.SeverityMedium, insights[0].Severity)
	assert.Nil(t, insights[0].ChangePercent)
}

func TestClassifyCampaignAnomaly(t *testing.T) {
	a := NewAnalyzer(nil, testAnalysisConfig())
	now := time.Now().UTC()

	cur := periodTotals{Spend: 120}
	prev := map[string]periodTotals{"c1": {Impressions: 9000, Clicks: 180, Spend: 100, Revenue: 400}}

	insights := a.classifyCampaign("run1", "c1", cur, prev, now)
	var anomalies int
	for _, in := range insights {
		if in.Type == model.InsightAnomaly {
			anomalies++
			assert.Equal(t, "impressions", in.Metric)
			assert.Equal(t, model.SeverityHigh, in.Severity)
		}
	}
	assert.Equal(t, 1, anomalies)
}

func TestAnalyzeEndToEnd(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// ROAS halves week over week for the first campaign; the second is new.
	seedCampaignMetrics(t, st, "meta_ads_1", "Summer Sale", map[string]store.MetricUpsert{
		"2026-08-17": {Impressions: 10000, Clicks: 300, Conversions: 20, Spend: 500, Revenue: 2000},
		"2026-08-24": {Impressions: 10000, Clicks: 300, Conversions: 20, Spend: 500, Revenue: 1000},
	})
	seedCampaignMetrics(t, st, "meta_ads_2", "Product Launch", map[string]store.MetricUpsert{
		"2026-08-25": {Impressions: 4000, Clicks: 80, Conversions: 4, Spend: 150, Revenue: 600},
	})

	a := NewAnalyzer(st, testAnalysisConfig())
	window := DateRange{From: "2026-08-24", To: "2026-08-31"}
	comparison := DateRange{From: "2026-08-17", To: "2026-08-24"}

	insights, summary, err := a.Analyze(ctx, "run1", window, comparison)
	require.NoError(t, err)
	require.NotEmpty(t, insights)

	// Critical drops sort ahead of the new-campaign opportunity; revenue and
	// roas both fell exactly 50% so the metric name breaks the tie.
	assert.Equal(t, model.InsightDrop, insights[0].Type)
	assert.Equal(t, "revenue", insights[0].Metric)
	assert.Equal(t, model.SeverityCritical, insights[0].Severity)

	var sawNew bool
	for _, in := range insights {
		assert.Equal(t, "run1", in.RunID)
		if in.Metric == "new_campaign" {
			sawNew = true
		}
	}
	assert.True(t, sawNew)
	assert.Contains(t, summary, "across 2 campaign(s)")
}

func TestAnalyzeDeterministic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, ext := range []string{"meta_ads_a", "meta_ads_b", "meta_ads_c"} {
		seedCampaignMetrics(t, st, ext, ext, map[string]store.MetricUpsert{
			"2026-08-17": {Impressions: 10000, Clicks: 300, Conversions: 20, Spend: 500, Revenue: 2000},
			"2026-08-24": {Impressions: 10000, Clicks: 300, Conversions: 20, Spend: 500, Revenue: float64(600 + i*100)},
		})
	}

	a := NewAnalyzer(st, testAnalysisConfig())
	window := DateRange{From: "2026-08-24", To: "2026-08-31"}
	comparison := DateRange{From: "2026-08-17", To: "2026-08-24"}

	first, _, err := a.Analyze(ctx, "run1", window, comparison)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, _, err := a.Analyze(ctx, "run1", window, comparison)
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].CampaignID, again[j].CampaignID)
			assert.Equal(t, first[j].Metric, again[j].Metric)
			assert.Equal(t, first[j].Severity, again[j].Severity)
		}
	}
}

func TestPeriodTotalsMetrics(t *testing.T) {
	p := periodTotals{Impressions: 10000, Clicks: 250, Conversions: 25, Spend: 500, Revenue: 2000}
	assert.InDelta(t, 4.0, p.metric("roas"), 1e-9)
	assert.InDelta(t, 2.5, p.metric("ctr"), 1e-9)
	assert.InDelta(t, 2.0, p.metric("cpc"), 1e-9)
	assert.InDelta(t, 10.0, p.metric("conversion_rate"), 1e-9)
	assert.InDelta(t, 2000.0, p.metric("revenue"), 1e-9)

	var zero periodTotals
	assert.Zero(t, zero.metric("roas"), "zero denominators never divide")
	assert.Zero(t, zero.metric("ctr"))
}

func TestPlanWindows(t *testing.T) {
	runDate := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	window, comparison := planWindows(runDate, 7)

	assert.Equal(t, DateRange{From: "2026-08-23", To: "2026-08-30"}, window)
	assert.Equal(t, DateRange{From: "2026-08-16", To: "2026-08-23"}, comparison)
}
