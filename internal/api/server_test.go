package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/config"
	"github.com/sells-group/marketing-agent/internal/creative"
	"github.com/sells-group/marketing-agent/internal/ingest"
	"github.com/sells-group/marketing-agent/internal/knowledge"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/pipeline"
	"github.com/sells-group/marketing-agent/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Analysis: config.AnalysisConfig{
			WindowDays:           7,
			ComparisonDays:       7,
			LowThresholdPct:      10,
			HighThresholdPct:     30,
			CriticalThresholdPct: 50,
		},
		Guardrail: config.GuardrailConfig{
			MaxBudgetIncreasePct: 25,
			ApprovalThresholdPct: 15,
			ScaleIncreasePct:     20,
		},
		Creative:  config.CreativeConfig{Platform: "meta", DraftsPerAction: 1},
		Knowledge: config.KnowledgeConfig{TopK: 5},
	}

	engine := ingest.New(st, zap.NewNop(), ingest.Options{ImpressionsPerSession: 2.0})
	runner := pipeline.NewRunner(cfg, st, knowledge.NewStatic(nil), creative.TemplateGenerator{})

	srv := NewServer(st, engine, runner)
	ts := httptest.NewServer(srv.Router(config.ServerConfig{AllowedOrigins: []string{"*"}}))
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestUpsertSingleRecord(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/ingest/upsert", map[string]any{
		"source": "meta_ads",
		"record": map[string]any{
			"campaign_name": "Summer Sale",
			"external_id":   "meta_ads_1",
			"date":          "2026-08-20",
			"impressions":   1000,
			"clicks":        50,
			"spend":         25.5,
			"conversions":   3,
			"revenue":       120.0,
		},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[ingest.RecordResult](t, resp)
	assert.Equal(t, "applied", result.Outcome)
	assert.NotEmpty(t, result.CampaignID)
	assert.Equal(t, "2026-08-20", result.Date)
}

func TestUpsertRejectsBadRecord(t *testing.T) {
	ts, _ := newTestServer(t)

	// clicks exceed impressions
	resp := postJSON(t, ts.URL+"/ingest/upsert", map[string]any{
		"source": "meta_ads",
		"record": map[string]any{
			"campaign_name": "Broken",
			"date":          "2026-08-20",
			"impressions":   10,
			"clicks":        50,
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Contains(t, body["error"], "clicks")
}

func TestUpsertRejectsUnknownSource(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/ingest/upsert", map[string]any{
		"source": "tiktok",
		"record": map[string]any{"campaign_name": "x", "date": "2026-08-20"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpsertBatchMixedOutcomes(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/ingest/upsert-batch", map[string]any{
		"source": "meta_ads",
		"records": []map[string]any{
			{"campaign_name": "Good", "date": "2026-08-20", "impressions": 100, "clicks": 5},
			{"campaign_name": "", "date": "2026-08-20"},
			{"campaign_name": "Also Good", "date": "2026-08-21", "impressions": 200, "clicks": 10},
		},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[ingest.BatchResult](t, resp)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Records, 3)
	assert.Contains(t, result.Records[1].Outcome, "skipped:")
}

func TestTriggerRunAndWait(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/agent/run", map[string]any{
		"run_type": "adhoc",
		"wait":     true,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	run := decodeBody[model.AgentRun](t, resp)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	require.NotNil(t, run.Output)
	assert.Equal(t, "No significant changes detected.", run.Output.Summary)
}

func TestTriggerRunAsync(t *testing.T) {
	ts, st := newTestServer(t)

	resp := postJSON(t, ts.URL+"/agent/run", map[string]any{"run_type": "weekly"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	run := decodeBody[model.AgentRun](t, resp)
	assert.Equal(t, model.RunStatusPending, run.Status)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(context.Background(), run.ID)
		return err == nil && got.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
}

func TestTriggerRunRejectsBadType(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/agent/run", map[string]any{"run_type": "hourly"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAndGetRuns(t *testing.T) {
	ts, st := newTestServer(t)

	run, err := st.CreateRun(context.Background(), model.RunTypeAdhoc, model.RunParams{WindowDays: 7, ComparisonDays: 7})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/agent/runs")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[struct {
		Runs  []model.AgentRun `json:"runs"`
		Count int              `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, list.Count)

	resp, err = http.Get(ts.URL + "/agent/runs/" + run.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[model.AgentRun](t, resp)
	assert.Equal(t, run.ID, got.ID)

	resp, err = http.Get(ts.URL + "/agent/runs/no-such-run")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func seedPendingAction(t *testing.T, st store.Store) model.Action {
	t.Helper()
	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.RunTypeAdhoc, model.RunParams{WindowDays: 7, ComparisonDays: 7})
	require.NoError(t, err)

	act := model.Action{
		ID:          "act-1",
		RunID:       run.ID,
		CampaignID:  "c1",
		Type:        model.ActionScale,
		Description: "Increase budget 20%",
		Priority:    model.PriorityHigh,
		Status:      model.ActionPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, st.SaveActions(ctx, []model.Action{act}))
	return act
}

func TestActionApprovalFlow(t *testing.T) {
	ts, st := newTestServer(t)
	act := seedPendingAction(t, st)

	url := fmt.Sprintf("%s/actions/%s/approve", ts.URL, act.ID)

	// Missing approver is rejected before any state change.
	resp := postJSON(t, url, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, url, map[string]any{"approved_by": "dana"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decodeBody[model.Action](t, resp)
	assert.Equal(t, model.ActionApproved, approved.Status)
	assert.Equal(t, "dana", approved.ApprovedBy)

	// Double approval conflicts; approved is not an approvable state.
	resp = postJSON(t, url, map[string]any{"approved_by": "dana"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Approved actions can be executed.
	resp = postJSON(t, fmt.Sprintf("%s/actions/%s/execute", ts.URL, act.ID), map[string]any{"approved_by": "dana"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	executed := decodeBody[model.Action](t, resp)
	assert.Equal(t, model.ActionExecuted, executed.Status)
}

func TestActionRejectThenApproveConflicts(t *testing.T) {
	ts, st := newTestServer(t)
	act := seedPendingAction(t, st)

	resp := postJSON(t, fmt.Sprintf("%s/actions/%s/reject", ts.URL, act.ID), map[string]any{"approved_by": "dana"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, fmt.Sprintf("%s/actions/%s/approve", ts.URL, act.ID), map[string]any{"approved_by": "sam"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestActionTransitionNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/actions/missing/approve", map[string]any{"approved_by": "dana"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreativeApprovalFlow(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunTypeAdhoc, model.RunParams{WindowDays: 7, ComparisonDays: 7})
	require.NoError(t, err)
	cr := model.Creative{
		ID:           "cr-1",
		RunID:        run.ID,
		ActionID:     "act-1",
		Platform:     "meta",
		CreativeType: "ad_copy",
		Headline:     "Fresh Angle",
		PrimaryText:  "See what changed.",
		Status:       model.CreativeDraft,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.SaveCreatives(ctx, []model.Creative{cr}))

	resp := postJSON(t, fmt.Sprintf("%s/creatives/%s/approve", ts.URL, cr.ID), map[string]any{"approved_by": "dana"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decodeBody[model.Creative](t, resp)
	assert.Equal(t, model.CreativeApproved, approved.Status)

	resp = postJSON(t, fmt.Sprintf("%s/creatives/%s/publish", ts.URL, cr.ID), map[string]any{"approved_by": "dana"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	published := decodeBody[model.Creative](t, resp)
	assert.Equal(t, model.CreativePublished, published.Status)
}

func TestListCampaigns(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	_, err := st.UpsertCampaign(ctx, store.CampaignUpsert{
		ExternalID: "meta_ads_1", Name: "Summer Sale", Source: model.SourceMetaAds, Status: model.CampaignActive,
	})
	require.NoError(t, err)
	_, err = st.UpsertCampaign(ctx, store.CampaignUpsert{
		ExternalID: "ga4_1", Name: "Organic", Source: model.SourceGA4, Status: model.CampaignActive,
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/campaigns?source=meta_ads")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[struct {
		Campaigns []model.Campaign `json:"campaigns"`
		Count     int              `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "Summer Sale", list.Campaigns[0].Name)
}
