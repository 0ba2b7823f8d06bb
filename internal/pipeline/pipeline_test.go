package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketing-agent/internal/config"
	"github.com/sells-group/marketing-agent/internal/creative"
	"github.com/sells-group/marketing-agent/internal/knowledge"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Analysis:  testAnalysisConfig(),
		Guardrail: testGuardrailConfig(),
		Creative:  testCreativeConfig(),
		Knowledge: config.KnowledgeConfig{TopK: 5},
	}
}

// seedRecentWindow writes one week of declining performance plus a brand-new
// campaign, dated relative to now so planWindows picks them up.
func seedRecentWindow(t *testing.T, st store.Store) {
	t.Helper()
	now := time.Now().UTC()
	day := func(offset int) string { return now.AddDate(0, 0, offset).Format("2006-01-02") }

	seedCampaignMetrics(t, st, "meta_ads_1", "Summer Sale", map[string]store.MetricUpsert{
		day(-10): {Impressions: 10000, Clicks: 300, Conversions: 20, Spend: 500, Revenue: 2000},
		day(-2):  {Impressions: 10000, Clicks: 300, Conversions: 20, Spend: 500, Revenue: 900},
	})
	seedCampaignMetrics(t, st, "meta_ads_2", "Product Launch", map[string]store.MetricUpsert{
		day(-1): {Impressions: 4000, Clicks: 80, Conversions: 4, Spend: 150, Revenue: 600},
	})
}

func TestRunnerCompletesRun(t *testing.T) {
	st := newTestStore(t)
	seedRecentWindow(t, st)

	r := NewRunner(testConfig(), st, knowledge.NewStatic(nil), creative.TemplateGenerator{})
	run, err := r.Run(context.Background(), model.RunTypeAdhoc, model.RunParams{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.Output)
	assert.Equal(t, 7, run.InputParams.WindowDays, "defaults come from config")
	assert.Equal(t, 7, run.InputParams.ComparisonDays)

	report := run.Output
	assert.NotEmpty(t, report.Insights)
	assert.NotEmpty(t, report.Actions)
	for _, act := range report.Actions {
		assert.Equal(t, model.ActionPending, act.Status, "the pipeline never self-approves")
	}

	// The declining campaign pauses, the new one gets a creative test, so
	// the create stage ran and produced drafts.
	var types []model.ActionType
	for _, act := range report.Actions {
		types = append(types, act.Type)
	}
	assert.Contains(t, types, model.ActionPause)
	assert.Contains(t, types, model.ActionTest)
	assert.NotEmpty(t, report.Creatives)
	for _, cr := range report.Creatives {
		assert.Equal(t, model.CreativeDraft, cr.Status)
	}

	require.Len(t, report.Stages, 4)
	for _, stage := range report.Stages {
		assert.Equal(t, model.StageStatusComplete, stage.Status, stage.Name)
	}
	assert.Equal(t, []string{"analyze", "decide", "create", "aggregate"},
		[]string{report.Stages[0].Name, report.Stages[1].Name, report.Stages[2].Name, report.Stages[3].Name})
}

func TestRunnerEmptyDataCompletes(t *testing.T) {
	st := newTestStore(t)

	r := NewRunner(testConfig(), st, knowledge.NewStatic(nil), creative.TemplateGenerator{})
	run, err := r.Run(context.Background(), model.RunTypeWeekly, model.RunParams{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	require.NotNil(t, run.Output)
	assert.Equal(t, "No significant changes detected.", run.Output.Summary)

	// No test actions, so the create stage is recorded as skipped.
	var createStage *model.StageResult
	for i := range run.Output.Stages {
		if run.Output.Stages[i].Name == "create" {
			createStage = &run.Output.Stages[i]
		}
	}
	require.NotNil(t, createStage)
	assert.Equal(t, model.StageStatusSkipped, createStage.Status)
}

func TestRunnerStageFailureFailsRun(t *testing.T) {
	st := newTestStore(t)
	seedRecentWindow(t, st)

	r := NewRunner(testConfig(), st, failingRetriever{err: errors.New("index offline")}, creative.TemplateGenerator{})
	run, err := r.Run(context.Background(), model.RunTypeAdhoc, model.RunParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage decide")

	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "stage decide")
	assert.Contains(t, run.ErrorMessage, "index offline")
	require.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.Output, "failed runs carry no report")
}

func TestRunnerFailedRunRetriesAsNewRun(t *testing.T) {
	st := newTestStore(t)
	seedRecentWindow(t, st)

	bad := NewRunner(testConfig(), st, failingRetriever{err: errors.New("index offline")}, creative.TemplateGenerator{})
	failed, err := bad.Run(context.Background(), model.RunTypeAdhoc, model.RunParams{})
	require.Error(t, err)

	good := NewRunner(testConfig(), st, knowledge.NewStatic(nil), creative.TemplateGenerator{})
	completed, err := good.Run(context.Background(), model.RunTypeAdhoc, model.RunParams{})
	require.NoError(t, err)

	assert.NotEqual(t, failed.ID, completed.ID)
	assert.Equal(t, model.RunStatusFailed, failed.Status)
	assert.Equal(t, model.RunStatusCompleted, completed.Status)

	// The failed run stayed failed.
	reloaded, err := st.GetRun(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, reloaded.Status)
}

func TestRunnerCancellationFailsRun(t *testing.T) {
	st := newTestStore(t)
	seedRecentWindow(t, st)

	// The retriever cancels mid-run; the pipeline must record the run as
	// failed rather than leaving it running.
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(testConfig(), st, cancellingRetriever{cancel: cancel}, creative.TemplateGenerator{})

	run, err := r.Run(ctx, model.RunTypeAdhoc, model.RunParams{})
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)
}

type cancellingRetriever struct{ cancel context.CancelFunc }

func (r cancellingRetriever) Retrieve(context.Context, string, int) ([]knowledge.Snippet, error) {
	r.cancel()
	return nil, nil
}

// startFailStore injects a StartRun failure, as when the ledger becomes
// unreachable between creating the run and starting it.
type startFailStore struct {
	store.Store
	err error
}

func (s *startFailStore) StartRun(context.Context, string) error { return s.err }

func TestRunnerStartFailureFailsRun(t *testing.T) {
	st := newTestStore(t)

	r := NewRunner(testConfig(), &startFailStore{Store: st, err: errors.New("ledger unavailable")},
		knowledge.NewStatic(nil), creative.TemplateGenerator{})
	run, err := r.Run(context.Background(), model.RunTypeAdhoc, model.RunParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start run")

	// The created run still reaches a terminal state.
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "ledger unavailable")
}

// gatedStore blocks the first metrics read until released, holding a run
// open mid-analyze so another caller can queue behind it.
type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) MetricsInRange(ctx context.Context, from, to string) ([]model.DailyMetric, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.MetricsInRange(ctx, from, to)
}

func TestRunnerQueuedCallerGivesUpRunStillTerminal(t *testing.T) {
	st := newTestStore(t)
	seedRecentWindow(t, st)

	gated := &gatedStore{Store: st, entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRunner(testConfig(), gated, knowledge.NewStatic(nil), creative.TemplateGenerator{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), model.RunTypeAdhoc, model.RunParams{})
		firstDone <- err
	}()
	<-gated.entered

	// Second caller queues behind the running pipeline, then its context dies
	// before its turn comes. Its run must not sit in pending forever.
	ctx, cancel := context.WithCancel(context.Background())
	secondDone := make(chan *model.AgentRun, 1)
	go func() {
		run, _ := r.Run(ctx, model.RunTypeAdhoc, model.RunParams{})
		secondDone <- run
	}()
	require.Eventually(t, func() bool {
		runs, err := st.ListRuns(context.Background(), store.RunFilter{})
		return err == nil && len(runs) == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	close(gated.release)

	require.NoError(t, <-firstDone)
	second := <-secondDone
	require.NotNil(t, second)
	assert.Equal(t, model.RunStatusFailed, second.Status)

	// Both ledger entries are terminal.
	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, rn := range runs {
		assert.True(t, rn.Status.Terminal(), rn.ID)
	}
}

func TestRunnerTriggerAsync(t *testing.T) {
	st := newTestStore(t)
	seedRecentWindow(t, st)

	r := NewRunner(testConfig(), st, knowledge.NewStatic(nil), creative.TemplateGenerator{})
	run, err := r.Trigger(context.Background(), model.RunTypeWeekly, model.RunParams{WindowDays: 7, ComparisonDays: 7})
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusPending, run.Status)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(context.Background(), run.ID)
		return err == nil && got.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)

	final, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, final.Status)
	require.NotNil(t, final.Output)
}

func TestRunnerExplicitParamsRecorded(t *testing.T) {
	st := newTestStore(t)

	r := NewRunner(testConfig(), st, knowledge.NewStatic(nil), creative.TemplateGenerator{})
	run, err := r.Run(context.Background(), model.RunTypeAdhoc, model.RunParams{WindowDays: 14, ComparisonDays: 14})
	require.NoError(t, err)
	assert.Equal(t, 14, run.InputParams.WindowDays)
	assert.Equal(t, 14, run.InputParams.ComparisonDays)
}
