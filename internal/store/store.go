package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/marketing-agent/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// CampaignUpsert is the write shape for a campaign upsert. ExternalID and
// Source form the natural key; Name and Status are the mutable fields.
type CampaignUpsert struct {
	ExternalID string
	Name       string
	Source     model.Source
	Status     model.CampaignStatus
}

// MetricUpsert is the write shape for a daily metric upsert. Each call
// carries a complete row for its (Date, CampaignID, Source) key; a conflict
// replaces all metric columns (last write wins).
type MetricUpsert struct {
	Date        string // canonical YYYY-MM-DD
	CampaignID  string
	Source      model.Source
	Impressions int64
	Clicks      int64
	Spend       float64
	Conversions int64
	Revenue     float64
}

// CampaignFilter specifies criteria for listing campaigns.
type CampaignFilter struct {
	Source model.Source
	Status model.CampaignStatus
	Limit  int
}

// RunFilter specifies criteria for listing runs, most recent first.
type RunFilter struct {
	Status  model.RunStatus
	RunType model.RunType
	Limit   int
	Offset  int
}

// Store is the persistence interface over the canonical marketing data and
// the run ledger. The uniqueness constraints behind UpsertCampaign and
/// UpsertDailyMetric are load-bearing: they are what makes ingestion
// idempotent under re-delivery and safe under concurrent writers.
type Store interface {
	// Canonical data. Only the ingestion engine calls the upserts.
	UpsertCampaign(ctx context.Context, c CampaignUpsert) (*model.Campaign, error)
	UpsertDailyMetric(ctx context.Context, m MetricUpsert) (*model.DailyMetric, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error)
	MetricsInRange(ctx context.Context, from, to string) ([]model.DailyMetric, error)
	RecomputeWeekly(ctx context.Context, weekStart string) (int, error)
	ListWeeklyMetrics(ctx context.Context, campaignID string, limit int) ([]model.WeeklyMetric, error)

	// Run ledger. Terminal runs are immutable: CompleteRun and FailRun
	// refuse to touch a run that is already completed or failed.
	CreateRun(ctx context.Context, runType model.RunType, params model.RunParams) (*model.AgentRun, error)
	StartRun(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, report *model.RunReport) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.AgentRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.AgentRun, error)

	// Stage outputs, written once per run by the pipeline.
	SaveInsights(ctx context.Context, insights []model.Insight) error
	SaveActions(ctx context.Context, actions []model.Action) error
	SaveCreatives(ctx context.Context, creatives []model.Creative) error

	// Approval events. Transitions are checked compare-and-swap style: the
	// UPDATE matches only the approvable status, and zero rows affected
	// resolves to an InvalidTransitionError (or ErrNotFound).
	TransitionAction(ctx context.Context, actionID string, to model.ActionStatus, approver string) (*model.Action, error)
	TransitionCreative(ctx context.Context, creativeID string, to model.CreativeStatus, approver string) (*model.Creative, error)
	GetAction(ctx context.Context, actionID string) (*model.Action, error)
	GetCreative(ctx context.Context, creativeID string) (*model.Creative, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// WeekStart returns the Monday of the ISO week containing the given day,
// formatted YYYY-MM-DD. Returns an error for unparseable input.
func WeekStart(date string) (string, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", err
	}
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return t.AddDate(0, 0, -offset).Format("2006-01-02"), nil
}
