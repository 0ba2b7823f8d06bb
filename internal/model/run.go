package model

import "time"

// RunStatus represents the current state of an agent run.
//
// pending → running → (completed | failed). Terminal states are immutable;
// a failed run is retried by creating a fresh run, never by resuming.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunType identifies what kind of analysis a run performs.
type RunType string

const (
	RunTypeWeekly RunType = "weekly"
	RunTypeAdhoc  RunType = "adhoc"
)

// RunParams are the recorded inputs of a run. Together with the config
// snapshot taken at trigger time they fully determine the run's behavior.
type RunParams struct {
	WindowDays     int `json:"window_days"`
	ComparisonDays int `json:"comparison_days"`
}

// AgentRun is one execution of the analyze → decide → create → aggregate
// pipeline, with its own audit scope.
type AgentRun struct {
	ID           string     `json:"id"`
	RunType      RunType    `json:"run_type"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	InputParams  RunParams  `json:"input_params"`
	Output       *RunReport `json:"output,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// StageStatus represents the state of one pipeline stage within a run.
type StageStatus string

const (
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageResult records the outcome of a single pipeline stage for the audit
// trail.
type StageResult struct {
	Name     string         `json:"name"`
	Status   StageStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunReport is the single aggregate artifact a completed run produces.
// Downstream consumers read only this, never the stage tables mid-run.
type RunReport struct {
	RunID     string        `json:"run_id"`
	RunDate   time.Time     `json:"run_date"`
	Summary   string        `json:"summary"`
	Insights  []Insight     `json:"insights"`
	Actions   []Action      `json:"actions"`
	Creatives []Creative    `json:"creatives"`
	Stages    []StageResult `json:"stages"`
	Metrics   ReportMetrics `json:"metrics"`
}

// ReportMetrics holds the count breakdowns for a run report.
type ReportMetrics struct {
	TotalInsights     int            `json:"total_insights"`
	TotalActions      int            `json:"total_actions"`
	TotalCreatives    int            `json:"total_creatives"`
	InsightBreakdown  map[string]int `json:"insight_breakdown"`
	ActionBreakdown   map[string]int `json:"action_breakdown"`
	CampaignsAnalyzed int            `json:"campaigns_analyzed"`
}
