package model

import (
	"math"
	"sort"
	"time"
)

// InsightType classifies what an insight reports.
type InsightType string

const (
	InsightDrop        InsightType = "drop"
	InsightSpike       InsightType = "spike"
	InsightOpportunity InsightType = "opportunity"
	InsightAnomaly     InsightType = "anomaly"
)

// Severity ranks how much an insight matters.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for deterministic sorting.
var severityRank = map[Severity]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityMedium:   1,
	SeverityLow:      0,
}

// Rank returns a numeric order for the severity, higher is more severe.
func (s Severity) Rank() int { return severityRank[s] }

// Insight is a single typed finding from the analysis stage. Write-once,
// owned by exactly one run.
type Insight struct {
	ID            string      `json:"id"`
	RunID         string      `json:"run_id"`
	CampaignID    string      `json:"campaign_id,omitempty"`
	Type          InsightType `json:"type"`
	Metric        string      `json:"metric"`
	ChangePercent *float64    `json:"change_percent,omitempty"` // nil when previous period was zero
	Severity      Severity    `json:"severity"`
	Description   string      `json:"description"`
	CreatedAt     time.Time   `json:"created_at"`
}

// SortInsights orders insights severity-descending, then by absolute
// change_percent descending, then campaign and metric as stable tie breaks.
// Identical inputs always yield identical ordering.
func SortInsights(insights []Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		a, b := insights[i], insights[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		ai, bi := absChange(a), absChange(b)
		if ai != bi {
			return ai > bi
		}
		if a.CampaignID != b.CampaignID {
			return a.CampaignID < b.CampaignID
		}
		return a.Metric < b.Metric
	})
}

func absChange(in Insight) float64 {
	if in.ChangePercent == nil {
		return 0
	}
	return math.Abs(*in.ChangePercent)
}
