package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/marketing-agent/internal/model"
)

// BuildReport assembles the immutable run report from the outputs of the
// earlier stages. It is pure: no store access, no clock reads beyond the
// supplied run date, so the same inputs always produce the same report.
func BuildReport(runID string, runDate time.Time, analysisSummary string, insights []model.Insight, actions []model.Action, creatives []model.Creative, stages []model.StageResult) model.RunReport {
	campaigns := make(map[string]bool)
	insightBreakdown := make(map[string]int)
	for _, in := range insights {
		insightBreakdown[string(in.Type)]++
		if in.CampaignID != "" {
			campaigns[in.CampaignID] = true
		}
	}
	actionBreakdown := make(map[string]int)
	pendingApproval := 0
	for _, act := range actions {
		actionBreakdown[string(act.Type)]++
		if act.RequiresApproval {
			pendingApproval++
		}
	}

	var parts []string
	if len(insights) > 0 {
		parts = append(parts, analysisSummary)
	}
	if len(actions) > 0 {
		part := fmt.Sprintf("%d action(s) recommended", len(actions))
		if pendingApproval > 0 {
			part += fmt.Sprintf(", %d awaiting approval", pendingApproval)
		}
		parts = append(parts, part)
	}
	if len(creatives) > 0 {
		parts = append(parts, fmt.Sprintf("%d creative draft(s) ready for review", len(creatives)))
	}

	summary := "No significant changes detected."
	if len(parts) > 0 {
		summary = strings.Join(parts, ". ")
	}

	return model.RunReport{
		RunID:     runID,
		RunDate:   runDate,
		Summary:   summary,
		Insights:  insights,
		Actions:   actions,
		Creatives: creatives,
		Stages:    stages,
		Metrics: model.ReportMetrics{
			TotalInsights:     len(insights),
			TotalActions:      len(actions),
			TotalCreatives:    len(creatives),
			InsightBreakdown:  insightBreakdown,
			ActionBreakdown:   actionBreakdown,
			CampaignsAnalyzed: len(campaigns),
		},
	}
}
