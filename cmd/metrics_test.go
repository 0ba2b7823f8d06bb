package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/marketing-agent/internal/model"
)

func TestFormatWeeklyMetrics_CTRAsPercent(t *testing.T) {
	var buf strings.Builder
	formatWeeklyMetrics(&buf, []model.WeeklyMetric{{
		WeekStart:   "2026-08-24",
		Source:      model.SourceMetaAds,
		Impressions: 10000,
		Clicks:      300,
		Spend:       500,
		Conversions: 20,
		Revenue:     2000,
		ROAS:        4,
		CTR:         0.03, // stored ratio, shown as 3.00%
		CPC:         1.67,
	}})

	out := buf.String()
	assert.Contains(t, out, "3.00%")
	assert.NotContains(t, out, "0.03%")
}
