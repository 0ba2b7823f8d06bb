package ingest

import (
	"time"
)

// SampleMetaAdsRecords generates a deterministic Meta Ads feed covering
// numDays ending yesterday, for exercising the pipeline without live feeds.
func SampleMetaAdsRecords(numDays int) []RawRecord {
	campaigns := []struct {
		externalID string
		name       string
		status     string
	}{
		{"meta_ads_123456", "Summer Sale Campaign", "active"},
		{"meta_ads_789012", "Product Launch", "active"},
		{"meta_ads_345678", "Retargeting Campaign", "paused"},
	}

	base := time.Now().UTC().AddDate(0, 0, -numDays)
	var records []RawRecord
	for i := 0; i < numDays; i++ {
		date := base.AddDate(0, 0, i).Format("2006-01-02")
		for _, c := range campaigns {
			records = append(records, RawRecord{
				"external_id": c.externalID,
				"campaign":    c.name,
				"date":        date,
				"impressions": 10000 + i*500,
				"clicks":      300 + i*10,
				"spend":       500.0 + float64(i)*20.0,
				"conversions": 10 + i/2,
				"revenue":     2000.0 + float64(i)*100.0,
				"status":      c.status,
			})
		}
	}
	return records
}

// SampleGA4Records generates a deterministic GA4 feed in GA4's field naming
// (sessions, cost, purchases, value) to exercise the fallback chains.
func SampleGA4Records(numDays int) []RawRecord {
	channels := []struct {
		externalID string
		name       string
	}{
		{"ga4_source_1", "Organic Search"},
		{"ga4_source_2", "Paid Search"},
		{"ga4_source_3", "Social Media"},
	}

	base := time.Now().UTC().AddDate(0, 0, -numDays)
	var records []RawRecord
	for i := 0; i < numDays; i++ {
		date := base.AddDate(0, 0, i).Format("2006-01-02")
		for _, c := range channels {
			sessions := 5000 + i*200
			records = append(records, RawRecord{
				"external_id":   c.externalID,
				"campaign_name": c.name,
				"date_start":    date,
				"sessions":      sessions,
				"cost":          300.0 + float64(i)*15.0,
				"purchases":     8 + i/2,
				"value":         1500.0 + float64(i)*80.0,
				"status":        "active",
			})
		}
	}
	return records
}
