package model

import "time"

// Source identifies the upstream platform a record came from.
type Source string

const (
	SourceMetaAds   Source = "meta_ads"
	SourceGA4       Source = "ga4"
	SourceGoogleAds Source = "google_ads"
)

// KnownSources lists every source tag the ingestion engine accepts.
var KnownSources = []Source{SourceMetaAds, SourceGA4, SourceGoogleAds}

// Valid reports whether s is a recognized source tag.
func (s Source) Valid() bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "active"
	CampaignPaused   CampaignStatus = "paused"
	CampaignArchived CampaignStatus = "archived"
)

// NormalizeCampaignStatus clamps an arbitrary status string to the recognized
// set, defaulting unknowns to active.
func NormalizeCampaignStatus(s string) CampaignStatus {
	switch CampaignStatus(s) {
	case CampaignActive, CampaignPaused, CampaignArchived:
		return CampaignStatus(s)
	default:
		return CampaignActive
	}
}

// Campaign is a marketing campaign as seen by one upstream source.
// (external_id, source) is unique; campaigns are never deleted, only
// status-transitioned.
type Campaign struct {
	ID         string         `json:"id"`
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name"`
	Source     Source         `json:"source"`
	Status     CampaignStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// DailyMetric is one day of performance for a campaign from one source.
// (date, campaign_id, source) is unique; re-ingestion replaces the row.
type DailyMetric struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"` // canonical YYYY-MM-DD
	CampaignID  string    `json:"campaign_id"`
	Source      Source    `json:"source"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Spend       float64   `json:"spend"`
	Conversions int64     `json:"conversions"`
	Revenue     float64   `json:"revenue"`
	CreatedAt   time.Time `json:"created_at"`
}

// WeeklyMetric is a derived 7-day aggregate. It is recomputed from daily
// rows, never independently mutated.
type WeeklyMetric struct {
	ID          string    `json:"id"`
	WeekStart   string    `json:"week_start"` // YYYY-MM-DD, Monday
	CampaignID  string    `json:"campaign_id"`
	Source      Source    `json:"source"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Spend       float64   `json:"spend"`
	Conversions int64     `json:"conversions"`
	Revenue     float64   `json:"revenue"`
	ROAS        float64   `json:"roas"`
	CTR         float64   `json:"ctr"`
	CPC         float64   `json:"cpc"`
	CreatedAt   time.Time `json:"created_at"`
}

// SafeDiv returns num/den, or 0 when den is zero. Every derived ratio in the
// system goes through this so reports never contain NaN or Inf.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
