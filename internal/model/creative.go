package model

import "time"

// CreativeStatus is the review state of a creative draft.
//
// draft → (approved | rejected); approved → published. Same human-gated
// transition rule as actions.
type CreativeStatus string

const (
	CreativeDraft     CreativeStatus = "draft"
	CreativeApproved  CreativeStatus = "approved"
	CreativeRejected  CreativeStatus = "rejected"
	CreativePublished CreativeStatus = "published"
)

// Creative is a draft ad artifact produced by the creative stage for one
// action. Always created as a draft, never auto-published.
type Creative struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	ActionID     string         `json:"action_id"`
	Platform     string         `json:"platform"`
	CreativeType string         `json:"creative_type"`
	Headline     string         `json:"headline"`
	PrimaryText  string         `json:"primary_text"`
	Description  string         `json:"description"`
	CallToAction string         `json:"call_to_action"`
	Status       CreativeStatus `json:"status"`
	ApprovedBy   string         `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time     `json:"approved_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

var creativeTransitions = map[CreativeStatus][]CreativeStatus{
	CreativeDraft:    {CreativeApproved, CreativeRejected},
	CreativeApproved: {CreativePublished},
}

// CanTransitionCreative reports whether a creative may move from → to.
func CanTransitionCreative(from, to CreativeStatus) bool {
	for _, next := range creativeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
