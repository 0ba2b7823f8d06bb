package model

import (
	"fmt"
	"time"
)

// ActionType classifies what a recommended action does.
type ActionType string

const (
	ActionScale    ActionType = "scale"
	ActionPause    ActionType = "pause"
	ActionFix      ActionType = "fix"
	ActionTest     ActionType = "test"
	ActionOptimize ActionType = "optimize"
)

// ActionStatus is the approval state of an action.
//
// pending → (approved | rejected); approved → executed. Only explicit human
// approval events move an action out of pending; the pipeline never does.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionApproved ActionStatus = "approved"
	ActionRejected ActionStatus = "rejected"
	ActionExecuted ActionStatus = "executed"
)

// Priority ranks how urgently an action should be reviewed.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Action is a candidate recommendation emitted by the decision stage.
type Action struct {
	ID               string       `json:"id"`
	RunID            string       `json:"run_id"`
	CampaignID       string       `json:"campaign_id,omitempty"`
	Type             ActionType   `json:"type"`
	Description      string       `json:"description"`
	Priority         Priority     `json:"priority"`
	Status           ActionStatus `json:"status"`
	BudgetChangePct  float64      `json:"budget_change_pct,omitempty"` // signed; negative means decrease
	RequiresApproval bool         `json:"requires_approval,omitempty"`
	GuardrailNotes   []string     `json:"guardrail_notes,omitempty"`
	ApprovedBy       string       `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time   `json:"approved_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// InvalidTransitionError is returned when an approval event targets an item
// that is not in an approvable state. No state change occurs.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// actionTransitions enumerates the legal status moves for an action.
var actionTransitions = map[ActionStatus][]ActionStatus{
	ActionPending:  {ActionApproved, ActionRejected},
	ActionApproved: {ActionExecuted},
}

// CanTransitionAction reports whether an action may move from → to.
func CanTransitionAction(from, to ActionStatus) bool {
	for _, next := range actionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
