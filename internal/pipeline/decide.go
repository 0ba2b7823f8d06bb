package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/config"
	"github.com/sells-group/marketing-agent/internal/knowledge"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/resilience"
)

// Decider turns the insights of a run into candidate actions. Rules are
// evaluated in a fixed order per campaign, first match wins, so identical
// insights always yield identical actions.
type Decider struct {
	cfg       config.GuardrailConfig
	retriever knowledge.Retriever
	topK      int
}

func NewDecider(cfg config.GuardrailConfig, retriever knowledge.Retriever, topK int) *Decider {
	return &Decider{cfg: cfg, retriever: retriever, topK: topK}
}

// campaignSignal condenses one campaign's insights into the facts the rule
// table matches on.
type campaignSignal struct {
	CampaignID  string
	HasDrop     bool
	HighDrop    bool // at least one drop at high or critical severity
	HasOpp      bool
	HasAnomaly  bool
	NewCampaign bool
	DropMetrics map[string]bool
}

func (s campaignSignal) newCampaignOnly() bool {
	return s.NewCampaign && !s.HasDrop && !s.HasAnomaly
}

func (s campaignSignal) highDropOn(metrics ...string) bool {
	if !s.HighDrop {
		return false
	}
	for _, m := range metrics {
		if s.DropMetrics[m] {
			return true
		}
	}
	return false
}

// decisionRule is one row of the ordered decision table.
type decisionRule struct {
	name  string
	match func(campaignSignal) bool
	build func(*Decider, campaignSignal) model.Action
}

// decisionRules is evaluated top to bottom; the first matching rule decides
// the campaign. Ordering is part of the contract.
var decisionRules = []decisionRule{
	{
		name:  "pause_revenue_collapse",
		match: func(s campaignSignal) bool { return s.highDropOn("roas", "revenue") },
		build: func(d *Decider, s campaignSignal) model.Action {
			return model.Action{
				Type:            model.ActionPause,
				Priority:        model.PriorityHigh,
				BudgetChangePct: -100,
				Description:     "Pause campaign: severe drop in return on spend",
			}
		},
	},
	{
		name:  "fix_engagement_drop",
		match: func(s campaignSignal) bool { return s.highDropOn("ctr", "conversion_rate") },
		build: func(d *Decider, s campaignSignal) model.Action {
			return model.Action{
				Type:        model.ActionFix,
				Priority:    model.PriorityHigh,
				Description: "Investigate creative and audience fit: engagement dropped sharply",
			}
		},
	},
	{
		name:  "test_new_campaign",
		match: func(s campaignSignal) bool { return s.newCampaignOnly() },
		build: func(d *Decider, s campaignSignal) model.Action {
			return model.Action{
				Type:        model.ActionTest,
				Priority:    model.PriorityMedium,
				Description: "Run creative variants to establish a baseline for the new campaign",
			}
		},
	},
	{
		name:  "scale_clean_winner",
		match: func(s campaignSignal) bool { return s.HasOpp && !s.HasDrop && !s.HasAnomaly },
		build: func(d *Decider, s campaignSignal) model.Action {
			return model.Action{
				Type:            model.ActionScale,
				Priority:        model.PriorityHigh,
				BudgetChangePct: d.cfg.ScaleIncreasePct,
				Description:     fmt.Sprintf("Increase budget %.0f%%: performance improving with no declines", d.cfg.ScaleIncreasePct),
			}
		},
	},
	{
		name:  "test_mixed_signals",
		match: func(s campaignSignal) bool { return s.HasOpp && s.HasDrop },
		build: func(d *Decider, s campaignSignal) model.Action {
			return model.Action{
				Type:        model.ActionTest,
				Priority:    model.PriorityMedium,
				Description: "Test creative variants: metrics are moving in opposite directions",
			}
		},
	},
	{
		name:  "optimize_anomaly",
		match: func(s campaignSignal) bool { return s.HasAnomaly },
		build: func(d *Decider, s campaignSignal) model.Action {
			return model.Action{
				Type:        model.ActionOptimize,
				Priority:    model.PriorityMedium,
				Description: "Check tracking and delivery: spend recorded without matching activity",
			}
		},
	},
}

// Decide maps insights to at most one action per campaign, then applies
// budget guardrails and knowledge-base vetoes. Every returned action is
// pending; nothing here executes anything.
func (d *Decider) Decide(ctx context.Context, runID string, insights []model.Insight) ([]model.Action, error) {
	signals := buildSignals(insights)

	campaignIDs := make([]string, 0, len(signals))
	for id := range signals {
		campaignIDs = append(campaignIDs, id)
	}
	sort.Strings(campaignIDs)

	blocked, err := d.blockedActionTypes(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var actions []model.Action
	for _, id := range campaignIDs {
		sig := signals[id]
		for _, rule := range decisionRules {
			if !rule.match(sig) {
				continue
			}
			act := rule.build(d, sig)
			act.ID = uuid.New().String()
			act.RunID = runID
			act.CampaignID = id
			act.Status = model.ActionPending
			act.CreatedAt = now

			for _, v := range d.applyGuardrails(&act) {
				zap.L().Info("guardrail applied",
					zap.String("campaign_id", id),
					zap.String("guardrail", v.Rule),
					zap.String("note", v.Note))
			}
			act, keep := applyVeto(act, blocked)
			if !keep {
				zap.L().Info("action vetoed by knowledge base",
					zap.String("campaign_id", id),
					zap.String("rule", rule.name))
				break
			}

			zap.L().Debug("action decided",
				zap.String("campaign_id", id),
				zap.String("rule", rule.name),
				zap.String("type", string(act.Type)))
			actions = append(actions, act)
			break
		}
	}
	return actions, nil
}

func buildSignals(insights []model.Insight) map[string]campaignSignal {
	signals := make(map[string]campaignSignal)
	for _, in := range insights {
		if in.CampaignID == "" {
			continue
		}
		sig, ok := signals[in.CampaignID]
		if !ok {
			sig = campaignSignal{CampaignID: in.CampaignID, DropMetrics: make(map[string]bool)}
		}
		switch in.Type {
		case model.InsightDrop:
			sig.HasDrop = true
			sig.DropMetrics[in.Metric] = true
			if in.Severity == model.SeverityHigh || in.Severity == model.SeverityCritical {
				sig.HighDrop = true
			}
		case model.InsightOpportunity:
			if in.Metric == "new_campaign" {
				sig.NewCampaign = true
			} else {
				sig.HasOpp = true
			}
		case model.InsightSpike:
			sig.HasOpp = true
		case model.InsightAnomaly:
			sig.HasAnomaly = true
		}
		signals[in.CampaignID] = sig
	}
	return signals
}

// GuardrailViolation describes one guardrail intervention on an action. It is
// recorded on the action, never escalated to a run failure.
type GuardrailViolation struct {
	Rule string
	Note string
}

func (v GuardrailViolation) String() string { return v.Note }

// applyGuardrails clamps budget increases and flags large changes for human
// approval. Every intervention leaves a note; clamping is never silent.
func (d *Decider) applyGuardrails(act *model.Action) []GuardrailViolation {
	var violations []GuardrailViolation

	if act.BudgetChangePct > d.cfg.MaxBudgetIncreasePct {
		violations = append(violations, GuardrailViolation{
			Rule: "max_budget_increase",
			Note: fmt.Sprintf("budget increase capped at %.0f%% (requested %.0f%%)", d.cfg.MaxBudgetIncreasePct, act.BudgetChangePct),
		})
		act.BudgetChangePct = d.cfg.MaxBudgetIncreasePct
	}
	abs := act.BudgetChangePct
	if abs < 0 {
		abs = -abs
	}
	if abs > d.cfg.ApprovalThresholdPct {
		act.RequiresApproval = true
		act.Priority = model.PriorityHigh
		violations = append(violations, GuardrailViolation{
			Rule: "approval_threshold",
			Note: fmt.Sprintf("approval required: budget change %.0f%% exceeds %.0f%%", act.BudgetChangePct, d.cfg.ApprovalThresholdPct),
		})
	}

	for _, v := range violations {
		act.GuardrailNotes = append(act.GuardrailNotes, v.Note)
	}
	return violations
}

// blockedActionTypes asks the knowledge base which action types policy
// forbids, expressed as "block:<type>" tags on snippets. A retrieval failure
// fails the stage; guessing at policy is worse than stopping.
func (d *Decider) blockedActionTypes(ctx context.Context) (map[model.ActionType]bool, error) {
	if d.retriever == nil {
		return nil, nil
	}
	snippets, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) ([]knowledge.Snippet, error) {
		return d.retriever.Retrieve(ctx, "budget policy action restrictions", d.topK)
	})
	if err != nil {
		return nil, resilience.NewUpstreamError("knowledge", "retrieve policy", err)
	}

	blocked := make(map[model.ActionType]bool)
	for _, sn := range snippets {
		for _, t := range []model.ActionType{model.ActionScale, model.ActionPause, model.ActionFix, model.ActionTest, model.ActionOptimize} {
			if sn.HasTag("block:" + string(t)) {
				blocked[t] = true
			}
		}
	}
	return blocked, nil
}

// applyVeto downgrades or drops an action the knowledge base blocks. A
// blocked scale becomes a test so the learning still happens without the
// spend; a blocked test has no safer fallback and is dropped.
func applyVeto(act model.Action, blocked map[model.ActionType]bool) (model.Action, bool) {
	if !blocked[act.Type] {
		return act, true
	}
	switch act.Type {
	case model.ActionScale:
		act.Type = model.ActionTest
		act.Priority = model.PriorityMedium
		act.BudgetChangePct = 0
		act.RequiresApproval = false
		act.Description = "Test creative variants instead of scaling: scaling is blocked by policy"
		act.GuardrailNotes = append(act.GuardrailNotes, "scale blocked by knowledge base, downgraded to test")
		return act, true
	default:
		return model.Action{}, false
	}
}
