// Package creative implements the draft-generation capability consumed by
// the creative stage. Generation is opaque and possibly non-deterministic;
// everything downstream of it (compliance filtering, persistence) treats
// drafts as plain data.
package creative

import (
	"context"
	"fmt"

	"github.com/sells-group/marketing-agent/internal/knowledge"
	"github.com/sells-group/marketing-agent/internal/model"
)

// Request describes the creative work one action needs.
type Request struct {
	CampaignName string
	ActionType   model.ActionType
	Description  string
	Platform     string
	Count        int
	Knowledge    []knowledge.Snippet
}

// Draft is one generated creative before compliance filtering.
type Draft struct {
	Headline     string `json:"headline"`
	PrimaryText  string `json:"primary_text"`
	Description  string `json:"description"`
	CallToAction string `json:"call_to_action"`
}

// Generator produces creative drafts. Implementations may call external
// services with unbounded latency; callers bound it via ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]Draft, error)
}

// TemplateGenerator produces deterministic drafts from fixed templates. It is
// the default when no API key is configured, and keeps local runs and tests
// fully reproducible.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(ctx context.Context, req Request) ([]Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}

	variants := []struct {
		headline string
		cta      string
	}{
		{"New from %s", "Learn More"},
		{"%s: See What Changed", "Shop Now"},
		{"Why %s Works", "Get Started"},
	}

	drafts := make([]Draft, 0, count)
	for i := 0; i < count; i++ {
		v := variants[i%len(variants)]
		drafts = append(drafts, Draft{
			Headline:     fmt.Sprintf(v.headline, req.CampaignName),
			PrimaryText:  fmt.Sprintf("A fresh angle for %s based on recent performance.", req.CampaignName),
			Description:  req.Description,
			CallToAction: v.cta,
		})
	}
	return drafts, nil
}
