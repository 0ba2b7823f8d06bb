package creative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketing-agent/internal/resilience"
	"github.com/sells-group/marketing-agent/pkg/anthropic"
)

const generatorSystemPrompt = `You write short-form ad creatives for performance marketing.
Respond with a JSON array only, no prose. Each element:
{"headline": string, "primary_text": string, "description": string, "call_to_action": string}
Headlines under 60 characters. Primary text under 200 characters.
Stay strictly within the brand and compliance notes provided.`

// AnthropicGenerator produces drafts via the messages API. Failures surface
// as resilience.UpstreamError so the pipeline can fail the run cleanly.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

func NewAnthropicGenerator(client anthropic.Client, model string, maxTokens int64) *AnthropicGenerator {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("generation", "create message")
	return &AnthropicGenerator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		retry:     retry,
	}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) ([]Draft, error) {
	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     g.model,
			MaxTokens: g.maxTokens,
			System:    generatorSystemPrompt,
			Messages: []anthropic.Message{
				{Role: "user", Content: buildPrompt(req)},
			},
		})
	})
	if err != nil {
		return nil, resilience.NewUpstreamError("generation", "create message", err)
	}
	resp.Usage.LogCost(g.model, "creative generation")

	drafts, err := parseDrafts(resp.Text)
	if err != nil {
		return nil, resilience.NewUpstreamError("generation", "parse response", err)
	}
	if req.Count > 0 && len(drafts) > req.Count {
		drafts = drafts[:req.Count]
	}
	return drafts, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	count := req.Count
	if count <= 0 {
		count = 1
	}

	fmt.Fprintf(&b, "Write %d creative draft(s) for platform %q.\n", count, req.Platform)
	fmt.Fprintf(&b, "Campaign: %s\n", req.CampaignName)
	fmt.Fprintf(&b, "Recommended action: %s — %s\n", req.ActionType, req.Description)

	if len(req.Knowledge) > 0 {
		b.WriteString("\nBrand and compliance notes:\n")
		for _, s := range req.Knowledge {
			fmt.Fprintf(&b, "- [%s] %s\n", s.Topic, s.Text)
		}
	}
	return b.String()
}

// parseDrafts extracts the JSON array from a model response, tolerating
// leading/trailing prose around the array.
func parseDrafts(text string) ([]Draft, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, eris.Errorf("no JSON array in response (%d chars)", len(text))
	}

	var drafts []Draft
	if err := json.Unmarshal([]byte(text[start:end+1]), &drafts); err != nil {
		return nil, eris.Wrap(err, "unmarshal drafts")
	}
	if len(drafts) == 0 {
		return nil, eris.New("response contained no drafts")
	}
	return drafts, nil
}
