package creative

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketing-agent/internal/knowledge"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/resilience"
	"github.com/sells-group/marketing-agent/pkg/anthropic"
)

func TestTemplateGenerator_Deterministic(t *testing.T) {
	g := TemplateGenerator{}
	ctx := context.Background()
	req := Request{CampaignName: "Summer Sale", ActionType: model.ActionTest, Count: 3}

	first, err := g.Generate(ctx, req)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Contains(t, first[0].Headline, "Summer Sale")

	second, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTemplateGenerator_DefaultCount(t *testing.T) {
	drafts, err := TemplateGenerator{}.Generate(context.Background(), Request{CampaignName: "X"})
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
}

// mockClient scripts CreateMessage responses for the anthropic generator.
type mockClient struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if i < len(m.responses) {
		text = m.responses[i]
	}
	return &anthropic.MessageResponse{Text: text}, nil
}

func newTestGenerator(client anthropic.Client) *AnthropicGenerator {
	g := NewAnthropicGenerator(client, "claude-haiku-4-5-20251001", 1024)
	g.retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: 1, MaxBackoff: 1}
	return g
}

func TestAnthropicGenerator_ParsesDrafts(t *testing.T) {
	client := &mockClient{responses: []string{
		`Here are the drafts:
[{"headline": "H1", "primary_text": "P1", "description": "D1", "call_to_action": "Learn More"},
 {"headline": "H2", "primary_text": "P2", "description": "D2", "call_to_action": "Shop Now"}]`,
	}}

	drafts, err := newTestGenerator(client).Generate(context.Background(), Request{
		CampaignName: "Summer Sale", ActionType: model.ActionTest, Count: 2,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "H1", drafts[0].Headline)
	assert.Equal(t, "Shop Now", drafts[1].CallToAction)
}

func TestAnthropicGenerator_TruncatesToCount(t *testing.T) {
	client := &mockClient{responses: []string{
		`[{"headline": "H1"}, {"headline": "H2"}, {"headline": "H3"}]`,
	}}

	drafts, err := newTestGenerator(client).Generate(context.Background(), Request{Count: 1})
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
}

func TestAnthropicGenerator_MalformedResponse(t *testing.T) {
	client := &mockClient{responses: []string{`I cannot produce JSON right now.`}}

	_, err := newTestGenerator(client).Generate(context.Background(), Request{Count: 1})
	require.Error(t, err)

	var ue *resilience.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "generation", ue.Capability)
	assert.False(t, ue.Transient)
}

func TestAnthropicGenerator_RetriesTransientThenSucceeds(t *testing.T) {
	client := &mockClient{
		errs:      []error{errors.New("api_error: overloaded"), nil},
		responses: []string{"", `[{"headline": "H1"}]`},
	}

	drafts, err := newTestGenerator(client).Generate(context.Background(), Request{Count: 1})
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
	assert.Equal(t, 2, client.calls)
}

func TestAnthropicGenerator_UpstreamFailure(t *testing.T) {
	client := &mockClient{errs: []error{
		errors.New("api_error: overloaded"),
		errors.New("api_error: overloaded"),
	}}

	_, err := newTestGenerator(client).Generate(context.Background(), Request{Count: 1})
	require.Error(t, err)

	var ue *resilience.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.Transient)
}

func TestBuildPrompt_IncludesKnowledge(t *testing.T) {
	req := Request{
		CampaignName: "Summer Sale",
		ActionType:   model.ActionTest,
		Description:  "test new angles",
		Platform:     "meta",
		Count:        2,
	}
	req.Knowledge = append(req.Knowledge, knowledge.Snippet{Topic: "brand voice", Text: "Keep copy plain."})

	prompt := buildPrompt(req)
	assert.Contains(t, prompt, "Summer Sale")
	assert.Contains(t, prompt, "brand voice")
	assert.Contains(t, prompt, "Keep copy plain.")
}
