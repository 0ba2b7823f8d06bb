package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCorpus = []Snippet{
	{ID: "brand-tone", Topic: "brand voice", Text: "Keep copy plain and benefit-led. Avoid hype.", Tags: []string{"creative"}},
	{ID: "budget-policy", Topic: "budget scaling", Text: "Budget increases above 20 percent need finance review.", Tags: []string{"block:scale"}},
	{ID: "claims", Topic: "compliance claims", Text: "Never promise guaranteed results or instant outcomes.", Tags: []string{"creative", "compliance"}},
}

func TestStaticRetriever_RanksByOverlap(t *testing.T) {
	r := NewStatic(testCorpus)

	got, err := r.Retrieve(context.Background(), "budget scaling policy", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "budget-policy", got[0].ID)
}

func TestStaticRetriever_TopKAndDeterminism(t *testing.T) {
	r := NewStatic(testCorpus)
	ctx := context.Background()

	first, err := r.Retrieve(ctx, "brand compliance copy claims", 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(first), 2)

	second, err := r.Retrieve(ctx, "brand compliance copy claims", 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStaticRetriever_NoMatch(t *testing.T) {
	r := NewStatic(testCorpus)

	got, err := r.Retrieve(context.Background(), "zebra migration patterns", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStaticRetriever_CancelledContext(t *testing.T) {
	r := NewStatic(testCorpus)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Retrieve(ctx, "anything", 5)
	assert.Error(t, err)
}

func TestSnippet_HasTag(t *testing.T) {
	s := Snippet{Tags: []string{"block:scale", "Compliance"}}
	assert.True(t, s.HasTag("block:scale"))
	assert.True(t, s.HasTag("compliance"))
	assert.False(t, s.HasTag("creative"))
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snippets.yaml")
	payload := `snippets:
  - id: brand-tone
    topic: brand voice
    text: Keep copy plain.
    tags: [creative]
  - id: budget-policy
    topic: budget scaling
    text: Increases above 20 percent need review.
`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	r, err := LoadStatic(path)
	require.NoError(t, err)

	got, err := r.Retrieve(context.Background(), "brand voice", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "brand-tone", got[0].ID)
}

func TestLoadStatic_MissingFile(t *testing.T) {
	_, err := LoadStatic(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
