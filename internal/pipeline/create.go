package pipeline

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/marketing-agent/internal/config"
	"github.com/sells-group/marketing-agent/internal/creative"
	"github.com/sells-group/marketing-agent/internal/knowledge"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/resilience"
	"github.com/sells-group/marketing-agent/internal/store"
)

// Creator runs the creative stage: draft generation plus compliance
// filtering for every test action of a run. Drafts that fail compliance are
// discarded before persistence; nothing non-compliant ever reaches review.
type Creator struct {
	cfg       config.CreativeConfig
	gen       creative.Generator
	retriever knowledge.Retriever
	topK      int
	store     store.Store
}

func NewCreator(cfg config.CreativeConfig, gen creative.Generator, retriever knowledge.Retriever, topK int, st store.Store) *Creator {
	return &Creator{cfg: cfg, gen: gen, retriever: retriever, topK: topK, store: st}
}

// Create generates drafts for each test action. Other action types need no
// creative work and are skipped. Every surviving draft comes back in draft
// status owned by its action.
func (c *Creator) Create(ctx context.Context, runID string, actions []model.Action) ([]model.Creative, error) {
	var creatives []model.Creative
	now := time.Now().UTC()

	for _, act := range actions {
		if act.Type != model.ActionTest {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := c.campaignName(ctx, act.CampaignID)
		snippets, err := c.brandContext(ctx, name)
		if err != nil {
			return nil, err
		}

		drafts, err := c.gen.Generate(ctx, creative.Request{
			CampaignName: name,
			ActionType:   act.Type,
			Description:  act.Description,
			Platform:     c.cfg.Platform,
			Count:        c.cfg.DraftsPerAction,
			Knowledge:    snippets,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "create: generate drafts for action %s", act.ID)
		}

		kept := 0
		for _, d := range drafts {
			if reason, ok := c.checkCompliance(d, snippets); !ok {
				zap.L().Info("draft rejected by compliance filter",
					zap.String("action_id", act.ID),
					zap.String("reason", reason))
				continue
			}
			creatives = append(creatives, model.Creative{
				ID:           uuid.New().String(),
				RunID:        runID,
				ActionID:     act.ID,
				Platform:     c.cfg.Platform,
				CreativeType: "ad_copy",
				Headline:     d.Headline,
				PrimaryText:  d.PrimaryText,
				Description:  d.Description,
				CallToAction: d.CallToAction,
				Status:       model.CreativeDraft,
				CreatedAt:    now,
			})
			kept++
		}
		zap.L().Debug("creative stage processed action",
			zap.String("action_id", act.ID),
			zap.Int("generated", len(drafts)),
			zap.Int("kept", kept))
	}
	return creatives, nil
}

// campaignName resolves a display name for prompts; the raw ID is an
// acceptable fallback when the campaign row is missing.
func (c *Creator) campaignName(ctx context.Context, campaignID string) string {
	if campaignID == "" {
		return "campaign"
	}
	camp, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil || camp.Name == "" {
		return campaignID
	}
	return camp.Name
}

func (c *Creator) brandContext(ctx context.Context, campaignName string) ([]knowledge.Snippet, error) {
	if c.retriever == nil {
		return nil, nil
	}
	snippets, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) ([]knowledge.Snippet, error) {
		return c.retriever.Retrieve(ctx, "brand voice tone claims "+campaignName, c.topK)
	})
	if err != nil {
		return nil, resilience.NewUpstreamError("knowledge", "retrieve brand context", err)
	}
	return snippets, nil
}

// checkCompliance rejects drafts containing forbidden words, or claim
// keywords the knowledge base does not substantiate. Matching happens on
// fold-normalized text so accented or decorated spellings cannot slip
// through.
func (c *Creator) checkCompliance(d creative.Draft, snippets []knowledge.Snippet) (string, bool) {
	text := normalizeText(strings.Join([]string{d.Headline, d.PrimaryText, d.Description, d.CallToAction}, " "))

	for _, word := range c.cfg.ForbiddenWords {
		if strings.Contains(text, normalizeText(word)) {
			return "forbidden word: " + word, false
		}
	}

	var supported string
	for _, claim := range c.cfg.ClaimKeywords {
		if !strings.Contains(text, normalizeText(claim)) {
			continue
		}
		if supported == "" {
			var b strings.Builder
			for _, sn := range snippets {
				b.WriteString(sn.Text)
				b.WriteByte(' ')
			}
			supported = normalizeText(b.String())
		}
		if !strings.Contains(supported, normalizeText(claim)) {
			return "unsupported claim: " + claim, false
		}
	}
	return "", true
}

var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText strips diacritics and lowercases so compliance matching is
// insensitive to casing and accent tricks.
func normalizeText(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}
