// Package knowledge provides the read-only retrieval capability consulted by
// the decision and creative stages. The backing corpus is opaque to callers;
// the default implementation serves a static YAML file so runs stay
// deterministic and replayable.
package knowledge

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Snippet is one ranked piece of brand/compliance context.
type Snippet struct {
	ID    string   `yaml:"id" json:"id"`
	Topic string   `yaml:"topic" json:"topic"`
	Text  string   `yaml:"text" json:"text"`
	Tags  []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// HasTag reports whether the snippet carries the given tag. Tags like
// "block:scale" let compliance rules veto specific action types.
func (s Snippet) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Retriever is the opaque knowledge capability. Implementations must never
// mutate state; retrieval latency is unbounded, so callers impose timeouts
// through ctx.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error)
}

// StaticRetriever ranks snippets from an in-memory corpus by term overlap.
// Identical queries over the same corpus always return identical rankings.
type StaticRetriever struct {
	snippets []Snippet
}

// NewStatic builds a retriever over a fixed snippet corpus.
func NewStatic(snippets []Snippet) *StaticRetriever {
	return &StaticRetriever{snippets: snippets}
}

// LoadStatic reads a YAML snippet corpus from disk.
//
// File shape:
//
//	snippets:
//	  - id: brand-tone
//	    topic: brand voice
//	    text: Keep copy plain and benefit-led.
//	    tags: [creative]
func LoadStatic(path string) (*StaticRetriever, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "knowledge: read snippets file")
	}

	var file struct {
		Snippets []Snippet `yaml:"snippets"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "knowledge: parse snippets file")
	}
	return NewStatic(file.Snippets), nil
}

func (r *StaticRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "knowledge: retrieve")
	}
	if topK <= 0 {
		topK = 5
	}

	terms := tokenize(query)

	type scored struct {
		snippet Snippet
		score   int
	}
	var matches []scored
	for _, s := range r.snippets {
		score := overlap(terms, tokenize(s.Topic+" "+s.Text+" "+strings.Join(s.Tags, " ")))
		if score > 0 {
			matches = append(matches, scored{snippet: s, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].snippet.ID < matches[j].snippet.ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	out := make([]Snippet, len(matches))
	for i, m := range matches {
		out[i] = m.snippet
	}
	return out, nil
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?()[]\"'")
		if len(f) > 2 {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}
