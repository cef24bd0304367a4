// Package tagging extracts single-word tags from question text.
//
// The primary path is embedding-based: candidate words and the full document
// are embedded, then candidates are ranked by cosine similarity to the
// document vector. When the embedding provider yields zero vectors (noop or
// outage) ranking falls back to word frequency.
package tagging

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/soudan-ai/soudan/internal/model"
	"github.com/soudan-ai/soudan/internal/service/embedding"
)

// Extractor suggests tags for question content.
type Extractor struct {
	provider embedding.Provider
	logger   *slog.Logger
}

// NewExtractor creates a tag extractor backed by the given embedding provider.
func NewExtractor(provider embedding.Provider, logger *slog.Logger) *Extractor {
	return &Extractor{provider: provider, logger: logger}
}

var wordRegex = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+#.\-]*`)

// stopwords excluded from candidate tags. Includes question-domain filler
// words on top of common English stopwords.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "get": true, "has": true, "have": true,
	"how": true, "i": true, "if": true, "in": true, "is": true, "it": true,
	"its": true, "me": true, "my": true, "not": true, "of": true, "on": true,
	"or": true, "so": true, "that": true, "the": true, "this": true,
	"to": true, "use": true, "using": true, "was": true, "what": true,
	"when": true, "where": true, "which": true, "why": true, "will": true,
	"with": true, "you": true, "your": true, "question": true, "answer": true,
	"help": true, "please": true, "anyone": true, "way": true, "best": true,
	"there": true, "here": true, "would": true, "should": true, "could": true,
	"been": true, "being": true, "into": true, "about": true, "after": true,
	"before": true, "other": true, "some": true, "any": true, "all": true,
	"just": true, "like": true, "than": true, "then": true, "them": true,
	"they": true, "we": true, "our": true, "out": true, "up": true,
}

// candidate is a word considered for tagging, with its occurrence count.
type candidate struct {
	word  string
	count int
}

// Suggest returns up to limit single-word tags for the given title and body,
// most relevant first.
func (e *Extractor) Suggest(ctx context.Context, title, body string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	doc := title + "\n" + body
	candidates := extractCandidates(doc)
	if len(candidates) == 0 {
		return []string{}, nil
	}

	ranked, err := e.rankByEmbedding(ctx, doc, candidates)
	if err != nil {
		e.logger.Warn("tagging: embedding ranking failed, using frequency", "error", err)
		ranked = rankByFrequency(candidates)
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return model.NormalizeTags(ranked, limit), nil
}

// extractCandidates tokenizes the document into distinct lowercase words,
// filtering stopwords and words outside tag length limits.
func extractCandidates(doc string) []candidate {
	counts := make(map[string]int)
	var order []string
	for _, w := range wordRegex.FindAllString(strings.ToLower(doc), -1) {
		if len(w) < 2 || len(w) > model.MaxTagLen || stopwords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	candidates := make([]candidate, 0, len(order))
	for _, w := range order {
		candidates = append(candidates, candidate{word: w, count: counts[w]})
	}
	return candidates
}

// rankByEmbedding embeds the document and every candidate word, then orders
// candidates by cosine similarity to the document vector.
func (e *Extractor) rankByEmbedding(ctx context.Context, doc string, candidates []candidate) ([]string, error) {
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, doc)
	for _, c := range candidates {
		texts = append(texts, c.word)
	}

	vecs, err := e.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	docVec := vecs[0].Slice()
	if norm(docVec) == 0 {
		// Noop provider: zero vectors carry no signal.
		return rankByFrequency(candidates), nil
	}

	type scored struct {
		word string
		sim  float64
	}
	scoredWords := make([]scored, len(candidates))
	for i, c := range candidates {
		scoredWords[i] = scored{
			word: c.word,
			sim:  cosine(docVec, vecs[i+1].Slice()),
		}
	}

	sort.SliceStable(scoredWords, func(i, j int) bool {
		return scoredWords[i].sim > scoredWords[j].sim
	})

	out := make([]string, len(scoredWords))
	for i, s := range scoredWords {
		out[i] = s.word
	}
	return out, nil
}

// rankByFrequency orders candidates by occurrence count, preserving document
// order for ties.
func rankByFrequency(candidates []candidate) []string {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].count > sorted[j].count
	})
	out := make([]string, len(sorted))
	for i, c := range sorted {
		out[i] = c.word
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func norm(v []float32) float64 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	return math.Sqrt(n)
}
