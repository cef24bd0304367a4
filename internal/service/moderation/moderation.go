// Package moderation scores user content for toxicity before it is stored.
//
// The primary implementation calls a hosted text-classification model; a
// wordlist scorer serves as the offline fallback. Scoring errors are treated
// as non-toxic by callers (fail open) so a classifier outage never blocks
// posting.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Scorer returns a toxicity score in [0, 1] for a piece of text.
type Scorer interface {
	Score(ctx context.Context, text string) (float32, error)
}

// Moderator gates content on a toxicity threshold.
type Moderator struct {
	scorer    Scorer
	threshold float32
}

// NewModerator wraps a scorer with a rejection threshold.
func NewModerator(scorer Scorer, threshold float32) *Moderator {
	return &Moderator{scorer: scorer, threshold: threshold}
}

// Check scores text and reports whether it should be rejected. The score is
// returned either way so it can be persisted with the content. On scorer
// error the content is allowed with a zero score.
func (m *Moderator) Check(ctx context.Context, text string) (score float32, rejected bool, err error) {
	score, err = m.scorer.Score(ctx, text)
	if err != nil {
		return 0, false, err
	}
	return score, score >= m.threshold, nil
}

// HFClassifier scores text using a hosted Hugging Face inference endpoint.
type HFClassifier struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewHFClassifier creates a classifier client for the given model, e.g.
// "facebook/roberta-hate-speech-dynabench-r1-target".
func NewHFClassifier(baseURL, apiKey, model string) *HFClassifier {
	return &HFClassifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type hfRequest struct {
	Inputs string `json:"inputs"`
}

// hfLabel is one entry of the nested label array the inference API returns.
type hfLabel struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// toxicLabels are the classifier output labels counted as toxic. Different
// models name the positive class differently.
var toxicLabels = map[string]bool{
	"toxic":         true,
	"hate":          true,
	"hateful":       true,
	"offensive":     true,
	"label_1":       true,
	"negative":      true,
	"inappropriate": true,
}

// Score sends text to the inference endpoint and returns the highest score
// among toxic labels.
func (c *HFClassifier) Score(ctx context.Context, text string) (float32, error) {
	reqBody, err := json.Marshal(hfRequest{Inputs: text})
	if err != nil {
		return 0, fmt.Errorf("moderation: marshal request: %w", err)
	}

	url := c.baseURL + "/models/" + c.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("moderation: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("moderation: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("moderation: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("moderation: status %d: %s", resp.StatusCode, string(body))
	}

	// The API wraps results in an extra array: [[{label, score}, ...]].
	var nested [][]hfLabel
	if err := json.Unmarshal(body, &nested); err != nil {
		// Some deployments return the flat form.
		var flat []hfLabel
		if err2 := json.Unmarshal(body, &flat); err2 != nil {
			return 0, fmt.Errorf("moderation: unmarshal response: %w", err)
		}
		nested = [][]hfLabel{flat}
	}
	if len(nested) == 0 {
		return 0, fmt.Errorf("moderation: empty response")
	}

	var max float32
	for _, l := range nested[0] {
		if toxicLabels[strings.ToLower(l.Label)] && l.Score > max {
			max = l.Score
		}
	}
	return max, nil
}

// Wordlist scores text by the fraction of blocked words it contains. Crude,
// but keeps moderation working when no classifier is configured.
type Wordlist struct {
	blocked map[string]bool
}

// defaultBlockedWords is intentionally small; deployments extend it via
// NewWordlist.
var defaultBlockedWords = []string{
	"idiot", "stupid", "moron", "trash", "garbage", "shut up", "loser",
}

// NewWordlist creates a wordlist scorer. Passing no words uses the default list.
func NewWordlist(words ...string) *Wordlist {
	if len(words) == 0 {
		words = defaultBlockedWords
	}
	blocked := make(map[string]bool, len(words))
	for _, w := range words {
		blocked[strings.ToLower(w)] = true
	}
	return &Wordlist{blocked: blocked}
}

// Score returns min(1, hits/3) where hits counts blocked words present in the
// text. Three or more blocked words score 1.0.
func (w *Wordlist) Score(_ context.Context, text string) (float32, error) {
	lower := strings.ToLower(text)
	hits := 0
	for word := range w.blocked {
		if strings.Contains(lower, word) {
			hits++
		}
	}
	score := float32(hits) / 3.0
	if score > 1 {
		score = 1
	}
	return score, nil
}

// Noop always scores zero. Used when moderation is disabled.
type Noop struct{}

// Score returns 0 for any input.
func (Noop) Score(_ context.Context, _ string) (float32, error) {
	return 0, nil
}
