package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Field limits for questions. These bound what flows into the embedding
// pipeline, the tag extractor, and Postgres TEXT columns.
const (
	MinTitleLen = 5
	MaxTitleLen = 200
	MinBodyLen  = 10
	MaxBodyLen  = 5000
	MaxTags     = 10
	MaxTagLen   = 35
)

// Question is a posted question.
type Question struct {
	ID               uuid.UUID   `json:"id"`
	AuthorID         uuid.UUID   `json:"author_id"`
	Title            string      `json:"title"`
	Body             string      `json:"body"`
	Tags             []string    `json:"tags"`
	AnswerIDs        []uuid.UUID `json:"answer_ids"`
	AcceptedAnswerID *uuid.UUID  `json:"accepted_answer_id,omitempty"`
	ToxicScore       float32     `json:"-"`
	CreatedAt        time.Time   `json:"created_at"`
}

// QuestionSummary is the compact row returned by list endpoints.
type QuestionSummary struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	Tags              []string  `json:"tags"`
	AuthorID          uuid.UUID `json:"author_id"`
	AuthorUsername    string    `json:"author_username"`
	AnswerCount       int       `json:"answer_count"`
	HasAcceptedAnswer bool      `json:"has_accepted_answer"`
	CreatedAt         time.Time `json:"created_at"`
}

// QuestionSearchResult is a semantic search hit: the summary plus a relevance
// score and a truncated body preview.
type QuestionSearchResult struct {
	QuestionSummary
	BodyPreview string  `json:"body_preview"`
	Score       float32 `json:"score"`
}

// ValidateQuestion checks title, body, and tag constraints for a new question.
func ValidateQuestion(title, body string, tags []string) error {
	if l := len(strings.TrimSpace(title)); l < MinTitleLen || l > MaxTitleLen {
		return fmt.Errorf("title must be %d-%d characters", MinTitleLen, MaxTitleLen)
	}
	if l := len(strings.TrimSpace(body)); l < MinBodyLen || l > MaxBodyLen {
		return fmt.Errorf("body must be %d-%d characters", MinBodyLen, MaxBodyLen)
	}
	if len(tags) > MaxTags {
		return fmt.Errorf("at most %d tags allowed", MaxTags)
	}
	for _, t := range tags {
		if err := ValidateTag(t); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTag checks that a tag is non-empty, lowercase, and within length limits.
func ValidateTag(tag string) error {
	if tag == "" || len(tag) > MaxTagLen {
		return fmt.Errorf("tag must be 1-%d characters", MaxTagLen)
	}
	for _, r := range tag {
		if unicode.IsUpper(r) || unicode.IsSpace(r) {
			return fmt.Errorf("tag %q must be lowercase with no spaces", tag)
		}
	}
	return nil
}

// NormalizeTags lowercases, trims, dedupes, and caps a tag list while
// preserving order. User-supplied tags come first so extracted tags never
// displace them.
func NormalizeTags(tags []string, limit int) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Preview truncates s to max bytes at a rune boundary, appending "..." when truncated.
func Preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
