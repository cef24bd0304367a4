// Package answergen produces draft answers for questions using an LLM.
//
// Generated text is sanitized before storage: HTML tags and emoji are
// stripped and the answer is capped at a configured number of sentences.
// Answers created this way are marked ai_generated and display with an
// "(AI-assisted)" suffix.
package answergen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Generator produces a draft answer for a question.
type Generator interface {
	Generate(ctx context.Context, title, body string) (string, error)
}

// OpenAIGenerator calls the OpenAI chat completions API.
type OpenAIGenerator struct {
	apiKey       string
	model        string
	baseURL      string
	maxSentences int
	httpClient   *http.Client
}

// NewOpenAIGenerator creates a generator using the given chat model.
func NewOpenAIGenerator(apiKey, model string, maxSentences int) *OpenAIGenerator {
	return &OpenAIGenerator{
		apiKey:       apiKey,
		model:        model,
		baseURL:      "https://api.openai.com",
		maxSentences: maxSentences,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// WithBaseURL overrides the API endpoint. Used in tests.
func (g *OpenAIGenerator) WithBaseURL(url string) *OpenAIGenerator {
	g.baseURL = url
	return g
}

const systemPrompt = `You are a helpful expert answering questions on a Q&A site. ` +
	`Answer concisely and concretely in plain text. Do not use markdown, HTML, or emoji.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate asks the model for an answer and returns the sanitized text.
func (g *OpenAIGenerator) Generate(ctx context.Context, title, body string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\n%s", title, body)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("answergen: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("answergen: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("answergen: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("answergen: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("answergen: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("answergen: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("answergen: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("answergen: no choices in response")
	}

	answer := Sanitize(result.Choices[0].Message.Content, g.maxSentences)
	if answer == "" {
		return "", fmt.Errorf("answergen: empty answer after sanitization")
	}
	return answer, nil
}

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// Sanitize strips HTML tags and emoji from text and truncates it to at most
// maxSentences sentences.
func Sanitize(text string, maxSentences int) string {
	text = htmlTagRegex.ReplaceAllString(text, "")
	text = stripEmoji(text)
	text = capSentences(text, maxSentences)
	return strings.TrimSpace(text)
}

// stripEmoji removes emoji and other symbol runes, keeping letters, digits,
// punctuation, and whitespace.
func stripEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsPunct(r) ||
			unicode.IsSpace(r) || unicode.IsMark(r) || r == '+' || r == '=' ||
			r == '<' || r == '>' || r == '|' || r == '~' || r == '$' || r == '`' || r == '^' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// capSentences truncates text after maxSentences sentence terminators.
// A terminator is '.', '!', or '?' followed by whitespace or end of text,
// which keeps decimals and version numbers intact.
func capSentences(text string, maxSentences int) string {
	if maxSentences <= 0 {
		return text
	}
	count := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		atEnd := i == len(runes)-1
		if !atEnd && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == maxSentences {
			return string(runes[:i+1])
		}
	}
	return text
}
