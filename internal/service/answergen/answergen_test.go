package answergen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeStripsHTML(t *testing.T) {
	out := Sanitize("<p>Use a <b>mutex</b> here.</p>", 10)
	assert.Equal(t, "Use a mutex here.", out)
}

func TestSanitizeStripsEmoji(t *testing.T) {
	out := Sanitize("Great question! 🎉 Use channels 🚀 instead.", 10)
	assert.Equal(t, "Great question!  Use channels  instead.", out)
}

func TestSanitizeCapsSentences(t *testing.T) {
	text := "First. Second. Third. Fourth."
	out := Sanitize(text, 2)
	assert.Equal(t, "First. Second.", out)
}

func TestSanitizeKeepsVersionNumbers(t *testing.T) {
	out := Sanitize("Upgrade to Go 1.22.1 first. Then rebuild.", 1)
	assert.Equal(t, "Upgrade to Go 1.22.1 first.", out)
}

func TestSanitizeZeroCapKeepsAll(t *testing.T) {
	text := "One. Two. Three."
	assert.Equal(t, text, capSentences(text, 0))
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "goroutine")

		resp := chatResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{
			{Message: chatMessage{Role: "assistant", Content: "<p>Close the channel. 🎯 Then the range loop exits.</p>"}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("test-key", "gpt-3.5-turbo", 15).WithBaseURL(server.URL)
	answer, err := g.Generate(context.Background(), "Why does my goroutine leak?", "It ranges over a channel forever.")
	require.NoError(t, err)
	assert.False(t, strings.Contains(answer, "<p>"))
	assert.False(t, strings.Contains(answer, "🎯"))
	assert.Contains(t, answer, "Close the channel.")
}

func TestGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	g := NewOpenAIGenerator("bad", "gpt-3.5-turbo", 15).WithBaseURL(server.URL)
	_, err := g.Generate(context.Background(), "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}
