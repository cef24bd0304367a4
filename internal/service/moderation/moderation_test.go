package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHFClassifierScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req hfRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := [][]hfLabel{{
			{Label: "nothate", Score: 0.12},
			{Label: "hate", Score: 0.88},
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	c := NewHFClassifier(server.URL, "key", "test-model")
	score, err := c.Score(context.Background(), "some text")
	require.NoError(t, err)
	assert.InDelta(t, 0.88, score, 0.001)
}

func TestHFClassifierFlatResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode([]hfLabel{
			{Label: "TOXIC", Score: 0.7},
		}))
	}))
	defer server.Close()

	c := NewHFClassifier(server.URL, "", "m")
	score, err := c.Score(context.Background(), "text")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, score, 0.001)
}

func TestHFClassifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewHFClassifier(server.URL, "", "m")
	_, err := c.Score(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestModeratorThreshold(t *testing.T) {
	m := NewModerator(NewWordlist(), 0.5)

	score, rejected, err := m.Check(context.Background(), "a perfectly reasonable question")
	require.NoError(t, err)
	assert.False(t, rejected)
	assert.Zero(t, score)

	score, rejected, err = m.Check(context.Background(), "you stupid idiot, this is trash")
	require.NoError(t, err)
	assert.True(t, rejected)
	assert.GreaterOrEqual(t, score, float32(0.5))
}

func TestWordlistCapsAtOne(t *testing.T) {
	w := NewWordlist()
	score, err := w.Score(context.Background(), "stupid idiot moron trash garbage")
	require.NoError(t, err)
	assert.Equal(t, float32(1), score)
}

func TestNoop(t *testing.T) {
	score, err := Noop{}.Score(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Zero(t, score)
}
