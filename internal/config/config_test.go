package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, "auto", cfg.EmbeddingProvider)
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.Equal(t, "soudan_questions", cfg.QdrantCollection)
	assert.Equal(t, 0.5, cfg.ModerationThreshold)
	assert.Equal(t, 15, cfg.AnswerGenMaxSentences)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SOUDAN_PORT", "9090")
	t.Setenv("SOUDAN_JWT_EXPIRATION", "1h")
	t.Setenv("SOUDAN_MODERATION_THRESHOLD", "0.8")
	t.Setenv("SOUDAN_RATE_LIMIT_ENABLED", "false")
	t.Setenv("QDRANT_URL", "http://qdrant:6334")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, time.Hour, cfg.JWTExpiration)
	assert.Equal(t, 0.8, cfg.ModerationThreshold)
	assert.False(t, cfg.RateLimitEnabled)
	assert.Equal(t, "http://qdrant:6334", cfg.QdrantURL)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SOUDAN_PORT", "not-a-number")
	t.Setenv("SOUDAN_OUTBOX_POLL_INTERVAL", "sometimes")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"zero dimensions", func(c *Config) { c.EmbeddingDimensions = 0 }, "DIMENSIONS"},
		{"threshold above one", func(c *Config) { c.ModerationThreshold = 1.5 }, "THRESHOLD"},
		{"zero sentences", func(c *Config) { c.AnswerGenMaxSentences = 0 }, "SENTENCES"},
		{"too many tag suggestions", func(c *Config) { c.TagSuggestionCount = 50 }, "TAG_SUGGESTIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
