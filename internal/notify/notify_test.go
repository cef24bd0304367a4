package notify

import (
	"context"
	"io"
	"log/slog"
	"net/smtp"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soudan-ai/soudan/internal/model"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "no mentions here", nil},
		{"single", "thanks @alice for the tip", []string{"alice"}},
		{"multiple", "cc @alice and @bob_2", []string{"alice", "bob_2"}},
		{"dedupe", "@alice @alice @alice", []string{"alice"}},
		{"email is not a mention of the domain", "mail me at dev@example.com", []string{"example"}},
		{"punctuation boundary", "ping @carol, please", []string{"carol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractMentions(tt.text))
		})
	}
}

func TestFanOutSelfNotifyBan(t *testing.T) {
	actor := model.User{ID: uuid.New(), Username: "alice"}
	qID := uuid.New()

	f := NewFanOut(actor)
	f.AnswerPosted(actor.ID, qID, uuid.New(), "own question")
	assert.Empty(t, f.Notifications(), "answering your own question must not notify yourself")

	f.Mentions([]model.User{actor}, qID, nil, "a question")
	assert.Empty(t, f.Notifications(), "mentioning yourself must not notify yourself")
	assert.Empty(t, f.MentionedUsers())
}

func TestFanOutDedupesRecipients(t *testing.T) {
	actor := model.User{ID: uuid.New(), Username: "bob"}
	author := model.User{ID: uuid.New(), Username: "carol"}
	qID := uuid.New()
	aID := uuid.New()

	f := NewFanOut(actor)
	f.AnswerPosted(author.ID, qID, aID, "How do I tune GC?")
	// The question author is also mentioned in the answer body: the answer
	// notification wins and no duplicate mention is produced.
	f.Mentions([]model.User{author}, qID, &aID, "an answer")

	batch := f.Notifications()
	require.Len(t, batch, 1)
	assert.Equal(t, model.NotifyAnswer, batch[0].Type)
	assert.Equal(t, author.ID, batch[0].UserID)
	assert.Equal(t, actor.ID, batch[0].FromUserID)
	assert.Empty(t, f.MentionedUsers())
}

func TestFanOutMessageTruncation(t *testing.T) {
	actor := model.User{ID: uuid.New(), Username: "dave"}
	recipient := uuid.New()
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}

	f := NewFanOut(actor)
	f.AnswerPosted(recipient, uuid.New(), uuid.New(), string(long))

	batch := f.Notifications()
	require.Len(t, batch, 1)
	assert.LessOrEqual(t, len(batch[0].Message), model.MaxNotificationMessageLen)
}

func TestStatsCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewStatsCacheWithClient(client)
	ctx := context.Background()
	userID := uuid.New()

	_, ok := cache.Get(ctx, userID)
	assert.False(t, ok)

	stats := model.NotificationStats{UnreadCount: 3, TotalCount: 7}
	cache.Set(ctx, userID, stats)

	got, ok := cache.Get(ctx, userID)
	require.True(t, ok)
	assert.Equal(t, stats, got)

	cache.Invalidate(ctx, userID)
	_, ok = cache.Get(ctx, userID)
	assert.False(t, ok)
}

func TestStatsCacheNilSafe(t *testing.T) {
	var cache *StatsCache
	ctx := context.Background()

	_, ok := cache.Get(ctx, uuid.New())
	assert.False(t, ok)
	cache.Set(ctx, uuid.New(), model.NotificationStats{})
	cache.Invalidate(ctx, uuid.New())
	assert.NoError(t, cache.Close())
}

func TestMailerSendsMentionEmails(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMailer(MailerConfig{
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@soudan.dev",
		BaseURL: "https://soudan.example.com",
	}, logger)
	require.NotNil(t, m)

	var sentTo []string
	var sentMsg []byte
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sentTo = append(sentTo, to...)
		sentMsg = msg
		return nil
	}

	actor := model.User{ID: uuid.New(), Username: "alice"}
	mentioned := []model.User{{ID: uuid.New(), Username: "bob", Email: "bob@example.com"}}
	m.SendMentionEmails(actor, mentioned, uuid.NewString(), "A question title")

	require.Equal(t, []string{"bob@example.com"}, sentTo)
	assert.Contains(t, string(sentMsg), "alice mentioned you")
	assert.Contains(t, string(sentMsg), "https://soudan.example.com/questions/")
}

func TestMailerNilWhenUnconfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMailer(MailerConfig{}, logger)
	assert.Nil(t, m)
	// Nil mailer is a no-op.
	m.SendMentionEmails(model.User{}, nil, "", "")
}
