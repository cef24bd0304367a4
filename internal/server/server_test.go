package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/soudan-ai/soudan/internal/auth"
	"github.com/soudan-ai/soudan/internal/model"
	"github.com/soudan-ai/soudan/internal/notify"
	"github.com/soudan-ai/soudan/internal/server"
	"github.com/soudan-ai/soudan/internal/service/embedding"
	"github.com/soudan-ai/soudan/internal/service/moderation"
	"github.com/soudan-ai/soudan/internal/service/tagging"
	"github.com/soudan-ai/soudan/internal/storage"
)

var (
	testSrv    *httptest.Server
	testDB     *storage.DB
	adminToken string
)

// fakeGenerator is a canned LLM for the AI answer endpoint.
type fakeGenerator struct{ text string }

func (g fakeGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	return g.text, nil
}

func TestMain(m *testing.M) {
	ctx, cancel := context.WithCancel(context.Background())

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "soudan",
			"POSTGRES_PASSWORD": "soudan",
			"POSTGRES_DB":       "soudan",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://soudan:soudan@%s:%s/soudan?sslmode=disable", host, port.Port())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	testDB, err = storage.New(ctx, dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}
	if err := testDB.RunMigrations(ctx, os.DirFS("../../migrations")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	mr, err := miniredis.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
		os.Exit(1)
	}
	statsCache := notify.NewStatsCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	jwtMgr, _ := auth.NewJWTManager("", "", 24*time.Hour)
	embedder := embedding.NewNoopProvider(1024)

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		Embedder:            embedder,
		Moderator:           moderation.NewModerator(moderation.NewWordlist(), 0.5),
		TagExtractor:        tagging.NewExtractor(embedder, logger),
		StatsCache:          statsCache,
		AnswerGen:           fakeGenerator{text: "Use a context with a deadline. Cancel it when the caller returns."},
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 * 1024 * 1024,
		TagSuggestionCount:  8,
	})

	if err := srv.Handlers().SeedAdmin(ctx, "admin", "admin@soudan.test", "admin-secret"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin: %v\n", err)
		os.Exit(1)
	}

	testSrv = httptest.NewServer(srv.Handler())
	adminToken = login("admin", "admin-secret")

	code := m.Run()

	testSrv.Close()
	testDB.Close()
	mr.Close()
	_ = container.Terminate(ctx)
	cancel()
	os.Exit(code)
}

// doJSON sends a request and decodes the JSON body into out (if non-nil).
func doJSON(t *testing.T, method, path, token string, body, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, testSrv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func login(username, password string) string {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(model.LoginRequest{Username: username, Password: password})
	resp, err := http.Post(testSrv.URL+"/auth/login", "application/json", &buf)
	if err != nil {
		panic(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var envelope struct {
		Data model.TokenResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		panic(err)
	}
	return envelope.Data.AccessToken
}

// registerUser creates an account through the API and returns its token.
func registerUser(t *testing.T, username string) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, "/auth/register", "", model.RegisterRequest{
		Username: username,
		Email:    username + "@soudan.test",
		Password: "secret123",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return login(username, "secret123")
}

func createQuestion(t *testing.T, token, title, body string, tags []string) model.QuestionView {
	t.Helper()
	var envelope struct {
		Data model.QuestionView `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/questions", token, model.CreateQuestionRequest{
		Title: title, Body: body, Tags: tags,
	}, &envelope)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return envelope.Data
}

func createAnswer(t *testing.T, token string, questionID, content string) model.AnswerView {
	t.Helper()
	var envelope struct {
		Data model.AnswerView `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/questions/"+questionID+"/answers", token,
		model.CreateAnswerRequest{Content: content}, &envelope)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return envelope.Data
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/auth/register", "", model.RegisterRequest{
		Username: "ab", Email: "ab@soudan.test", Password: "secret123",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	registerUser(t, "dupuser")
	resp = doJSON(t, http.MethodPost, "/auth/register", "", model.RegisterRequest{
		Username: "dupuser", Email: "other@soudan.test", Password: "secret123",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	registerUser(t, "loginuser")

	var envelope struct {
		Error model.ErrorDetail `json:"error"`
	}
	resp := doJSON(t, http.MethodPost, "/auth/login", "", model.LoginRequest{
		Username: "loginuser", Password: "wrong-password",
	}, &envelope)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, model.ErrCodeUnauthorized, envelope.Error.Code)

	resp = doJSON(t, http.MethodPost, "/auth/login", "", model.LoginRequest{
		Username: "no-such-user", Password: "whatever",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoutesRequireAuth(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/v1/questions", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, "/v1/questions", "", model.CreateQuestionRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateQuestionAutoTagsAndLists(t *testing.T) {
	token := registerUser(t, "asker1")

	q := createQuestion(t, token,
		"How do goroutine leaks happen in long-running servers?",
		"My server leaks goroutines when upstream requests stall. The goroutines never exit even after the client disconnects. How can I find and stop goroutine leaks?",
		nil)
	assert.Equal(t, "asker1", q.AuthorUsername)
	assert.NotEmpty(t, q.Tags, "tags should be extracted when none are supplied")

	q2 := createQuestion(t, token,
		"What does context cancellation propagate to?",
		"Does cancelling a parent context cancel in-flight database queries started from it?",
		[]string{"Go", "context", "go"})
	assert.Contains(t, q2.Tags, "go")
	// Duplicates collapse after lowercasing.
	count := 0
	for _, tag := range q2.Tags {
		if tag == "go" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	var list struct {
		Data  []model.QuestionSummary `json:"data"`
		Total *int                    `json:"total"`
	}
	resp := doJSON(t, http.MethodGet, "/v1/questions?tag=context&limit=10", token, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, list.Total)
	found := false
	for _, s := range list.Data {
		if s.ID == q2.ID {
			found = true
			assert.Equal(t, "asker1", s.AuthorUsername)
		}
	}
	assert.True(t, found)
}

func TestModerationGateRejectsToxicContent(t *testing.T) {
	token := registerUser(t, "trollish")

	var envelope struct {
		Error model.ErrorDetail `json:"error"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/questions", token, model.CreateQuestionRequest{
		Title: "Why is everyone here so unhelpful?",
		Body:  "You are all idiot people writing stupid answers, this site is trash.",
	}, &envelope)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.ErrCodeModerated, envelope.Error.Code)
	assert.Equal(t, model.ModerationRejectionMessage, envelope.Error.Message)
}

func TestAnswerLifecycle(t *testing.T) {
	asker := registerUser(t, "lifeasker")
	answerer := registerUser(t, "lifeanswerer")
	voter := registerUser(t, "lifevoter")

	q := createQuestion(t, asker,
		"How should I structure table driven tests?",
		"I keep repeating assertion blocks in every test function and want a cleaner structure.",
		[]string{"testing"})

	a := createAnswer(t, answerer, q.ID.String(),
		"Define a slice of cases with a name, input, and want field, then loop with t.Run.")
	assert.Equal(t, "lifeanswerer", a.AuthorUsername)
	assert.False(t, a.AIGenerated)

	// Voting on your own answer is rejected.
	resp := doJSON(t, http.MethodPost, "/v1/answers/"+a.ID.String()+"/vote", answerer,
		model.VoteRequest{Action: model.VoteUp}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A second upvote from the same user replaces, not stacks.
	var voteResp struct {
		Data model.VoteResponse `json:"data"`
	}
	resp = doJSON(t, http.MethodPost, "/v1/answers/"+a.ID.String()+"/vote", voter,
		model.VoteRequest{Action: model.VoteUp}, &voteResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, voteResp.Data.Votes)

	resp = doJSON(t, http.MethodPost, "/v1/answers/"+a.ID.String()+"/vote", voter,
		model.VoteRequest{Action: model.VoteUp}, &voteResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, voteResp.Data.Votes)

	resp = doJSON(t, http.MethodPost, "/v1/answers/"+a.ID.String()+"/vote", voter,
		model.VoteRequest{Action: model.VoteRemove}, &voteResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, voteResp.Data.Votes)

	// Only the question author can accept.
	resp = doJSON(t, http.MethodPost, "/v1/answers/"+a.ID.String()+"/accept", answerer, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, "/v1/answers/"+a.ID.String()+"/accept", asker, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var answers struct {
		Data []model.AnswerView `json:"data"`
	}
	resp = doJSON(t, http.MethodGet, "/v1/questions/"+q.ID.String()+"/answers", asker, nil, &answers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, answers.Data)
	assert.True(t, answers.Data[0].IsAccepted)

	// Delete by a stranger is forbidden; by the author it works.
	resp = doJSON(t, http.MethodDelete, "/v1/answers/"+a.ID.String(), voter, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = doJSON(t, http.MethodDelete, "/v1/answers/"+a.ID.String(), answerer, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAIAnswerMarkedGenerated(t *testing.T) {
	asker := registerUser(t, "aiasker")
	q := createQuestion(t, asker,
		"How do I cancel a stuck HTTP request?",
		"An outgoing request sometimes hangs forever and blocks the worker that issued it.",
		[]string{"http"})

	var envelope struct {
		Data model.AnswerView `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/questions/"+q.ID.String()+"/answers/ai", asker, nil, &envelope)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, envelope.Data.AIGenerated)
	assert.Equal(t, "aiasker (AI-assisted)", envelope.Data.DisplayName())
	assert.Contains(t, envelope.Data.Content, "deadline")
}

func TestMentionNotificationsAndStats(t *testing.T) {
	author := registerUser(t, "mentionauthor")
	mentionedToken := registerUser(t, "mentioned_dev")

	createQuestion(t, author,
		"Does @mentioned_dev know why this build is failing?",
		"Pinging @mentioned_dev and @no_such_user about the failing integration build on main.",
		[]string{"ci"})

	var stats struct {
		Data model.NotificationStats `json:"data"`
	}
	resp := doJSON(t, http.MethodGet, "/v1/notifications/stats", mentionedToken, nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.Data.UnreadCount)

	var list struct {
		Data []model.NotificationView `json:"data"`
	}
	resp = doJSON(t, http.MethodGet, "/v1/notifications?unread_only=true", mentionedToken, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Data, 1)
	assert.Equal(t, model.NotifyMention, list.Data[0].Type)
	assert.Equal(t, "mentionauthor", list.Data[0].FromUsername)

	resp = doJSON(t, http.MethodPost, "/v1/notifications/"+list.Data[0].ID.String()+"/read", mentionedToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Cache was invalidated, so the badge reflects the read immediately.
	resp = doJSON(t, http.MethodGet, "/v1/notifications/stats", mentionedToken, nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, stats.Data.UnreadCount)
	assert.Equal(t, 1, stats.Data.TotalCount)
}

func TestAnswerNotifiesQuestionAuthorOnce(t *testing.T) {
	asker := registerUser(t, "notifasker")
	answerer := registerUser(t, "notifanswerer")

	q := createQuestion(t, asker,
		"Question about channel direction annotations",
		"When should a function take a receive-only channel instead of a bidirectional one?",
		nil)

	// The answer also mentions the asker; they still get exactly one
	// notification for this event.
	createAnswer(t, answerer, q.ID.String(),
		"Hey @notifasker, take <-chan when the function only consumes values.")

	var stats struct {
		Data model.NotificationStats `json:"data"`
	}
	resp := doJSON(t, http.MethodGet, "/v1/notifications/stats", asker, nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.Data.TotalCount)
}

func TestSearchFallsBackToFullText(t *testing.T) {
	token := registerUser(t, "searcher1")
	createQuestion(t, token,
		"Why does my scheduler starve low priority jobs?",
		"The scheduler runs high priority jobs back to back and low priority jobs never start.",
		[]string{"scheduling"})

	var envelope struct {
		Data model.SearchResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodGet, "/v1/questions/search?q=scheduler+starve", token, nil, &envelope)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, envelope.Data.AIPowered)
	require.NotEmpty(t, envelope.Data.Results)
	assert.Contains(t, envelope.Data.Results[0].Title, "scheduler")

	resp = doJSON(t, http.MethodGet, "/v1/questions/search", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSuggestTags(t *testing.T) {
	token := registerUser(t, "tagdrafter")

	var envelope struct {
		Data model.SuggestTagsResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/questions/suggest-tags", token, model.SuggestTagsRequest{
		Title: "Database connection pooling under load",
		Body:  "Our database pool exhausts connections during traffic spikes and queries start timing out.",
	}, &envelope)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, envelope.Data.SuggestedTags, "database")
}

func TestDeleteQuestionAuthorization(t *testing.T) {
	owner := registerUser(t, "delowner")
	stranger := registerUser(t, "delstranger")

	q := createQuestion(t, owner,
		"Temporary question slated for deletion",
		"This question only exists to be deleted by its author and an admin.",
		nil)

	resp := doJSON(t, http.MethodDelete, "/v1/questions/"+q.ID.String(), stranger, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, "/v1/questions/"+q.ID.String(), adminToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, "/v1/questions/"+q.ID.String(), owner, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpgradeGuestsIsAdminOnly(t *testing.T) {
	userToken := registerUser(t, "regularjoe")

	// Seed a guest account directly; registration always creates full users.
	hash, err := auth.HashPassword("secret123")
	require.NoError(t, err)
	_, err = testDB.CreateUser(context.Background(), model.User{
		Username:     "guestaccount",
		Email:        "guest@soudan.test",
		PasswordHash: hash,
		Role:         model.RoleGuest,
		IsActive:     true,
	})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, "/auth/admin/upgrade-guests", userToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var envelope struct {
		Data model.UpgradeGuestsResponse `json:"data"`
	}
	resp = doJSON(t, http.MethodPost, "/auth/admin/upgrade-guests", adminToken, nil, &envelope)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, envelope.Data.UpgradedCount, 1)

	upgraded, err := testDB.GetUserByUsername(context.Background(), "guestaccount")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, upgraded.Role)
}

func TestHealth(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data struct {
			Status string `json:"status"`
			Search string `json:"search"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "ok", envelope.Data.Status)
	assert.Equal(t, "disabled", envelope.Data.Search)
}
