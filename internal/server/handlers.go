package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/soudan-ai/soudan/internal/auth"
	"github.com/soudan-ai/soudan/internal/model"
	"github.com/soudan-ai/soudan/internal/notify"
	"github.com/soudan-ai/soudan/internal/search"
	"github.com/soudan-ai/soudan/internal/service/answergen"
	"github.com/soudan-ai/soudan/internal/service/embedding"
	"github.com/soudan-ai/soudan/internal/service/moderation"
	"github.com/soudan-ai/soudan/internal/service/tagging"
	"github.com/soudan-ai/soudan/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	embedder            embedding.Provider
	moderator           *moderation.Moderator
	tagExtractor        *tagging.Extractor
	searcher            search.Searcher
	statsCache          *notify.StatsCache
	mailer              *notify.Mailer
	answerGen           answergen.Generator
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	tagSuggestionCount  int
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Searcher, StatsCache, Mailer, AnswerGen.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Embedder            embedding.Provider
	Moderator           *moderation.Moderator
	TagExtractor        *tagging.Extractor
	Searcher            search.Searcher
	StatsCache          *notify.StatsCache
	Mailer              *notify.Mailer
	AnswerGen           answergen.Generator
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	TagSuggestionCount  int
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	count := d.TagSuggestionCount
	if count <= 0 {
		count = 8
	}
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		embedder:            d.Embedder,
		moderator:           d.Moderator,
		tagExtractor:        d.TagExtractor,
		searcher:            d.Searcher,
		statsCache:          d.StatsCache,
		mailer:              d.Mailer,
		answerGen:           d.AnswerGen,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		tagSuggestionCount:  count,
	}
}

// SeedAdmin creates the admin account if it does not exist yet.
func (h *Handlers) SeedAdmin(ctx context.Context, username, email, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return h.db.EnsureAdmin(ctx, model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		IsActive:     true,
	})
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Database      string `json:"database"`
	Search        string `json:"search"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Database:      "ok",
		Search:        "disabled",
	}
	if err := h.db.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
	}
	if h.searcher != nil {
		resp.Search = "ok"
		if err := h.searcher.Healthy(r.Context()); err != nil {
			resp.Search = "unreachable"
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// moderate runs the toxicity gate. Returns the score and whether the request
// was rejected (response already written). Classifier failures fail open.
func (h *Handlers) moderate(w http.ResponseWriter, r *http.Request, text string) (float32, bool) {
	if h.moderator == nil {
		return 0, false
	}
	score, rejected, err := h.moderator.Check(r.Context(), text)
	if err != nil {
		h.logger.Warn("moderation check failed, allowing content",
			"error", err, "request_id", RequestIDFromContext(r.Context()))
		return 0, false
	}
	if rejected {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeModerated, model.ModerationRejectionMessage)
		return score, true
	}
	return score, false
}
