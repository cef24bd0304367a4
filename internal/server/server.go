package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/soudan-ai/soudan/internal/auth"
	"github.com/soudan-ai/soudan/internal/model"
	"github.com/soudan-ai/soudan/internal/notify"
	"github.com/soudan-ai/soudan/internal/ratelimit"
	"github.com/soudan-ai/soudan/internal/search"
	"github.com/soudan-ai/soudan/internal/service/answergen"
	"github.com/soudan-ai/soudan/internal/service/embedding"
	"github.com/soudan-ai/soudan/internal/service/moderation"
	"github.com/soudan-ai/soudan/internal/service/tagging"
	"github.com/soudan-ai/soudan/internal/storage"
)

// Server is the Soudan HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	limiters   []ratelimit.Limiter
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Searcher, StatsCache, Mailer, AnswerGen,
// MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB           *storage.DB
	JWTMgr       *auth.JWTManager
	Embedder     embedding.Provider
	Moderator    *moderation.Moderator
	TagExtractor *tagging.Extractor
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	Searcher   search.Searcher
	StatsCache *notify.StatsCache
	Mailer     *notify.Mailer
	AnswerGen  answergen.Generator
	MCPServer  *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	RateLimitEnabled    bool
	TagSuggestionCount  int
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Embedder:            cfg.Embedder,
		Moderator:           cfg.Moderator,
		TagExtractor:        cfg.TagExtractor,
		Searcher:            cfg.Searcher,
		StatsCache:          cfg.StatsCache,
		Mailer:              cfg.Mailer,
		AnswerGen:           cfg.AnswerGen,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		TagSuggestionCount:  cfg.TagSuggestionCount,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules: auth by IP, writes and AI endpoints by user with
	// separate budgets. Admin is exempt via userKeyFunc.
	var limiters []ratelimit.Limiter
	newLimiter := func(perMinute float64, burst int) ratelimit.Limiter {
		if !cfg.RateLimitEnabled {
			return ratelimit.NoopLimiter{}
		}
		l := ratelimit.NewMemoryLimiter(perMinute/60.0, burst)
		limiters = append(limiters, l)
		return l
	}
	authRL := ratelimit.Middleware(newLimiter(20, 20), ratelimit.IPKeyFunc, reqIDFunc)
	writeRL := ratelimit.Middleware(newLimiter(60, 30), userKeyFunc, reqIDFunc)
	readRL := ratelimit.Middleware(newLimiter(300, 100), userKeyFunc, reqIDFunc)
	aiRL := ratelimit.Middleware(newLimiter(30, 10), userKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoints (no auth required, rate limited by IP).
	mux.Handle("POST /auth/register", authRL(http.HandlerFunc(h.HandleRegister)))
	mux.Handle("POST /auth/login", authRL(http.HandlerFunc(h.HandleLogin)))

	// Admin endpoints.
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /auth/admin/upgrade-guests", adminOnly(http.HandlerFunc(h.HandleUpgradeGuests)))

	// Questions. Guests can read; posting requires a full account.
	readRole := requireRole(model.RoleGuest)
	writeRole := requireRole(model.RoleUser)
	mux.Handle("POST /v1/questions", writeRL(writeRole(http.HandlerFunc(h.HandleCreateQuestion))))
	mux.Handle("GET /v1/questions", readRL(readRole(http.HandlerFunc(h.HandleListQuestions))))
	mux.Handle("GET /v1/questions/search", aiRL(readRole(http.HandlerFunc(h.HandleSearchQuestions))))
	mux.Handle("POST /v1/questions/suggest-tags", aiRL(writeRole(http.HandlerFunc(h.HandleSuggestTags))))
	mux.Handle("GET /v1/questions/{id}", readRL(readRole(http.HandlerFunc(h.HandleGetQuestion))))
	mux.Handle("DELETE /v1/questions/{id}", writeRL(writeRole(http.HandlerFunc(h.HandleDeleteQuestion))))

	// Answers.
	mux.Handle("POST /v1/questions/{id}/answers", writeRL(writeRole(http.HandlerFunc(h.HandleCreateAnswer))))
	mux.Handle("POST /v1/questions/{id}/answers/ai", aiRL(writeRole(http.HandlerFunc(h.HandleCreateAIAnswer))))
	mux.Handle("GET /v1/questions/{id}/answers", readRL(readRole(http.HandlerFunc(h.HandleListQuestionAnswers))))
	mux.Handle("GET /v1/answers", readRL(readRole(http.HandlerFunc(h.HandleListAnswers))))
	mux.Handle("GET /v1/answers/{id}", readRL(readRole(http.HandlerFunc(h.HandleGetAnswer))))
	mux.Handle("POST /v1/answers/{id}/vote", writeRL(writeRole(http.HandlerFunc(h.HandleVoteAnswer))))
	mux.Handle("POST /v1/answers/{id}/accept", writeRL(writeRole(http.HandlerFunc(h.HandleAcceptAnswer))))
	mux.Handle("DELETE /v1/answers/{id}", writeRL(writeRole(http.HandlerFunc(h.HandleDeleteAnswer))))

	// Notifications (any authenticated account).
	mux.Handle("GET /v1/notifications", readRL(readRole(http.HandlerFunc(h.HandleListNotifications))))
	mux.Handle("GET /v1/notifications/stats", readRL(readRole(http.HandlerFunc(h.HandleNotificationStats))))
	mux.Handle("POST /v1/notifications/{id}/read", writeRL(readRole(http.HandlerFunc(h.HandleMarkNotificationRead))))
	mux.Handle("POST /v1/notifications/read-all", writeRL(readRole(http.HandlerFunc(h.HandleMarkAllNotificationsRead))))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		limiters: limiters,
		logger:   cfg.Logger,
	}
}

// userKeyFunc extracts the user ID from the request context for rate limiting.
// Returns empty string for admins (exempt from rate limits).
func userKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "user:" + claims.Subject
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and stops the limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	for _, l := range s.limiters {
		_ = l.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
