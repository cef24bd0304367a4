package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/soudan-ai/soudan/internal/auth"
	"github.com/soudan-ai/soudan/internal/config"
	"github.com/soudan-ai/soudan/internal/mcp"
	"github.com/soudan-ai/soudan/internal/notify"
	"github.com/soudan-ai/soudan/internal/search"
	"github.com/soudan-ai/soudan/internal/server"
	"github.com/soudan-ai/soudan/internal/service/answergen"
	"github.com/soudan-ai/soudan/internal/service/embedding"
	"github.com/soudan-ai/soudan/internal/service/moderation"
	"github.com/soudan-ai/soudan/internal/service/tagging"
	"github.com/soudan-ai/soudan/internal/storage"
	"github.com/soudan-ai/soudan/internal/telemetry"
	"github.com/soudan-ai/soudan/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SOUDAN_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("soudan starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	embedder := newEmbeddingProvider(cfg, logger)

	// Qdrant search index and outbox worker (optional — disabled if QDRANT_URL is empty).
	var searcher search.Searcher
	var outboxWorker *search.OutboxWorker
	if cfg.QdrantURL != "" {
		qdrantIndex, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = qdrantIndex.Close() }()

		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}

		searcher = qdrantIndex
		outboxWorker = search.NewOutboxWorker(db.Pool(), qdrantIndex, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		outboxWorker.Start(ctx)
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL), search falls back to Postgres full-text")
	}

	moderator := newModerator(cfg, logger)
	tagExtractor := tagging.NewExtractor(embedder, logger)

	var answerGen answergen.Generator
	if cfg.OpenAIAPIKey != "" {
		answerGen = answergen.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.AnswerGenModel, cfg.AnswerGenMaxSentences)
		logger.Info("answer generation: openai", "model", cfg.AnswerGenModel)
	} else {
		logger.Info("answer generation: disabled (no OPENAI_API_KEY)")
	}

	// Redis-backed notification stats cache (optional).
	var statsCache *notify.StatsCache
	if cfg.RedisURL != "" {
		statsCache, err = notify.NewStatsCache(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = statsCache.Close() }()
		logger.Info("notification stats cache: redis")
	} else {
		logger.Info("notification stats cache: disabled (no REDIS_URL)")
	}

	mailer := notify.NewMailer(notify.MailerConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		BaseURL:  cfg.BaseURL,
	}, logger)
	if mailer != nil {
		logger.Info("mention email: enabled", "host", cfg.SMTPHost)
	}

	mcpSrv := mcp.New(db, searcher, embedder, logger)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Embedder:            embedder,
		Moderator:           moderator,
		TagExtractor:        tagExtractor,
		Searcher:            searcher,
		StatsCache:          statsCache,
		Mailer:              mailer,
		AnswerGen:           answerGen,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		RateLimitEnabled:    cfg.RateLimitEnabled,
		TagSuggestionCount:  cfg.TagSuggestionCount,
	})

	// Seed admin account when configured.
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			slog.Warn("admin seed failed", "error", err)
		}
	}

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight ones,
	// then let the outbox worker finish syncing the search index.
	slog.Info("soudan shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if outboxWorker != nil {
		outboxCtx, outboxCancel := context.WithTimeout(context.Background(), 10*time.Second)
		outboxWorker.Drain(outboxCtx)
		outboxCancel()
	}

	slog.Info("soudan stopped")
	return nil
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else noop.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when SOUDAN_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic search and keyword ranking degrade)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// newModerator picks the toxicity scorer: "hf", "wordlist", "noop", or "auto"
// (hosted classifier when an API key is present, wordlist otherwise).
func newModerator(cfg config.Config, logger *slog.Logger) *moderation.Moderator {
	threshold := float32(cfg.ModerationThreshold)

	switch cfg.ModerationProvider {
	case "hf":
		logger.Info("moderation: hosted classifier", "model", cfg.ModerationModel, "threshold", threshold)
		return moderation.NewModerator(
			moderation.NewHFClassifier(cfg.ModerationAPIURL, cfg.ModerationAPIKey, cfg.ModerationModel), threshold)

	case "wordlist":
		logger.Info("moderation: wordlist", "threshold", threshold)
		return moderation.NewModerator(moderation.NewWordlist(), threshold)

	case "noop":
		logger.Info("moderation: disabled")
		return moderation.NewModerator(moderation.Noop{}, threshold)

	case "auto":
		fallthrough
	default:
		if cfg.ModerationAPIKey != "" {
			logger.Info("moderation: hosted classifier (auto-detected)", "model", cfg.ModerationModel, "threshold", threshold)
			return moderation.NewModerator(
				moderation.NewHFClassifier(cfg.ModerationAPIURL, cfg.ModerationAPIKey, cfg.ModerationModel), threshold)
		}
		logger.Info("moderation: wordlist (no API key)", "threshold", threshold)
		return moderation.NewModerator(moderation.NewWordlist(), threshold)
	}
}
