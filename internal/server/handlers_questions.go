package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/soudan-ai/soudan/internal/model"
	"github.com/soudan-ai/soudan/internal/notify"
	"github.com/soudan-ai/soudan/internal/search"
	"github.com/soudan-ai/soudan/internal/storage"
)

// HandleCreateQuestion handles POST /v1/questions.
//
// Pipeline: toxicity gate, tag extraction, embedding, then a single
// transaction inserting the question, its search outbox entry, and the
// mention notifications.
func (h *Handlers) HandleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req model.CreateQuestionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	tags := model.NormalizeTags(req.Tags, model.MaxTags)
	if err := model.ValidateQuestion(req.Title, req.Body, tags); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	score, rejected := h.moderate(w, r, req.Title+"\n"+req.Body)
	if rejected {
		return
	}

	// Merge extracted tags behind the user's own; NormalizeTags keeps the
	// first occurrence so user tags are never displaced.
	if h.tagExtractor != nil && len(tags) < model.MaxTags {
		extracted, err := h.tagExtractor.Suggest(r.Context(), req.Title, req.Body, h.tagSuggestionCount)
		if err != nil {
			h.logger.Warn("tag extraction failed", "error", err)
		} else {
			tags = model.NormalizeTags(append(tags, extracted...), model.MaxTags)
		}
	}

	var emb []float32
	if h.embedder != nil {
		vec, err := h.embedder.Embed(r.Context(), req.Title+"\n"+req.Body)
		if err != nil {
			h.logger.Warn("question embedding failed", "error", err)
		} else {
			emb = vec.Slice()
		}
	}

	questionID := uuid.New()
	fanout := notify.NewFanOut(actor)
	mentioned := h.resolveMentions(r.Context(), req.Title+"\n"+req.Body)
	fanout.Mentions(mentioned, questionID, nil, fmt.Sprintf("the question %q", model.Preview(req.Title, 80)))

	q, err := h.db.CreateQuestion(r.Context(), model.Question{
		ID:         questionID,
		AuthorID:   actor.ID,
		Title:      req.Title,
		Body:       req.Body,
		Tags:       tags,
		ToxicScore: score,
	}, emb, fanout.Notifications())
	if err != nil {
		h.logger.Error("create question failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create question")
		return
	}

	h.afterFanOut(r.Context(), actor, fanout, q.ID, q.Title)

	writeJSON(w, r, http.StatusCreated, model.QuestionView{
		Question:       q,
		AuthorUsername: actor.Username,
	})
}

// HandleListQuestions handles GET /v1/questions.
func (h *Handlers) HandleListQuestions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 20, 100)
	tag := strings.TrimSpace(r.URL.Query().Get("tag"))

	summaries, total, err := h.db.ListQuestions(r.Context(), tag, limit, offset)
	if err != nil {
		h.logger.Error("list questions failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list questions")
		return
	}
	if summaries == nil {
		summaries = []model.QuestionSummary{}
	}
	writeList(w, r, summaries, &total, len(summaries), limit, offset)
}

// HandleGetQuestion handles GET /v1/questions/{id}.
func (h *Handlers) HandleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid question id")
		return
	}

	q, err := h.db.GetQuestion(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "question not found")
			return
		}
		h.logger.Error("get question failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to get question")
		return
	}

	view := model.QuestionView{Question: q, AnswerCount: len(q.AnswerIDs)}
	if author, err := h.db.GetUserByID(r.Context(), q.AuthorID); err == nil {
		view.AuthorUsername = author.Username
	}
	writeJSON(w, r, http.StatusOK, view)
}

// HandleDeleteQuestion handles DELETE /v1/questions/{id}.
// Only the author or an admin may delete. Answers and notifications cascade;
// the search index entry is removed through the outbox.
func (h *Handlers) HandleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid question id")
		return
	}

	q, err := h.db.GetQuestion(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "question not found")
			return
		}
		h.logger.Error("get question failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to delete question")
		return
	}

	claims := ClaimsFromContext(r.Context())
	if q.AuthorID != claims.UserID() && !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "only the author or an admin can delete a question")
		return
	}

	if err := h.db.DeleteQuestion(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "question not found")
			return
		}
		h.logger.Error("delete question failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to delete question")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}

// HandleSearchQuestions handles GET /v1/questions/search.
//
// Prefers semantic search (embed query, ANN lookup, hydrate from Postgres,
// re-score by answers and recency). Falls back to Postgres full-text search
// when the vector path is unavailable, flagged with ai_powered=false.
func (h *Handlers) HandleSearchQuestions(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query parameter q is required")
		return
	}
	tag := strings.TrimSpace(r.URL.Query().Get("tag"))
	limit, _ := parsePagination(r, 10, 50)

	if results, ok := h.semanticSearch(r.Context(), query, tag, limit); ok {
		writeJSON(w, r, http.StatusOK, model.SearchResponse{Results: results, AIPowered: true})
		return
	}

	results, err := h.db.SearchQuestionsFTS(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("full-text search failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "search failed")
		return
	}
	if results == nil {
		results = []model.QuestionSearchResult{}
	}
	writeJSON(w, r, http.StatusOK, model.SearchResponse{Results: results, AIPowered: false})
}

// semanticSearch runs the vector search path. Returns ok=false when the
// searcher is missing, unhealthy, or any step fails, so the caller can fall
// back to full-text search.
func (h *Handlers) semanticSearch(ctx context.Context, query, tag string, limit int) ([]model.QuestionSearchResult, bool) {
	if h.searcher == nil || h.embedder == nil {
		return nil, false
	}
	if err := h.searcher.Healthy(ctx); err != nil {
		h.logger.Warn("search index unhealthy, falling back to full-text", "error", err)
		return nil, false
	}

	vec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		h.logger.Warn("query embedding failed, falling back to full-text", "error", err)
		return nil, false
	}

	hits, err := h.searcher.Search(ctx, vec.Slice(), tag, limit)
	if err != nil {
		h.logger.Warn("vector search failed, falling back to full-text", "error", err)
		return nil, false
	}
	if len(hits) == 0 {
		return []model.QuestionSearchResult{}, true
	}

	ids := make([]uuid.UUID, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.QuestionID)
	}
	questions, err := h.db.GetQuestionsForSearch(ctx, ids)
	if err != nil {
		h.logger.Warn("search hydration failed, falling back to full-text", "error", err)
		return nil, false
	}

	return search.ReScore(hits, questions, limit), true
}

// HandleSuggestTags handles POST /v1/questions/suggest-tags.
// Extracts tags for a draft without creating anything.
func (h *Handlers) HandleSuggestTags(w http.ResponseWriter, r *http.Request) {
	var req model.SuggestTagsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Body) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "title or body is required")
		return
	}
	if h.tagExtractor == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "tag extraction is not configured")
		return
	}

	tags, err := h.tagExtractor.Suggest(r.Context(), req.Title, req.Body, h.tagSuggestionCount)
	if err != nil {
		h.logger.Error("tag extraction failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "tag extraction failed")
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, r, http.StatusOK, model.SuggestTagsResponse{SuggestedTags: tags})
}

// actor loads the full user record for the authenticated caller.
func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return model.User{}, false
	}
	user, err := h.db.GetUserByID(r.Context(), claims.UserID())
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "account no longer exists")
		return model.User{}, false
	}
	if !user.IsActive {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "account is deactivated")
		return model.User{}, false
	}
	return user, true
}

// resolveMentions maps @usernames in text to existing users. Unknown names
// are silently dropped.
func (h *Handlers) resolveMentions(ctx context.Context, text string) []model.User {
	names := notify.ExtractMentions(text)
	if len(names) == 0 {
		return nil
	}
	users, err := h.db.GetUsersByUsernames(ctx, names)
	if err != nil {
		h.logger.Warn("mention lookup failed", "error", err)
		return nil
	}
	return users
}

// afterFanOut runs the post-commit side effects of a notification batch:
// stats cache invalidation and mention emails. Both are best-effort.
func (h *Handlers) afterFanOut(ctx context.Context, actor model.User, fanout *notify.FanOut, questionID uuid.UUID, questionTitle string) {
	notifications := fanout.Notifications()
	if len(notifications) == 0 {
		return
	}
	recipients := make([]uuid.UUID, 0, len(notifications))
	for _, n := range notifications {
		recipients = append(recipients, n.UserID)
	}
	h.statsCache.Invalidate(ctx, recipients...)
	h.mailer.SendMentionEmails(actor, fanout.MentionedUsers(), questionID.String(), questionTitle)
}
