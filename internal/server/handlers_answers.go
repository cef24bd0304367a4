package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/soudan-ai/soudan/internal/model"
	"github.com/soudan-ai/soudan/internal/notify"
	"github.com/soudan-ai/soudan/internal/storage"
)

// HandleCreateAnswer handles POST /v1/questions/{id}/answers.
// The answer insert and its fan-out notifications commit in one transaction.
func (h *Handlers) HandleCreateAnswer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	questionID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid question id")
		return
	}

	var req model.CreateAnswerRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := model.ValidateAnswerContent(req.Content); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	score, rejected := h.moderate(w, r, req.Content)
	if rejected {
		return
	}

	h.createAnswer(w, r, actor, questionID, model.Answer{
		Content:    req.Content,
		ToxicScore: score,
	})
}

// HandleCreateAIAnswer handles POST /v1/questions/{id}/answers/ai.
// Generates a draft answer with the configured LLM and stores it marked
// ai_generated, attributed to the requesting user.
func (h *Handlers) HandleCreateAIAnswer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	questionID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid question id")
		return
	}
	if h.answerGen == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "answer generation is not configured")
		return
	}

	q, err := h.db.GetQuestion(r.Context(), questionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "question not found")
			return
		}
		h.logger.Error("get question failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to generate answer")
		return
	}

	content, err := h.answerGen.Generate(r.Context(), q.Title, q.Body)
	if err != nil {
		h.logger.Error("answer generation failed", "error", err, "question_id", questionID)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "answer generation failed")
		return
	}

	h.createAnswer(w, r, actor, questionID, model.Answer{
		Content:     content,
		AIGenerated: true,
	})
}

// createAnswer loads the question, builds the notification fan-out, and
// inserts the answer. Shared by the human and AI paths.
func (h *Handlers) createAnswer(w http.ResponseWriter, r *http.Request, actor model.User, questionID uuid.UUID, answer model.Answer) {
	q, err := h.db.GetQuestion(r.Context(), questionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "question not found")
			return
		}
		h.logger.Error("get question failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create answer")
		return
	}

	answer.ID = uuid.New()
	answer.QuestionID = q.ID
	answer.AuthorID = actor.ID

	fanout := notify.NewFanOut(actor)
	fanout.AnswerPosted(q.AuthorID, q.ID, answer.ID, q.Title)
	mentioned := h.resolveMentions(r.Context(), answer.Content)
	fanout.Mentions(mentioned, q.ID, &answer.ID, fmt.Sprintf("an answer on %q", model.Preview(q.Title, 80)))

	created, err := h.db.CreateAnswer(r.Context(), answer, fanout.Notifications())
	if err != nil {
		h.logger.Error("create answer failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create answer")
		return
	}

	h.afterFanOut(r.Context(), actor, fanout, q.ID, q.Title)

	writeJSON(w, r, http.StatusCreated, model.AnswerView{
		Answer:         created,
		AuthorUsername: actor.Username,
		AuthorRole:     actor.Role,
	})
}

// HandleListQuestionAnswers handles GET /v1/questions/{id}/answers.
// Accepted answer first, then by votes, then oldest.
func (h *Handlers) HandleListQuestionAnswers(w http.ResponseWriter, r *http.Request) {
	questionID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid question id")
		return
	}
	h.listAnswers(w, r, questionID)
}

// HandleListAnswers handles GET /v1/answers?question_id=.
func (h *Handlers) HandleListAnswers(w http.ResponseWriter, r *http.Request) {
	questionID, err := uuid.Parse(r.URL.Query().Get("question_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query parameter question_id is required")
		return
	}
	h.listAnswers(w, r, questionID)
}

func (h *Handlers) listAnswers(w http.ResponseWriter, r *http.Request, questionID uuid.UUID) {
	answers, err := h.db.ListAnswers(r.Context(), questionID)
	if err != nil {
		h.logger.Error("list answers failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list answers")
		return
	}
	if answers == nil {
		answers = []model.AnswerView{}
	}
	writeJSON(w, r, http.StatusOK, answers)
}

// HandleGetAnswer handles GET /v1/answers/{id}.
func (h *Handlers) HandleGetAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid answer id")
		return
	}

	a, err := h.db.GetAnswer(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "answer not found")
			return
		}
		h.logger.Error("get answer failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to get answer")
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// HandleVoteAnswer handles POST /v1/answers/{id}/vote.
//
// One recorded vote per (user, answer): voting again replaces the previous
// vote, "remove" withdraws it, and the tally is recomputed from the vote
// ledger in the same transaction. Voting on your own answer is rejected.
func (h *Handlers) HandleVoteAnswer(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	answerID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid answer id")
		return
	}

	var req model.VoteRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateVoteAction(req.Action); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	answer, err := h.db.GetAnswer(r.Context(), answerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "answer not found")
			return
		}
		h.logger.Error("get answer failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to vote")
		return
	}
	if answer.AuthorID == claims.UserID() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "you cannot vote on your own answer")
		return
	}

	votes, err := h.db.VoteAnswer(r.Context(), answerID, claims.UserID(), req.Action)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "answer not found")
			return
		}
		h.logger.Error("vote failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to vote")
		return
	}
	writeJSON(w, r, http.StatusOK, model.VoteResponse{AnswerID: answerID, Votes: votes})
}

// HandleAcceptAnswer handles POST /v1/answers/{id}/accept.
// Only the question author can accept; accepting replaces any previous
// acceptance and notifies the answer author.
func (h *Handlers) HandleAcceptAnswer(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	answerID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid answer id")
		return
	}

	answer, err := h.db.GetAnswer(r.Context(), answerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "answer not found")
			return
		}
		h.logger.Error("get answer failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to accept answer")
		return
	}

	q, err := h.db.GetQuestion(r.Context(), answer.QuestionID)
	if err != nil {
		h.logger.Error("get question failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to accept answer")
		return
	}
	if q.AuthorID != actor.ID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "only the question author can accept an answer")
		return
	}

	fanout := notify.NewFanOut(actor)
	fanout.AnswerAccepted(answer.AuthorID, q.ID, answer.ID, q.Title)

	if err := h.db.AcceptAnswer(r.Context(), q.ID, answerID, fanout.Notifications()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "answer not found for this question")
			return
		}
		h.logger.Error("accept answer failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to accept answer")
		return
	}

	h.afterFanOut(r.Context(), actor, fanout, q.ID, q.Title)

	answer.IsAccepted = true
	writeJSON(w, r, http.StatusOK, answer)
}

// HandleDeleteAnswer handles DELETE /v1/answers/{id}.
// Author or admin. Acceptance on the parent question clears via the FK.
func (h *Handlers) HandleDeleteAnswer(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	answerID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid answer id")
		return
	}

	answer, err := h.db.GetAnswer(r.Context(), answerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "answer not found")
			return
		}
		h.logger.Error("get answer failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to delete answer")
		return
	}
	if answer.AuthorID != claims.UserID() && !model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "only the author or an admin can delete an answer")
		return
	}

	if err := h.db.DeleteAnswer(r.Context(), answerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "answer not found")
			return
		}
		h.logger.Error("delete answer failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to delete answer")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}
