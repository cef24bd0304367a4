package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeModerated     = "CONTENT_REJECTED"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// ModerationRejectionMessage is returned when the toxicity gate blocks content.
const ModerationRejectionMessage = "your post does not meet our community guidelines; " +
	"please ensure your content is respectful and appropriate for all users"

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by POST /auth/login.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// UpgradeGuestsResponse is returned by the admin guest-upgrade endpoint.
type UpgradeGuestsResponse struct {
	UpgradedCount int `json:"upgraded_count"`
}

// CreateQuestionRequest is the body of POST /v1/questions.
type CreateQuestionRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// QuestionView is a question hydrated with its author's username.
type QuestionView struct {
	Question
	AuthorUsername string `json:"author_username"`
	AnswerCount    int    `json:"answer_count"`
}

// SuggestTagsRequest is the body of POST /v1/questions/suggest-tags.
type SuggestTagsRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SuggestTagsResponse carries extracted tag suggestions.
type SuggestTagsResponse struct {
	SuggestedTags []string `json:"suggested_tags"`
}

// SearchResponse is returned by GET /v1/questions/search.
type SearchResponse struct {
	Results   []QuestionSearchResult `json:"results"`
	AIPowered bool                   `json:"ai_powered"`
}

// CreateAnswerRequest is the body of POST /v1/questions/{id}/answers.
type CreateAnswerRequest struct {
	Content string `json:"content"`
}

// VoteRequest is the body of POST /v1/answers/{id}/vote.
type VoteRequest struct {
	Action VoteAction `json:"action"`
}

// VoteResponse reports the new tally after a vote.
type VoteResponse struct {
	AnswerID uuid.UUID `json:"answer_id"`
	Votes    int       `json:"votes"`
}

// MarkReadResponse reports how many notifications were marked read.
type MarkReadResponse struct {
	MarkedCount int `json:"marked_count"`
}
