package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field limits for answers.
const (
	MinAnswerLen = 10
	MaxAnswerLen = 10000
)

// Answer is a posted answer to a question.
type Answer struct {
	ID          uuid.UUID `json:"id"`
	QuestionID  uuid.UUID `json:"question_id"`
	AuthorID    uuid.UUID `json:"author_id"`
	Content     string    `json:"content"`
	Votes       int       `json:"votes"`
	IsAccepted  bool      `json:"is_accepted"`
	AIGenerated bool      `json:"ai_generated"`
	ToxicScore  float32   `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// AnswerView is an answer hydrated with author info for API responses.
// AI-assisted answers carry the "(AI-assisted)" suffix on the display name.
type AnswerView struct {
	Answer
	AuthorUsername string   `json:"author_username"`
	AuthorRole     UserRole `json:"author_role"`
}

// DisplayName returns the author name shown next to the answer.
func (v AnswerView) DisplayName() string {
	if v.AIGenerated {
		return v.AuthorUsername + " (AI-assisted)"
	}
	return v.AuthorUsername
}

// VoteAction enumerates valid voting actions on an answer.
type VoteAction string

const (
	VoteUp     VoteAction = "upvote"
	VoteDown   VoteAction = "downvote"
	VoteRemove VoteAction = "remove"
)

// ValidateVoteAction rejects unknown actions.
func ValidateVoteAction(a VoteAction) error {
	switch a {
	case VoteUp, VoteDown, VoteRemove:
		return nil
	}
	return fmt.Errorf("action must be one of upvote, downvote, remove")
}

// ValidateAnswerContent checks answer length constraints.
func ValidateAnswerContent(content string) error {
	if l := len(strings.TrimSpace(content)); l < MinAnswerLen || l > MaxAnswerLen {
		return fmt.Errorf("content must be %d-%d characters", MinAnswerLen, MaxAnswerLen)
	}
	return nil
}
