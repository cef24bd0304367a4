package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType categorizes why a notification was created.
type NotificationType string

const (
	NotifyAnswer         NotificationType = "answer"
	NotifyComment        NotificationType = "comment"
	NotifyMention        NotificationType = "mention"
	NotifyAcceptedAnswer NotificationType = "accepted_answer"
)

// MaxNotificationMessageLen bounds the stored message text.
const MaxNotificationMessageLen = 500

// Notification is a single fan-out record addressed to one user.
type Notification struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"user_id"`
	FromUserID uuid.UUID        `json:"from_user_id"`
	Type       NotificationType `json:"type"`
	Message    string           `json:"message"`
	QuestionID *uuid.UUID       `json:"question_id,omitempty"`
	AnswerID   *uuid.UUID       `json:"answer_id,omitempty"`
	Read       bool             `json:"read"`
	CreatedAt  time.Time        `json:"created_at"`
}

// NotificationView is a notification hydrated with sender and question info.
type NotificationView struct {
	Notification
	FromUsername  string  `json:"from_username"`
	QuestionTitle *string `json:"question_title,omitempty"`
}

// NotificationStats backs the unread badge.
type NotificationStats struct {
	UnreadCount int `json:"unread_count"`
	TotalCount  int `json:"total_count"`
}
