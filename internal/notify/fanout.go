package notify

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/soudan-ai/soudan/internal/model"
)

// FanOut accumulates the notifications for a single content event. Recipients
// are deduplicated (first notification wins) and the acting user never
// notifies themselves. The resulting batch is inserted inside the same
// transaction as the content write.
type FanOut struct {
	actor    model.User
	seen     map[uuid.UUID]bool
	pending  []model.Notification
	mentions []model.User
}

// NewFanOut starts a notification batch for an event performed by actor.
func NewFanOut(actor model.User) *FanOut {
	return &FanOut{
		actor: actor,
		seen:  map[uuid.UUID]bool{actor.ID: true},
	}
}

// add appends a notification unless the recipient is the actor or already
// addressed in this batch.
func (f *FanOut) add(n model.Notification) bool {
	if f.seen[n.UserID] {
		return false
	}
	f.seen[n.UserID] = true
	n.FromUserID = f.actor.ID
	if len(n.Message) > model.MaxNotificationMessageLen {
		n.Message = n.Message[:model.MaxNotificationMessageLen]
	}
	f.pending = append(f.pending, n)
	return true
}

// AnswerPosted notifies the question author that their question was answered.
func (f *FanOut) AnswerPosted(questionAuthorID uuid.UUID, questionID, answerID uuid.UUID, questionTitle string) {
	f.add(model.Notification{
		UserID:     questionAuthorID,
		Type:       model.NotifyAnswer,
		Message:    fmt.Sprintf("%s answered your question %q", f.actor.Username, model.Preview(questionTitle, 80)),
		QuestionID: &questionID,
		AnswerID:   &answerID,
	})
}

// AnswerAccepted notifies the answer author that their answer was accepted.
func (f *FanOut) AnswerAccepted(answerAuthorID uuid.UUID, questionID, answerID uuid.UUID, questionTitle string) {
	f.add(model.Notification{
		UserID:     answerAuthorID,
		Type:       model.NotifyAcceptedAnswer,
		Message:    fmt.Sprintf("%s accepted your answer on %q", f.actor.Username, model.Preview(questionTitle, 80)),
		QuestionID: &questionID,
		AnswerID:   &answerID,
	})
}

// Mentions notifies every mentioned user. Users already addressed by a more
// specific notification in this batch are skipped. Mentioned users that were
// actually notified are recorded for email delivery.
func (f *FanOut) Mentions(users []model.User, questionID uuid.UUID, answerID *uuid.UUID, where string) {
	for _, u := range users {
		added := f.add(model.Notification{
			UserID:     u.ID,
			Type:       model.NotifyMention,
			Message:    fmt.Sprintf("%s mentioned you in %s", f.actor.Username, where),
			QuestionID: &questionID,
			AnswerID:   answerID,
		})
		if added {
			f.mentions = append(f.mentions, u)
		}
	}
}

// Notifications returns the accumulated batch.
func (f *FanOut) Notifications() []model.Notification {
	return f.pending
}

// MentionedUsers returns the users who received a mention notification in
// this batch, for optional email delivery after commit.
func (f *FanOut) MentionedUsers() []model.User {
	return f.mentions
}
