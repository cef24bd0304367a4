package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/soudan-ai/soudan/internal/model"
)

// InsertNotificationsTx writes a batch of notifications inside the caller's
// transaction. Callers build the batch with notify.FanOut so self-notification
// and duplicate recipients are already filtered.
func InsertNotificationsTx(ctx context.Context, tx pgx.Tx, notifications []model.Notification) error {
	now := time.Now().UTC()
	for _, n := range notifications {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO notifications (id, user_id, from_id, question_id, answer_id, type, message, is_read, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			n.ID, n.UserID, n.FromUserID, n.QuestionID, n.AnswerID,
			string(n.Type), n.Message, n.Read, n.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert notification: %w", err)
		}
	}
	return nil
}

// ListNotifications returns a user's notifications newest first, hydrated with
// sender username and question title.
func (db *DB) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]model.NotificationView, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT n.id, n.user_id, n.from_id, n.question_id, n.answer_id, n.type, n.message, n.is_read, n.created_at,
		        COALESCE(u.username, ''), q.title
		 FROM notifications n
		 LEFT JOIN users u ON u.id = n.from_id
		 LEFT JOIN questions q ON q.id = n.question_id
		 WHERE n.user_id = $1 AND (NOT $2 OR NOT n.is_read)
		 ORDER BY n.created_at DESC
		 LIMIT $3 OFFSET $4`,
		userID, unreadOnly, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	defer rows.Close()

	var views []model.NotificationView
	for rows.Next() {
		var v model.NotificationView
		var typ string
		var fromID *uuid.UUID
		if err := rows.Scan(&v.ID, &v.UserID, &fromID, &v.QuestionID, &v.AnswerID,
			&typ, &v.Message, &v.Read, &v.CreatedAt,
			&v.FromUsername, &v.QuestionTitle); err != nil {
			return nil, fmt.Errorf("storage: scan notification: %w", err)
		}
		if fromID != nil {
			v.FromUserID = *fromID
		}
		v.Type = model.NotificationType(typ)
		views = append(views, v)
	}
	return views, rows.Err()
}

// NotificationStats returns unread and total notification counts for a user.
func (db *DB) NotificationStats(ctx context.Context, userID uuid.UUID) (model.NotificationStats, error) {
	var stats model.NotificationStats
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE NOT is_read), COUNT(*)
		 FROM notifications WHERE user_id = $1`,
		userID,
	).Scan(&stats.UnreadCount, &stats.TotalCount)
	if err != nil {
		return model.NotificationStats{}, fmt.Errorf("storage: notification stats: %w", err)
	}
	return stats, nil
}

// MarkNotificationRead marks one notification as read. The user scope prevents
// marking someone else's notification.
func (db *DB) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("storage: mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification for the user as
// read and returns how many changed.
func (db *DB) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}
