package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/soudan-ai/soudan/internal/model"
)

// CreateAnswer inserts an answer together with its fan-out notifications in a
// single transaction.
func (db *DB) CreateAnswer(ctx context.Context, a model.Answer, notifications []model.Notification) (model.Answer, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Answer{}, fmt.Errorf("storage: begin create answer tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO answers (id, question_id, author_id, content, votes, ai_generated, toxic_score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.QuestionID, a.AuthorID, a.Content, a.Votes, a.AIGenerated, a.ToxicScore, a.CreatedAt, now,
	); err != nil {
		return model.Answer{}, fmt.Errorf("storage: create answer: %w", err)
	}

	if err := InsertNotificationsTx(ctx, tx, notifications); err != nil {
		return model.Answer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Answer{}, fmt.Errorf("storage: commit create answer tx: %w", err)
	}
	return a, nil
}

// GetAnswer returns a single answer.
func (db *DB) GetAnswer(ctx context.Context, id uuid.UUID) (model.Answer, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT a.id, a.question_id, a.author_id, a.content, a.votes, a.ai_generated, a.toxic_score,
		        a.id = q.accepted_answer_id AND q.accepted_answer_id IS NOT NULL,
		        a.created_at
		 FROM answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.id = $1`, id)

	var a model.Answer
	err := row.Scan(&a.ID, &a.QuestionID, &a.AuthorID, &a.Content, &a.Votes,
		&a.AIGenerated, &a.ToxicScore, &a.IsAccepted, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Answer{}, ErrNotFound
	}
	if err != nil {
		return model.Answer{}, fmt.Errorf("storage: get answer: %w", err)
	}
	return a, nil
}

// ListAnswers returns all answers for a question hydrated with author info,
// sorted accepted first, then by vote count descending, then oldest first.
func (db *DB) ListAnswers(ctx context.Context, questionID uuid.UUID) ([]model.AnswerView, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT a.id, a.question_id, a.author_id, a.content, a.votes, a.ai_generated, a.toxic_score,
		        a.id = q.accepted_answer_id AND q.accepted_answer_id IS NOT NULL AS is_accepted,
		        a.created_at, u.username, u.role
		 FROM answers a
		 JOIN questions q ON q.id = a.question_id
		 JOIN users u ON u.id = a.author_id
		 WHERE a.question_id = $1
		 ORDER BY is_accepted DESC, a.votes DESC, a.created_at ASC`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list answers: %w", err)
	}
	defer rows.Close()

	var views []model.AnswerView
	for rows.Next() {
		var v model.AnswerView
		var role string
		if err := rows.Scan(&v.ID, &v.QuestionID, &v.AuthorID, &v.Content, &v.Votes,
			&v.AIGenerated, &v.ToxicScore, &v.IsAccepted, &v.CreatedAt,
			&v.AuthorUsername, &role); err != nil {
			return nil, fmt.Errorf("storage: scan answer: %w", err)
		}
		v.AuthorRole = model.UserRole(role)
		views = append(views, v)
	}
	return views, rows.Err()
}

// VoteAnswer records a vote in the per-user ledger and recomputes the
// denormalized vote count, all in one transaction. A repeated vote by the same
// user replaces the previous one instead of stacking; remove deletes it.
// Returns the new vote total.
func (db *DB) VoteAnswer(ctx context.Context, answerID, userID uuid.UUID, action model.VoteAction) (int, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin vote tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM answers WHERE id = $1)`, answerID,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("storage: check answer: %w", err)
	}
	if !exists {
		return 0, ErrNotFound
	}

	switch action {
	case model.VoteRemove:
		if _, err := tx.Exec(ctx,
			`DELETE FROM answer_votes WHERE answer_id = $1 AND user_id = $2`,
			answerID, userID,
		); err != nil {
			return 0, fmt.Errorf("storage: remove vote: %w", err)
		}
	default:
		value := 1
		if action == model.VoteDown {
			value = -1
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO answer_votes (answer_id, user_id, value)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (answer_id, user_id)
			 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			answerID, userID, value,
		); err != nil {
			return 0, fmt.Errorf("storage: record vote: %w", err)
		}
	}

	var total int
	if err := tx.QueryRow(ctx,
		`UPDATE answers
		 SET votes = COALESCE((SELECT SUM(value) FROM answer_votes WHERE answer_id = $1), 0),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING votes`,
		answerID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("storage: recompute votes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit vote tx: %w", err)
	}
	return total, nil
}

// AcceptAnswer marks an answer as the accepted one for its question and writes
// the acceptance notification in the same transaction. The answer must belong
// to the question.
func (db *DB) AcceptAnswer(ctx context.Context, questionID, answerID uuid.UUID, notifications []model.Notification) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin accept tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var belongs bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM answers WHERE id = $1 AND question_id = $2)`,
		answerID, questionID,
	).Scan(&belongs); err != nil {
		return fmt.Errorf("storage: check answer ownership: %w", err)
	}
	if !belongs {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE questions SET accepted_answer_id = $1, updated_at = now() WHERE id = $2`,
		answerID, questionID,
	); err != nil {
		return fmt.Errorf("storage: accept answer: %w", err)
	}

	if err := InsertNotificationsTx(ctx, tx, notifications); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit accept tx: %w", err)
	}
	return nil
}

// DeleteAnswer removes an answer. Votes and notifications cascade; if the
// answer was accepted, the question's accepted_answer_id resets to NULL via
// the foreign key.
func (db *DB) DeleteAnswer(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM answers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
