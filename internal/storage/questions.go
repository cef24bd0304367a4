package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/soudan-ai/soudan/internal/model"
)

// CreateQuestion inserts a question together with its search outbox entry and
// mention notifications in a single transaction. Either everything commits or
// nothing does, so notifications can never outlive a failed insert and the
// search index never misses a committed question.
func (db *DB) CreateQuestion(ctx context.Context, q model.Question, embedding []float32, notifications []model.Notification) (model.Question, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Question{}, fmt.Errorf("storage: begin create question tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	if q.Tags == nil {
		q.Tags = []string{}
	}

	var emb any
	if len(embedding) > 0 {
		emb = pgvector.NewVector(embedding)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO questions (id, author_id, title, body, tags, toxic_score, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.ID, q.AuthorID, q.Title, q.Body, q.Tags, q.ToxicScore, emb, q.CreatedAt, now,
	); err != nil {
		return model.Question{}, fmt.Errorf("storage: create question: %w", err)
	}

	if err := enqueueSearchTx(ctx, tx, q.ID, "upsert"); err != nil {
		return model.Question{}, err
	}

	if err := InsertNotificationsTx(ctx, tx, notifications); err != nil {
		return model.Question{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Question{}, fmt.Errorf("storage: commit create question tx: %w", err)
	}
	return q, nil
}

// GetQuestion returns a question with its answer IDs populated.
func (db *DB) GetQuestion(ctx context.Context, id uuid.UUID) (model.Question, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, author_id, title, body, tags, toxic_score, accepted_answer_id, created_at
		 FROM questions WHERE id = $1`, id)

	var q model.Question
	if err := row.Scan(&q.ID, &q.AuthorID, &q.Title, &q.Body, &q.Tags,
		&q.ToxicScore, &q.AcceptedAnswerID, &q.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Question{}, ErrNotFound
		}
		return model.Question{}, fmt.Errorf("storage: get question: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id FROM answers WHERE question_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return model.Question{}, fmt.Errorf("storage: get question answers: %w", err)
	}
	defer rows.Close()

	q.AnswerIDs = []uuid.UUID{}
	for rows.Next() {
		var aid uuid.UUID
		if err := rows.Scan(&aid); err != nil {
			return model.Question{}, fmt.Errorf("storage: scan answer id: %w", err)
		}
		q.AnswerIDs = append(q.AnswerIDs, aid)
	}
	return q, rows.Err()
}

// ListQuestions returns a page of question summaries, newest first, optionally
// filtered by tag, plus the total count matching the filter.
func (db *DB) ListQuestions(ctx context.Context, tag string, limit, offset int) ([]model.QuestionSummary, int, error) {
	where := ``
	args := []any{limit, offset}
	countArgs := []any{}
	if tag != "" {
		where = `WHERE $3 = ANY(q.tags)`
		args = append(args, tag)
		countArgs = append(countArgs, tag)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT q.id, q.title, q.tags, q.author_id, u.username,
		        (SELECT COUNT(*) FROM answers a WHERE a.question_id = q.id),
		        q.accepted_answer_id IS NOT NULL,
		        q.created_at
		 FROM questions q
		 JOIN users u ON u.id = q.author_id
		 `+where+`
		 ORDER BY q.created_at DESC
		 LIMIT $1 OFFSET $2`,
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list questions: %w", err)
	}
	summaries, err := scanQuestionSummaries(rows)
	if err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM questions q`
	if tag != "" {
		countQuery += ` WHERE $1 = ANY(q.tags)`
	}
	var total int
	if err := db.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count questions: %w", err)
	}
	return summaries, total, nil
}

// DeleteQuestion removes a question and enqueues a search index delete in the
// same transaction. Answers, votes, and notifications cascade in the schema.
func (db *DB) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete question tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := enqueueSearchTx(ctx, tx, id, "delete"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit delete question tx: %w", err)
	}
	return nil
}

// SearchQuestionsFTS runs a Postgres full-text search over question titles and
// bodies. This is the fallback path when the vector index is unavailable; the
// rank is normalized into (0, 1] so callers can present it alongside vector
// similarity scores.
func (db *DB) SearchQuestionsFTS(ctx context.Context, query string, limit int) ([]model.QuestionSearchResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT q.id, q.title, q.tags, q.author_id, u.username,
		        (SELECT COUNT(*) FROM answers a WHERE a.question_id = q.id),
		        q.accepted_answer_id IS NOT NULL,
		        q.created_at,
		        q.body,
		        ts_rank(q.search_tsv, websearch_to_tsquery('english', $1))
		 FROM questions q
		 JOIN users u ON u.id = q.author_id
		 WHERE q.search_tsv @@ websearch_to_tsquery('english', $1)
		 ORDER BY ts_rank(q.search_tsv, websearch_to_tsquery('english', $1)) DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: fts search: %w", err)
	}
	defer rows.Close()

	var results []model.QuestionSearchResult
	for rows.Next() {
		var r model.QuestionSearchResult
		var body string
		var rank float32
		if err := rows.Scan(&r.ID, &r.Title, &r.Tags, &r.AuthorID, &r.AuthorUsername,
			&r.AnswerCount, &r.HasAcceptedAnswer, &r.CreatedAt, &body, &rank); err != nil {
			return nil, fmt.Errorf("storage: scan fts result: %w", err)
		}
		r.BodyPreview = model.Preview(body, 200)
		r.Score = rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetQuestionsForSearch hydrates search index hits from Postgres. The result
// map is keyed by question ID; IDs deleted since indexing are simply absent.
func (db *DB) GetQuestionsForSearch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.QuestionSearchResult, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]model.QuestionSearchResult{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT q.id, q.title, q.tags, q.author_id, u.username,
		        (SELECT COUNT(*) FROM answers a WHERE a.question_id = q.id),
		        q.accepted_answer_id IS NOT NULL,
		        q.created_at,
		        q.body
		 FROM questions q
		 JOIN users u ON u.id = q.author_id
		 WHERE q.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: hydrate search results: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]model.QuestionSearchResult, len(ids))
	for rows.Next() {
		var r model.QuestionSearchResult
		var body string
		if err := rows.Scan(&r.ID, &r.Title, &r.Tags, &r.AuthorID, &r.AuthorUsername,
			&r.AnswerCount, &r.HasAcceptedAnswer, &r.CreatedAt, &body); err != nil {
			return nil, fmt.Errorf("storage: scan search hydration: %w", err)
		}
		r.BodyPreview = model.Preview(body, 200)
		out[r.ID] = r
	}
	return out, rows.Err()
}

func scanQuestionSummaries(rows pgx.Rows) ([]model.QuestionSummary, error) {
	defer rows.Close()
	var summaries []model.QuestionSummary
	for rows.Next() {
		var s model.QuestionSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Tags, &s.AuthorID, &s.AuthorUsername,
			&s.AnswerCount, &s.HasAcceptedAnswer, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan question summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// enqueueSearchTx writes a search outbox row inside the caller's transaction.
func enqueueSearchTx(ctx context.Context, tx pgx.Tx, questionID uuid.UUID, operation string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO search_outbox (question_id, operation) VALUES ($1, $2)`,
		questionID, operation,
	); err != nil {
		return fmt.Errorf("storage: enqueue search %s: %w", operation, err)
	}
	return nil
}
