package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"timed-quiz-service/internal/domain"
)

// QuestionSource loads questions from the questions table in id order.
type QuestionSource struct {
	pool *pgxpool.Pool
}

func NewQuestionSource(pool *pgxpool.Pool) *QuestionSource {
	return &QuestionSource{pool: pool}
}

func (s *QuestionSource) FetchQuestions(ctx context.Context, limit int) ([]domain.Question, error) {
	query, args := `SELECT id, prompt, options, correct_answer FROM questions ORDER BY id`, []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	questions, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// integrity errors are rejected here rather than scored as always-wrong
	if err := domain.ValidateQuestionSet(questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func (s *QuestionSource) query(ctx context.Context, query string, args ...interface{}) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var (
			q   domain.Question
			raw []byte
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &raw, &q.CorrectAnswer); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(raw, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options of %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return questions, nil
}

// SeedQuestions upserts questions after validating them.
func SeedQuestions(ctx context.Context, pool *pgxpool.Pool, questions []domain.Question) error {
	if err := domain.ValidateQuestionSet(questions); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO questions (id, prompt, options, correct_answer) VALUES ($1, $2, $3::jsonb, $4)
			ON CONFLICT (id) DO UPDATE SET prompt = EXCLUDED.prompt, options = EXCLUDED.options, correct_answer = EXCLUDED.correct_answer`,
			q.ID, q.Prompt, string(options), q.CorrectAnswer)
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range questions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("seed question: %w", err)
		}
	}
	return nil
}

func (s *QuestionSource) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	return s.query(ctx, `SELECT id, prompt, options, correct_answer FROM questions ORDER BY id`)
}

func (s *QuestionSource) CreateQuestion(ctx context.Context, q domain.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	options, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO questions (id, prompt, options, correct_answer) VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (id) DO NOTHING`, q.ID, q.Prompt, string(options), q.CorrectAnswer)
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionExists
	}
	return nil
}

func (s *QuestionSource) UpdateQuestion(ctx context.Context, q domain.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	options, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE questions SET prompt = $2, options = $3::jsonb, correct_answer = $4 WHERE id = $1`,
		q.ID, q.Prompt, string(options), q.CorrectAnswer)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

// DeleteQuestion removes a question. Recorded answers keep their question id.
func (s *QuestionSource) DeleteQuestion(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}
