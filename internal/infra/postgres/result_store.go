package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"timed-quiz-service/internal/domain"
)

// ResultStore persists answers and scores and serves the read views over them.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) RecordAnswer(ctx context.Context, r domain.AnswerRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO user_answers (session_id, user_id, question_id, selected_answer, is_correct, timed_out, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, question_id) DO NOTHING`,
		r.SessionID, r.UserID, r.QuestionID, r.Selected, r.Correct, r.TimedOut, r.AnsweredAt)
	if err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	return nil
}

// SubmitScore inserts the final score; a second insert for the same session is ignored.
func (s *ResultStore) SubmitScore(ctx context.Context, r domain.ScoreRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO scores (session_id, user_id, score, total_questions, max_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO NOTHING`,
		r.SessionID, r.UserID, r.Score, r.TotalQuestions, r.MaxScore, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("submit score: %w", err)
	}
	return nil
}

func (s *ResultStore) TopScores(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT session_id, user_id, score, total_questions, max_score, created_at
		FROM scores ORDER BY score DESC, created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		r, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.NewLeaderboardEntry(len(entries)+1, r))
	}
	return entries, rows.Err()
}

func (s *ResultStore) LatestScore(ctx context.Context, userID string) (domain.ScoreRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT session_id, user_id, score, total_questions, max_score, created_at
		FROM scores WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID)
	r, err := scanScore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScoreRecord{}, domain.ErrScoreNotFound
	}
	return r, err
}

func (s *ResultStore) QuestionStats(ctx context.Context, from, to time.Time) ([]domain.QuestionStats, error) {
	var (
		where []string
		args  []interface{}
	)
	if !from.IsZero() {
		args = append(args, from)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := `SELECT question_id,
			count(*),
			count(*) FILTER (WHERE is_correct),
			count(*) FILTER (WHERE timed_out)
		FROM user_answers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY question_id ORDER BY count(*) DESC, question_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load question stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.QuestionStats
	for rows.Next() {
		var st domain.QuestionStats
		if err := rows.Scan(&st.QuestionID, &st.TotalAttempts, &st.CorrectAttempts, &st.Timeouts); err != nil {
			return nil, fmt.Errorf("scan question stats: %w", err)
		}
		st.ComputeRate()
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func scanScore(row pgx.Row) (domain.ScoreRecord, error) {
	var r domain.ScoreRecord
	if err := row.Scan(&r.SessionID, &r.UserID, &r.Score, &r.TotalQuestions, &r.MaxScore, &r.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan score: %w", err)
	}
	return r, nil
}
