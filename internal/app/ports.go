package app

import (
	"context"
	"errors"
	"time"

	"timed-quiz-service/internal/domain"
)

// QuestionSource returns the ordered questions for a playthrough.
// A limit <= 0 returns every question. An empty result is not an error.
type QuestionSource interface {
	FetchQuestions(ctx context.Context, limit int) ([]domain.Question, error)
}

// QuestionStore manages the question bank that sources read from.
type QuestionStore interface {
	ListQuestions(ctx context.Context) ([]domain.Question, error)
	CreateQuestion(ctx context.Context, q domain.Question) error
	UpdateQuestion(ctx context.Context, q domain.Question) error
	DeleteQuestion(ctx context.Context, id string) error
}

// CacheInvalidator is implemented by question sources that cache lists.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// AnswerRecorder persists per-question answers. Calls are fire-and-forget from the session.
type AnswerRecorder interface {
	RecordAnswer(ctx context.Context, record domain.AnswerRecord) error
}

// ScoreSubmitter persists the final score of a completed session.
type ScoreSubmitter interface {
	SubmitScore(ctx context.Context, record domain.ScoreRecord) error
}

// Leaderboard lists the best scores.
type Leaderboard interface {
	TopScores(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// ResultReader looks up a user's most recent score.
type ResultReader interface {
	LatestScore(ctx context.Context, userID string) (domain.ScoreRecord, error)
}

// StatsReader aggregates recorded answers per question. Zero times leave the range open.
type StatsReader interface {
	QuestionStats(ctx context.Context, from, to time.Time) ([]domain.QuestionStats, error)
}

// SessionRepository abstracts where live sessions are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	Delete(sessionID string)
}

// ScoreSinks submits a score to every sink, in order. A failing sink does not
// stop the ones after it; the errors are joined.
type ScoreSinks []ScoreSubmitter

func (s ScoreSinks) SubmitScore(ctx context.Context, record domain.ScoreRecord) error {
	var errs []error
	for _, sink := range s {
		if err := sink.SubmitScore(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discardAnswers struct{}

func (discardAnswers) RecordAnswer(context.Context, domain.AnswerRecord) error { return nil }
