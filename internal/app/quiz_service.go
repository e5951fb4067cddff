package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"timed-quiz-service/internal/domain"
)

var errNotConfigured = errors.New("collaborator not configured")

// Deps are the collaborators of the quiz service.
type Deps struct {
	Sessions    SessionRepository
	Questions   QuestionSource
	Bank        QuestionStore
	Answers     AnswerRecorder
	Scores      ScoreSubmitter
	Leaderboard Leaderboard
	Results     ResultReader
	Stats       StatsReader
}

// Options tune how sessions are built.
type Options struct {
	Rules         Rules
	QuestionLimit int
	Shuffle       bool
	AutoSubmit    bool
	Logger        logrus.FieldLogger
	// TickSource, when set, supplies the countdown ticks of each new session.
	TickSource func() <-chan time.Time
}

// QuizService contains the quiz use cases.
type QuizService struct {
	deps Deps
	opts Options
	log  logrus.FieldLogger

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizService(deps Deps, opts Options) *QuizService {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.QuestionLimit <= 0 {
		opts.QuestionLimit = 10
	}
	return &QuizService{
		deps: deps,
		opts: opts,
		log:  opts.Logger,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start fetches questions and begins a timed session for userID.
// With Shuffle the whole pool is fetched and QuestionLimit questions are drawn from it.
// It fails with domain.ErrEmptyQuestionSet when the source has nothing to play.
func (s *QuizService) Start(ctx context.Context, userID string) (*Session, error) {
	limit := s.opts.QuestionLimit
	if s.opts.Shuffle {
		limit = 0
	}
	questions, err := s.deps.Questions.FetchQuestions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrEmptyQuestionSet
	}
	if s.opts.Shuffle {
		questions = s.shuffled(questions)
		if len(questions) > s.opts.QuestionLimit {
			questions = questions[:s.opts.QuestionLimit]
		}
	}

	cfg := SessionConfig{
		UserID:     userID,
		Rules:      s.opts.Rules,
		Answers:    s.deps.Answers,
		Scores:     s.deps.Scores,
		AutoSubmit: s.opts.AutoSubmit,
		Logger:     s.log,
	}
	if s.opts.TickSource != nil {
		cfg.Ticks = s.opts.TickSource()
	}

	session, err := StartSession(questions, cfg)
	if err != nil {
		return nil, err
	}
	s.deps.Sessions.Put(session)
	return session, nil
}

// Answer applies a player's answer to the question they were shown.
func (s *QuizService) Answer(_ context.Context, sessionID, questionID, selected string) (domain.AnswerOutcome, error) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrSessionNotFound
	}
	return session.AnswerQuestion(questionID, selected)
}

// SubmitFinalScore records the final score of a completed session once.
func (s *QuizService) SubmitFinalScore(ctx context.Context, sessionID string) (domain.ScoreRecord, error) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return domain.ScoreRecord{}, domain.ErrSessionNotFound
	}
	if err := session.SubmitFinalScore(ctx); err != nil {
		return domain.ScoreRecord{}, err
	}
	final, _ := session.FinalScore()
	return final, nil
}

func (s *QuizService) Snapshot(_ context.Context, sessionID string) (domain.SessionSnapshot, error) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrSessionNotFound
	}
	return session.Snapshot(), nil
}

// Subscribe returns a channel that receives session events.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *QuizService) Subscribe(_ context.Context, sessionID string) (<-chan domain.SessionEvent, func(), error) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Leave closes the session and drops it from the repository.
func (s *QuizService) Leave(_ context.Context, sessionID string) {
	session, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		return
	}
	session.Close()
	s.deps.Sessions.Delete(sessionID)
}

// Leaderboard returns the best scores, highest first.
func (s *QuizService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if s.deps.Leaderboard == nil {
		return nil, fmt.Errorf("leaderboard: %w", errNotConfigured)
	}
	if limit <= 0 {
		limit = 10
	}
	return s.deps.Leaderboard.TopScores(ctx, limit)
}

// LatestResult returns the most recent score recorded for userID.
func (s *QuizService) LatestResult(ctx context.Context, userID string) (domain.ScoreRecord, error) {
	if s.deps.Results == nil {
		return domain.ScoreRecord{}, fmt.Errorf("results: %w", errNotConfigured)
	}
	return s.deps.Results.LatestScore(ctx, userID)
}

// QuestionStats aggregates answers per question within [from, to].
func (s *QuizService) QuestionStats(ctx context.Context, from, to time.Time) ([]domain.QuestionStats, error) {
	if s.deps.Stats == nil {
		return nil, fmt.Errorf("stats: %w", errNotConfigured)
	}
	return s.deps.Stats.QuestionStats(ctx, from, to)
}

// ListQuestions returns the whole question bank, answers included.
func (s *QuizService) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	if s.deps.Bank == nil {
		return nil, fmt.Errorf("question bank: %w", errNotConfigured)
	}
	return s.deps.Bank.ListQuestions(ctx)
}

// CreateQuestion validates and stores q. An empty id is generated.
func (s *QuizService) CreateQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	if s.deps.Bank == nil {
		return domain.Question{}, fmt.Errorf("question bank: %w", errNotConfigured)
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	if err := s.deps.Bank.CreateQuestion(ctx, q); err != nil {
		return domain.Question{}, err
	}
	s.invalidateQuestions(ctx)
	return q, nil
}

// UpdateQuestion replaces the question stored under id.
func (s *QuizService) UpdateQuestion(ctx context.Context, id string, q domain.Question) (domain.Question, error) {
	if s.deps.Bank == nil {
		return domain.Question{}, fmt.Errorf("question bank: %w", errNotConfigured)
	}
	q.ID = id
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	if err := s.deps.Bank.UpdateQuestion(ctx, q); err != nil {
		return domain.Question{}, err
	}
	s.invalidateQuestions(ctx)
	return q, nil
}

func (s *QuizService) DeleteQuestion(ctx context.Context, id string) error {
	if s.deps.Bank == nil {
		return fmt.Errorf("question bank: %w", errNotConfigured)
	}
	if err := s.deps.Bank.DeleteQuestion(ctx, id); err != nil {
		return err
	}
	s.invalidateQuestions(ctx)
	return nil
}

// invalidateQuestions drops cached lists so new sessions see bank edits.
// Sessions already running keep their fixed question list.
func (s *QuizService) invalidateQuestions(ctx context.Context) {
	cache, ok := s.deps.Questions.(CacheInvalidator)
	if !ok {
		return
	}
	if err := cache.Invalidate(ctx); err != nil {
		s.log.WithError(err).Warn("failed to invalidate question cache")
	}
}

func (s *QuizService) shuffled(questions []domain.Question) []domain.Question {
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	s.rndMu.Lock()
	s.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	s.rndMu.Unlock()
	return out
}
