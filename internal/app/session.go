package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"timed-quiz-service/internal/domain"
	"timed-quiz-service/internal/monitoring"
)

const defaultSinkTimeout = 5 * time.Second

// Rules holds the scoring and timing constants of a playthrough.
type Rules struct {
	PerQuestionSeconds int
	CorrectPoints      int
	IncorrectPoints    int
	SinkTimeout        time.Duration
}

// DefaultRules mirrors the game mode: 30s per question, +10 correct, -5 incorrect or timeout.
func DefaultRules() Rules {
	return Rules{
		PerQuestionSeconds: 30,
		CorrectPoints:      10,
		IncorrectPoints:    -5,
		SinkTimeout:        defaultSinkTimeout,
	}
}

// Validate rejects rules a countdown cannot run with.
func (r Rules) Validate() error {
	if r.PerQuestionSeconds <= 0 {
		return fmt.Errorf("%w: per-question limit must be positive", domain.ErrInvalidRules)
	}
	return nil
}

// SessionConfig wires a session to its collaborators.
type SessionConfig struct {
	ID         string
	UserID     string
	Rules      Rules
	Answers    AnswerRecorder
	Scores     ScoreSubmitter
	AutoSubmit bool
	Logger     logrus.FieldLogger
	// Ticks replaces the one-second ticker driving the countdown.
	Ticks <-chan time.Time
	Clock func() time.Time
}

// Session is one timed playthrough of an ordered question list.
// All state changes, manual or countdown driven, go through mu.
type Session struct {
	id         string
	userID     string
	questions  []domain.Question
	rules      Rules
	now        func() time.Time
	log        logrus.FieldLogger
	answers    AnswerRecorder
	scores     ScoreSubmitter
	autoSubmit bool

	mu           sync.Mutex
	index        int
	score        int
	remaining    int
	state        domain.SessionState
	closed       bool
	final        *domain.ScoreRecord
	subscribers  map[chan domain.SessionEvent]struct{}
	outbox       chan outboxItem
	outboxClosed bool
	stop         chan struct{}
	stopOnce     sync.Once
	// ticker and phase are only set when the session owns a real one-second ticker.
	ticker *time.Ticker
	phase  time.Time

	submitMu  sync.Mutex
	submitted bool

	wg sync.WaitGroup
}

type outboxItem struct {
	answer *domain.AnswerRecord
	final  *domain.ScoreRecord
}

// StartSession validates the questions and starts the countdown.
func StartSession(questions []domain.Question, cfg SessionConfig) (*Session, error) {
	if len(questions) == 0 {
		return nil, domain.ErrEmptyQuestionSet
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateQuestionSet(questions); err != nil {
		return nil, err
	}

	rules := cfg.Rules
	if rules.SinkTimeout <= 0 {
		rules.SinkTimeout = defaultSinkTimeout
	}
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	var answers AnswerRecorder = discardAnswers{}
	if cfg.Answers != nil {
		answers = cfg.Answers
	}
	var scores ScoreSubmitter = ScoreSinks(nil)
	if cfg.Scores != nil {
		scores = cfg.Scores
	}

	fixed := make([]domain.Question, len(questions))
	for i, q := range questions {
		q.Options = append([]string(nil), q.Options...)
		fixed[i] = q
	}

	s := &Session{
		id:          id,
		userID:      cfg.UserID,
		questions:   fixed,
		rules:       rules,
		now:         now,
		log:         logger.WithFields(logrus.Fields{"session_id": id, "user_id": cfg.UserID}),
		answers:     answers,
		scores:      scores,
		autoSubmit:  cfg.AutoSubmit,
		remaining:   rules.PerQuestionSeconds,
		state:       domain.SessionInProgress,
		subscribers: make(map[chan domain.SessionEvent]struct{}),
		// one slot per question plus the final score, so enqueueing never blocks under mu
		outbox: make(chan outboxItem, len(fixed)+1),
		stop:   make(chan struct{}),
	}

	ticks, release := cfg.Ticks, func() {}
	if ticks == nil {
		s.ticker = time.NewTicker(time.Second)
		s.phase = time.Now()
		ticks, release = s.ticker.C, s.ticker.Stop
	}

	s.wg.Add(2)
	go s.runCountdown(ticks, release)
	go s.dispatch()

	monitoring.SessionsStarted.Inc()
	s.log.WithField("questions", len(fixed)).Debug("quiz session started")
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Answer scores selected against the current question and advances.
// domain.NoAnswer counts as a wrong answer.
func (s *Session) Answer(selected string) (domain.AnswerOutcome, error) {
	return s.answer("", selected)
}

// AnswerQuestion is Answer guarded by the question the caller was looking at.
// It fails with domain.ErrStaleAnswer if the countdown already moved past it.
func (s *Session) AnswerQuestion(questionID, selected string) (domain.AnswerOutcome, error) {
	if questionID == "" {
		return domain.AnswerOutcome{}, domain.ErrStaleAnswer
	}
	return s.answer(questionID, selected)
}

func (s *Session) answer(questionID, selected string) (domain.AnswerOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acceptingLocked(); err != nil {
		return domain.AnswerOutcome{}, err
	}
	current := s.questions[s.index]
	if questionID != "" && questionID != current.ID {
		return domain.AnswerOutcome{}, domain.ErrStaleAnswer
	}
	if selected != domain.NoAnswer && !current.HasOption(selected) {
		return domain.AnswerOutcome{}, domain.ErrOptionNotFound
	}
	return s.applyLocked(selected, false), nil
}

// SubmitFinalScore sends the final score to the score sink. It succeeds at most once;
// later calls return domain.ErrAlreadySubmitted. A failed attempt may be retried.
func (s *Session) SubmitFinalScore(ctx context.Context) error {
	s.mu.Lock()
	final := s.final
	s.mu.Unlock()
	if final == nil {
		return domain.ErrSessionNotComplete
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if s.submitted {
		return domain.ErrAlreadySubmitted
	}
	if err := s.scores.SubmitScore(ctx, *final); err != nil {
		monitoring.SinkFailures.WithLabelValues("scores").Inc()
		return fmt.Errorf("submit final score: %w", err)
	}
	s.submitted = true
	s.log.WithField("score", final.Score).Info("final score submitted")
	return nil
}

// Submitted reports whether the final score reached the sink.
func (s *Session) Submitted() bool {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	return s.submitted
}

// FinalScore returns the score record once the session is completed.
func (s *Session) FinalScore() (domain.ScoreRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return domain.ScoreRecord{}, false
	}
	return *s.final, true
}

func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel of session events starting with the current snapshot.
// The channel is closed after the terminal event; cancel releases it earlier.
func (s *Session) Subscribe() (<-chan domain.SessionEvent, func()) {
	ch := make(chan domain.SessionEvent, 8)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminalLocked() {
		ch <- s.terminalEventLocked()
		close(ch)
		return ch, func() {}
	}

	ch <- domain.SessionEvent{Type: domain.EventTick, Snapshot: s.snapshotLocked()}
	s.subscribers[ch] = struct{}{}

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close abandons the session: the countdown stops and no further answers are accepted.
// Pending answer records are still flushed. Closing a completed session only releases subscribers.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopCountdownLocked()
	s.closeOutboxLocked()
	if s.state == domain.SessionInProgress {
		monitoring.SessionsFinished.WithLabelValues("abandoned").Inc()
		s.broadcastLocked(domain.SessionEvent{Type: domain.EventClosed, Snapshot: s.snapshotLocked()})
		s.log.Info("quiz session abandoned")
	}
	s.closeSubscribersLocked()
}

// Wait blocks until the countdown has stopped and every queued sink call has run.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) acceptingLocked() error {
	if s.state == domain.SessionCompleted {
		return domain.ErrSessionAlreadyComplete
	}
	if s.closed {
		return domain.ErrSessionClosed
	}
	return nil
}

func (s *Session) terminalLocked() bool {
	return s.closed || s.state == domain.SessionCompleted
}

func (s *Session) terminalEventLocked() domain.SessionEvent {
	if s.final != nil {
		final := *s.final
		return domain.SessionEvent{Type: domain.EventCompleted, Snapshot: s.snapshotLocked(), Final: &final}
	}
	return domain.SessionEvent{Type: domain.EventClosed, Snapshot: s.snapshotLocked()}
}

// applyLocked is the single scoring transition shared by answers and timeouts.
func (s *Session) applyLocked(selected string, timedOut bool) domain.AnswerOutcome {
	current := s.questions[s.index]
	correct := selected != domain.NoAnswer && selected == current.CorrectAnswer

	delta := s.rules.IncorrectPoints
	if correct {
		delta = s.rules.CorrectPoints
	}
	s.score += delta

	s.outbox <- outboxItem{answer: &domain.AnswerRecord{
		SessionID:  s.id,
		UserID:     s.userID,
		QuestionID: current.ID,
		Selected:   selected,
		Correct:    correct,
		TimedOut:   timedOut,
		AnsweredAt: s.now(),
	}}
	monitoring.AnswersTotal.WithLabelValues(monitoring.Outcome(correct, timedOut)).Inc()

	outcome := domain.AnswerOutcome{
		QuestionID: current.ID,
		Selected:   selected,
		Correct:    correct,
		TimedOut:   timedOut,
		Awarded:    delta,
		TotalScore: s.score,
	}

	if s.index < len(s.questions)-1 {
		s.index++
		s.remaining = s.rules.PerQuestionSeconds
		s.rephaseLocked()
		s.broadcastLocked(domain.SessionEvent{Type: domain.EventAnswer, Snapshot: s.snapshotLocked(), Answer: &outcome})
		return outcome
	}

	s.index = len(s.questions)
	s.remaining = 0
	s.state = domain.SessionCompleted
	outcome.Completed = true

	final := domain.ScoreRecord{
		SessionID:      s.id,
		UserID:         s.userID,
		Score:          s.score,
		TotalQuestions: len(s.questions),
		MaxScore:       len(s.questions) * s.rules.CorrectPoints,
		CompletedAt:    s.now(),
	}
	s.final = &final
	s.outbox <- outboxItem{final: &final}
	s.closeOutboxLocked()
	s.stopCountdownLocked()

	monitoring.SessionsFinished.WithLabelValues("completed").Inc()
	s.log.WithField("score", final.Score).Info("quiz session completed")

	snapshot := s.snapshotLocked()
	s.broadcastLocked(domain.SessionEvent{Type: domain.EventAnswer, Snapshot: snapshot, Answer: &outcome})
	s.broadcastLocked(domain.SessionEvent{Type: domain.EventCompleted, Snapshot: snapshot, Final: &final})
	s.closeSubscribersLocked()
	return outcome
}

func (s *Session) snapshotLocked() domain.SessionSnapshot {
	snapshot := domain.SessionSnapshot{
		SessionID:        s.id,
		UserID:           s.userID,
		State:            s.state,
		Index:            s.index,
		Total:            len(s.questions),
		Score:            s.score,
		RemainingSeconds: s.remaining,
	}
	if s.state == domain.SessionInProgress {
		view := s.questions[s.index].View()
		snapshot.Current = &view
	}
	return snapshot
}

func (s *Session) broadcastLocked(event domain.SessionEvent) {
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// drop the oldest event so a slow reader never blocks the state machine
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

// rephaseLocked restarts the one-second cadence when a new question is shown,
// so its first tick comes a full second later.
func (s *Session) rephaseLocked() {
	if s.ticker == nil {
		return
	}
	s.ticker.Reset(time.Second)
	s.phase = time.Now()
}

func (s *Session) closeSubscribersLocked() {
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Session) stopCountdownLocked() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) closeOutboxLocked() {
	if !s.outboxClosed {
		s.outboxClosed = true
		close(s.outbox)
	}
}

// dispatch forwards queued records to the sinks in order. Failures are logged only.
func (s *Session) dispatch() {
	defer s.wg.Done()
	for item := range s.outbox {
		switch {
		case item.answer != nil:
			ctx, cancel := context.WithTimeout(context.Background(), s.rules.SinkTimeout)
			err := s.answers.RecordAnswer(ctx, *item.answer)
			cancel()
			if err != nil {
				monitoring.SinkFailures.WithLabelValues("answers").Inc()
				s.log.WithError(err).WithField("question_id", item.answer.QuestionID).Warn("failed to record answer")
			}
		case item.final != nil && s.autoSubmit:
			ctx, cancel := context.WithTimeout(context.Background(), s.rules.SinkTimeout)
			err := s.SubmitFinalScore(ctx)
			cancel()
			if err != nil && !errors.Is(err, domain.ErrAlreadySubmitted) {
				s.log.WithError(err).Warn("failed to submit final score")
			}
		}
	}
}
