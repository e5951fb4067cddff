package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/domain"
	"timed-quiz-service/internal/logging"
)

func TestSessionScenarioCorrectIncorrectTimeout(t *testing.T) {
	ticks := make(chan time.Time)
	sink := &recordingSink{}
	session := startSession(t, threeQuestions(), app.SessionConfig{
		UserID:  "u1",
		Rules:   rulesWithLimit(2),
		Answers: sink,
		Scores:  sink,
		Ticks:   ticks,
	})

	events, cancel := session.Subscribe()
	defer cancel()
	if initial := <-events; initial.Snapshot.Index != 0 || initial.Snapshot.RemainingSeconds != 2 {
		t.Fatalf("unexpected initial snapshot %+v", initial.Snapshot)
	}

	outcome, err := session.Answer("4")
	if err != nil {
		t.Fatalf("answer 1: %v", err)
	}
	if !outcome.Correct || outcome.Awarded != 10 || outcome.TotalScore != 10 {
		t.Fatalf("expected +10, got %+v", outcome)
	}

	outcome, err = session.Answer("Berlin")
	if err != nil {
		t.Fatalf("answer 2: %v", err)
	}
	if outcome.Correct || outcome.Awarded != -5 || outcome.TotalScore != 5 {
		t.Fatalf("expected -5, got %+v", outcome)
	}

	ticks <- time.Now()
	ticks <- time.Now()

	var last domain.SessionEvent
	timeouts := 0
	for ev := range events {
		if ev.Type == domain.EventAnswer && ev.Answer.TimedOut {
			timeouts++
		}
		last = ev
	}
	if timeouts != 1 {
		t.Fatalf("expected exactly one timeout event, got %d", timeouts)
	}
	if last.Type != domain.EventCompleted || last.Final == nil {
		t.Fatalf("expected completed event last, got %+v", last)
	}
	if last.Final.Score != 0 || last.Final.TotalQuestions != 3 {
		t.Fatalf("expected final {0, 3}, got %+v", last.Final)
	}

	snap := session.Snapshot()
	if snap.State != domain.SessionCompleted || snap.Index != 3 || snap.Current != nil {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
	if _, err := session.Answer("4"); !errors.Is(err, domain.ErrSessionAlreadyComplete) {
		t.Fatalf("expected ErrSessionAlreadyComplete, got %v", err)
	}

	session.Wait()
	answers := sink.Answers()
	if len(answers) != 3 {
		t.Fatalf("expected 3 recorded answers, got %d", len(answers))
	}
	if !answers[2].TimedOut || answers[2].Selected != domain.NoAnswer || answers[2].Correct {
		t.Fatalf("expected timeout record, got %+v", answers[2])
	}

	ctx := context.Background()
	if err := session.SubmitFinalScore(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := session.SubmitFinalScore(ctx); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	scores := sink.Scores()
	if len(scores) != 1 || scores[0].Score != 0 || scores[0].TotalQuestions != 3 || scores[0].UserID != "u1" {
		t.Fatalf("expected a single {0, 3} submission, got %+v", scores)
	}
}

func TestStartSessionRejectsEmptyQuestionSet(t *testing.T) {
	session, err := app.StartSession(nil, app.SessionConfig{Rules: app.DefaultRules()})
	if !errors.Is(err, domain.ErrEmptyQuestionSet) {
		t.Fatalf("expected ErrEmptyQuestionSet, got %v", err)
	}
	if session != nil {
		t.Fatalf("expected no session")
	}
}

func TestStartSessionRejectsBadInput(t *testing.T) {
	if _, err := app.StartSession(threeQuestions(), app.SessionConfig{Rules: rulesWithLimit(0)}); !errors.Is(err, domain.ErrInvalidRules) {
		t.Fatalf("expected ErrInvalidRules, got %v", err)
	}

	bad := threeQuestions()
	bad[1].CorrectAnswer = "Lyon"
	if _, err := app.StartSession(bad, app.SessionConfig{Rules: app.DefaultRules()}); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}
}

func TestCountdownResetsAfterTimeout(t *testing.T) {
	ticks := make(chan time.Time)
	session := startSession(t, threeQuestions(), app.SessionConfig{Rules: rulesWithLimit(2), Ticks: ticks})
	defer session.Close()

	events, cancel := session.Subscribe()
	defer cancel()
	<-events

	ticks <- time.Now()
	if ev := <-events; ev.Type != domain.EventTick || ev.Snapshot.RemainingSeconds != 1 {
		t.Fatalf("expected tick with 1s left, got %+v", ev)
	}

	ticks <- time.Now()
	ev := <-events
	if ev.Type != domain.EventAnswer || !ev.Answer.TimedOut {
		t.Fatalf("expected timeout answer event, got %+v", ev)
	}
	if ev.Snapshot.Index != 1 || ev.Snapshot.RemainingSeconds != 2 || ev.Snapshot.Score != -5 {
		t.Fatalf("expected reset countdown on question 2, got %+v", ev.Snapshot)
	}
	if ev.Snapshot.State != domain.SessionInProgress {
		t.Fatalf("session should still be running")
	}
}

func TestAnswerAfterTimeoutIsStale(t *testing.T) {
	ticks := make(chan time.Time)
	session := startSession(t, threeQuestions(), app.SessionConfig{Rules: rulesWithLimit(1), Ticks: ticks})
	defer session.Close()

	events, cancel := session.Subscribe()
	defer cancel()
	<-events

	ticks <- time.Now()
	<-events // timeout on q1

	if _, err := session.AnswerQuestion("q1", "4"); !errors.Is(err, domain.ErrStaleAnswer) {
		t.Fatalf("expected ErrStaleAnswer, got %v", err)
	}
	snap := session.Snapshot()
	if snap.Index != 1 || snap.Score != -5 {
		t.Fatalf("stale answer must not change state, got %+v", snap)
	}

	outcome, err := session.AnswerQuestion("q2", "Paris")
	if err != nil {
		t.Fatalf("answer q2: %v", err)
	}
	if outcome.TotalScore != 5 {
		t.Fatalf("expected score 5, got %d", outcome.TotalScore)
	}
}

func TestUnknownOptionDoesNotAdvance(t *testing.T) {
	session := startSession(t, threeQuestions(), app.SessionConfig{Rules: app.DefaultRules(), Ticks: make(chan time.Time)})
	defer session.Close()

	if _, err := session.Answer("42"); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected ErrOptionNotFound, got %v", err)
	}
	if snap := session.Snapshot(); snap.Index != 0 || snap.Score != 0 {
		t.Fatalf("expected untouched session, got %+v", snap)
	}
}

func TestExplicitNoAnswerScoresAsIncorrect(t *testing.T) {
	session := startSession(t, threeQuestions(), app.SessionConfig{Rules: app.DefaultRules(), Ticks: make(chan time.Time)})
	defer session.Close()

	outcome, err := session.Answer(domain.NoAnswer)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if outcome.Correct || outcome.TimedOut || outcome.TotalScore != -5 {
		t.Fatalf("expected plain incorrect answer, got %+v", outcome)
	}
}

func TestScoreMayGoNegative(t *testing.T) {
	session := startSession(t, threeQuestions(), app.SessionConfig{Rules: app.DefaultRules(), Ticks: make(chan time.Time)})
	for _, wrong := range []string{"3", "Berlin", "Venus"} {
		if _, err := session.Answer(wrong); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	final, ok := session.FinalScore()
	if !ok || final.Score != -15 || final.MaxScore != 30 {
		t.Fatalf("expected -15 of 30, got %+v", final)
	}
}

func TestRecorderFailureDoesNotAffectScore(t *testing.T) {
	sink := &recordingSink{failAnswers: true}
	session := startSession(t, threeQuestions(), app.SessionConfig{
		Rules:   app.DefaultRules(),
		Answers: sink,
		Ticks:   make(chan time.Time),
	})

	for _, answer := range []string{"4", "Paris", "Mars"} {
		if _, err := session.Answer(answer); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	session.Wait()

	final, _ := session.FinalScore()
	if final.Score != 30 {
		t.Fatalf("expected 30, got %d", final.Score)
	}
	if sink.answerCalls() != 3 {
		t.Fatalf("expected 3 record attempts, got %d", sink.answerCalls())
	}
}

func TestSubmitFinalScoreBeforeCompletion(t *testing.T) {
	session := startSession(t, threeQuestions(), app.SessionConfig{Rules: app.DefaultRules(), Ticks: make(chan time.Time)})
	defer session.Close()

	if err := session.SubmitFinalScore(context.Background()); !errors.Is(err, domain.ErrSessionNotComplete) {
		t.Fatalf("expected ErrSessionNotComplete, got %v", err)
	}
}

func TestSubmitFinalScoreRetriesAfterFailure(t *testing.T) {
	sink := &recordingSink{failScores: 1}
	session := startSession(t, threeQuestions()[:1], app.SessionConfig{
		Rules:  app.DefaultRules(),
		Scores: sink,
		Ticks:  make(chan time.Time),
	})
	if _, err := session.Answer("4"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	ctx := context.Background()
	if err := session.SubmitFinalScore(ctx); err == nil {
		t.Fatalf("expected first submission to fail")
	}
	if session.Submitted() {
		t.Fatalf("failed submission must not count")
	}
	if err := session.SubmitFinalScore(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := session.SubmitFinalScore(ctx); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if len(sink.Scores()) != 1 {
		t.Fatalf("expected exactly one stored score, got %d", len(sink.Scores()))
	}
}

func TestConcurrentSubmitRecordsOnce(t *testing.T) {
	sink := &recordingSink{}
	session := startSession(t, threeQuestions()[:1], app.SessionConfig{
		Rules:  app.DefaultRules(),
		Scores: sink,
		Ticks:  make(chan time.Time),
	})
	if _, err := session.Answer("4"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = session.SubmitFinalScore(context.Background())
		}()
	}
	wg.Wait()

	if len(sink.Scores()) != 1 {
		t.Fatalf("expected one submission, got %d", len(sink.Scores()))
	}
}

func TestAutoSubmitOnCompletion(t *testing.T) {
	sink := &recordingSink{}
	session := startSession(t, threeQuestions(), app.SessionConfig{
		Rules:      app.DefaultRules(),
		Answers:    sink,
		Scores:     sink,
		AutoSubmit: true,
		Ticks:      make(chan time.Time),
	})
	for _, answer := range []string{"4", "Paris", "Venus"} {
		if _, err := session.Answer(answer); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	session.Wait()

	scores := sink.Scores()
	if len(scores) != 1 || scores[0].Score != 15 {
		t.Fatalf("expected auto-submitted score 15, got %+v", scores)
	}
	if err := session.SubmitFinalScore(context.Background()); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted after auto submit, got %v", err)
	}
}

func TestCloseStopsCountdown(t *testing.T) {
	ticks := make(chan time.Time)
	session := startSession(t, threeQuestions(), app.SessionConfig{Rules: rulesWithLimit(5), Ticks: ticks})

	events, cancel := session.Subscribe()
	defer cancel()
	<-events

	session.Close()
	session.Wait()

	var last domain.SessionEvent
	for ev := range events {
		last = ev
	}
	if last.Type != domain.EventClosed {
		t.Fatalf("expected closed event, got %+v", last)
	}

	select {
	case ticks <- time.Now():
		t.Fatalf("countdown still consuming ticks after close")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := session.Answer("4"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	late, _ := session.Subscribe()
	if ev, ok := <-late; !ok || ev.Type != domain.EventClosed {
		t.Fatalf("late subscriber should get the closed event")
	}
}

func TestCountdownStopsAfterCompletion(t *testing.T) {
	ticks := make(chan time.Time)
	session := startSession(t, threeQuestions()[:1], app.SessionConfig{Rules: rulesWithLimit(3), Ticks: ticks})

	if _, err := session.Answer("4"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	session.Wait()

	select {
	case ticks <- time.Now():
		t.Fatalf("countdown still running after completion")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRealTickerExpiresQuestion(t *testing.T) {
	session := startSession(t, threeQuestions()[:1], app.SessionConfig{Rules: rulesWithLimit(1)})
	events, cancel := session.Subscribe()
	defer cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed before completion")
			}
			if ev.Type == domain.EventCompleted {
				if ev.Final.Score != -5 {
					t.Fatalf("expected timeout penalty, got %+v", ev.Final)
				}
				return
			}
		case <-deadline:
			t.Fatalf("countdown never expired")
		}
	}
}

func TestAnswerGivesNextQuestionFullLimit(t *testing.T) {
	session := startSession(t, threeQuestions()[:2], app.SessionConfig{Rules: rulesWithLimit(1)})
	events, cancel := session.Subscribe()
	defer cancel()

	// answer just before the first tick is due
	time.Sleep(900 * time.Millisecond)
	if _, err := session.AnswerQuestion("q1", "4"); err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	answeredAt := time.Now()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed before completion")
			}
			if ev.Type != domain.EventCompleted {
				continue
			}
			if lasted := time.Since(answeredAt); lasted < 900*time.Millisecond {
				t.Fatalf("second question (limit 1s) timed out after %v", lasted)
			}
			if ev.Final.Score != 5 {
				t.Fatalf("expected 10-5, got %+v", ev.Final)
			}
			return
		case <-deadline:
			t.Fatalf("countdown never expired")
		}
	}
}

// Manual answers race a countdown that expires every tick; each question must
// still be scored exactly once and the score must equal the recorded deltas.
func TestAnswerAndCountdownRaceScoresEachQuestionOnce(t *testing.T) {
	const n = 50
	questions := make([]domain.Question, n)
	for i := range questions {
		questions[i] = domain.Question{
			ID:            fmt.Sprintf("q%d", i),
			Prompt:        fmt.Sprintf("question %d", i),
			Options:       []string{"yes", "no"},
			CorrectAnswer: "yes",
		}
	}

	ticks := make(chan time.Time)
	sink := &recordingSink{}
	session := startSession(t, questions, app.SessionConfig{Rules: rulesWithLimit(1), Answers: sink, Ticks: ticks})

	stopTicks := make(chan struct{})
	go func() {
		for {
			select {
			case ticks <- time.Now():
			case <-stopTicks:
				return
			}
		}
	}()

	for {
		snap := session.Snapshot()
		if snap.State != domain.SessionInProgress || snap.Current == nil {
			break
		}
		_, err := session.AnswerQuestion(snap.Current.ID, "yes")
		if err != nil && !errors.Is(err, domain.ErrStaleAnswer) && !errors.Is(err, domain.ErrSessionAlreadyComplete) {
			t.Fatalf("unexpected answer error: %v", err)
		}
	}
	close(stopTicks)
	session.Wait()

	answers := sink.Answers()
	if len(answers) != n {
		t.Fatalf("expected %d scoring events, got %d", n, len(answers))
	}
	expected := 0
	for i, a := range answers {
		if a.QuestionID != questions[i].ID {
			t.Fatalf("record %d: expected %s, got %s", i, questions[i].ID, a.QuestionID)
		}
		if a.Correct {
			expected += 10
		} else {
			expected -= 5
		}
	}
	final, ok := session.FinalScore()
	if !ok || final.Score != expected {
		t.Fatalf("expected final score %d, got %+v", expected, final)
	}
	if snap := session.Snapshot(); snap.Index != n {
		t.Fatalf("index must stop at %d, got %d", n, snap.Index)
	}
}

func startSession(t *testing.T, questions []domain.Question, cfg app.SessionConfig) *app.Session {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	session, err := app.StartSession(questions, cfg)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return session
}

func rulesWithLimit(seconds int) app.Rules {
	rules := app.DefaultRules()
	rules.PerQuestionSeconds = seconds
	return rules
}

func threeQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: "4"},
		{ID: "q2", Prompt: "Capital of France?", Options: []string{"Berlin", "Paris", "Rome"}, CorrectAnswer: "Paris"},
		{ID: "q3", Prompt: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars"}, CorrectAnswer: "Mars"},
	}
}

type recordingSink struct {
	mu          sync.Mutex
	answers     []domain.AnswerRecord
	scores      []domain.ScoreRecord
	attempts    int
	failAnswers bool
	failScores  int
}

func (s *recordingSink) RecordAnswer(_ context.Context, record domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failAnswers {
		return errors.New("answer store down")
	}
	s.answers = append(s.answers, record)
	return nil
}

func (s *recordingSink) SubmitScore(_ context.Context, record domain.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failScores > 0 {
		s.failScores--
		return errors.New("score store down")
	}
	s.scores = append(s.scores, record)
	return nil
}

func (s *recordingSink) Answers() []domain.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AnswerRecord(nil), s.answers...)
}

func (s *recordingSink) Scores() []domain.ScoreRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ScoreRecord(nil), s.scores...)
}

func (s *recordingSink) answerCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
