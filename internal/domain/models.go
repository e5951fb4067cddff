package domain

import (
	"fmt"
	"math"
	"time"
)

// NoAnswer is the selection recorded when the countdown runs out.
const NoAnswer = ""

// Question models an MCQ question. CorrectAnswer holds the option value, not its index.
type Question struct {
	ID            string   `json:"id" yaml:"id"`
	Prompt        string   `json:"prompt" yaml:"prompt"`
	Options       []string `json:"options" yaml:"options"`
	CorrectAnswer string   `json:"correctAnswer" yaml:"correctAnswer"`
}

// Validate checks that the question can be scored.
func (q Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidQuestion)
	}
	if q.Prompt == "" {
		return fmt.Errorf("%w: question %s has no prompt", ErrInvalidQuestion, q.ID)
	}
	if len(q.Options) == 0 {
		return fmt.Errorf("%w: question %s has no options", ErrInvalidQuestion, q.ID)
	}
	seen := make(map[string]struct{}, len(q.Options))
	for _, opt := range q.Options {
		if opt == NoAnswer {
			return fmt.Errorf("%w: question %s has an empty option", ErrInvalidQuestion, q.ID)
		}
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("%w: question %s repeats option %q", ErrInvalidQuestion, q.ID, opt)
		}
		seen[opt] = struct{}{}
	}
	if _, ok := seen[q.CorrectAnswer]; !ok {
		return fmt.Errorf("%w: question %s correct answer %q is not an option", ErrInvalidQuestion, q.ID, q.CorrectAnswer)
	}
	return nil
}

// HasOption reports whether value is one of the question's options.
func (q Question) HasOption(value string) bool {
	for _, opt := range q.Options {
		if opt == value {
			return true
		}
	}
	return false
}

// View strips the correct answer so the question can be sent to players.
func (q Question) View() QuestionView {
	options := make([]string, len(q.Options))
	copy(options, q.Options)
	return QuestionView{ID: q.ID, Prompt: q.Prompt, Options: options}
}

// ValidateQuestionSet validates every question and rejects duplicate IDs.
func ValidateQuestionSet(questions []Question) error {
	ids := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return err
		}
		if _, dup := ids[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %s", ErrInvalidQuestion, q.ID)
		}
		ids[q.ID] = struct{}{}
	}
	return nil
}

// QuestionView is the player-facing form of a question.
type QuestionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// SessionState is the lifecycle state of a quiz session.
type SessionState string

const (
	SessionInProgress SessionState = "in_progress"
	SessionCompleted  SessionState = "completed"
)

// SessionSnapshot is a read-only copy of a session's progress.
type SessionSnapshot struct {
	SessionID        string        `json:"sessionId"`
	UserID           string        `json:"userId"`
	State            SessionState  `json:"state"`
	Index            int           `json:"index"`
	Total            int           `json:"total"`
	Score            int           `json:"score"`
	RemainingSeconds int           `json:"remainingSeconds"`
	Current          *QuestionView `json:"current,omitempty"`
}

// AnswerOutcome summarizes one scoring transition.
type AnswerOutcome struct {
	QuestionID string `json:"questionId"`
	Selected   string `json:"selected"`
	Correct    bool   `json:"correct"`
	TimedOut   bool   `json:"timedOut"`
	Awarded    int    `json:"awarded"`
	TotalScore int    `json:"totalScore"`
	Completed  bool   `json:"completed"`
}

// AnswerRecord is what the answer sink persists for each scored question.
type AnswerRecord struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	QuestionID string    `json:"questionId"`
	Selected   string    `json:"selected"`
	Correct    bool      `json:"correct"`
	TimedOut   bool      `json:"timedOut"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// ScoreRecord is the final result of a completed session.
type ScoreRecord struct {
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	MaxScore       int       `json:"maxScore"`
	CompletedAt    time.Time `json:"completedAt"`
}

// Percentage is the score relative to the best possible score, rounded to one decimal.
func (r ScoreRecord) Percentage() float64 {
	if r.MaxScore <= 0 {
		return 0
	}
	return math.Round(float64(r.Score)*1000/float64(r.MaxScore)) / 10
}

// EventType names the kind of a SessionEvent.
type EventType string

const (
	EventTick      EventType = "tick"
	EventAnswer    EventType = "answer"
	EventCompleted EventType = "completed"
	EventClosed    EventType = "closed"
)

// SessionEvent is broadcast to session subscribers after every state change.
type SessionEvent struct {
	Type     EventType       `json:"type"`
	Snapshot SessionSnapshot `json:"snapshot"`
	Answer   *AnswerOutcome  `json:"answer,omitempty"`
	Final    *ScoreRecord    `json:"final,omitempty"`
}

// LeaderboardEntry is one row of the top scores view.
type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	Percentage     float64   `json:"percentage"`
	CompletedAt    time.Time `json:"completedAt"`
}

// NewLeaderboardEntry builds a ranked entry from a score record.
func NewLeaderboardEntry(rank int, r ScoreRecord) LeaderboardEntry {
	return LeaderboardEntry{
		Rank:           rank,
		SessionID:      r.SessionID,
		UserID:         r.UserID,
		Score:          r.Score,
		TotalQuestions: r.TotalQuestions,
		Percentage:     r.Percentage(),
		CompletedAt:    r.CompletedAt,
	}
}

// QuestionStats aggregates recorded answers for one question.
type QuestionStats struct {
	QuestionID      string  `json:"questionId"`
	TotalAttempts   int     `json:"totalAttempts"`
	CorrectAttempts int     `json:"correctAttempts"`
	Timeouts        int     `json:"timeouts"`
	SuccessRate     float64 `json:"successRate"`
}

// ComputeRate fills SuccessRate from the attempt counters.
func (s *QuestionStats) ComputeRate() {
	if s.TotalAttempts == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = math.Round(float64(s.CorrectAttempts)*1000/float64(s.TotalAttempts)) / 10
}
