package domain

import "errors"

var (
	// ErrEmptyQuestionSet is returned when a session would start without questions.
	ErrEmptyQuestionSet = errors.New("no questions available")
	// ErrSessionAlreadyComplete is returned when answering a finished session.
	ErrSessionAlreadyComplete = errors.New("quiz session already complete")
	// ErrSessionNotComplete is returned when submitting a score before the last question.
	ErrSessionNotComplete = errors.New("quiz session not complete")
	// ErrAlreadySubmitted guards against recording the same final score twice.
	ErrAlreadySubmitted = errors.New("final score already submitted")
	// ErrSessionClosed is returned once a session has been abandoned.
	ErrSessionClosed = errors.New("quiz session closed")
	// ErrStaleAnswer indicates the answer targeted a question that is no longer current.
	ErrStaleAnswer = errors.New("answer targets a question that is no longer current")
	// ErrSessionNotFound is returned when a quiz session has not been initialized.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrOptionNotFound indicates a submitted option is not part of the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrInvalidQuestion marks question data that fails integrity checks.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrInvalidRules marks unusable scoring or timing configuration.
	ErrInvalidRules = errors.New("invalid quiz rules")
	// ErrQuestionNotFound is returned when editing or deleting an unknown question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrQuestionExists is returned when creating a question whose id is taken.
	ErrQuestionExists = errors.New("question already exists")
	// ErrScoreNotFound is returned when a user has no recorded score yet.
	ErrScoreNotFound = errors.New("score not found")
)
