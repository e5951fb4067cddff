package app

import (
	"time"

	"timed-quiz-service/internal/domain"
)

// runCountdown drives the per-question timer until the session completes or closes.
func (s *Session) runCountdown(ticks <-chan time.Time, release func()) {
	defer s.wg.Done()
	defer release()

	for {
		select {
		case <-s.stop:
			return
		case at, ok := <-ticks:
			if !ok || !s.tick(at) {
				return
			}
		}
	}
}

// tick takes one second off the current question. At zero the question is
// scored as domain.NoAnswer through the same transition as a manual answer.
// It reports whether the countdown should keep running.
func (s *Session) tick(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != domain.SessionInProgress {
		return false
	}
	// fired for a question that was answered while this tick waited for mu
	if s.ticker != nil && at.Before(s.phase) {
		return true
	}

	s.remaining--
	if s.remaining > 0 {
		s.broadcastLocked(domain.SessionEvent{Type: domain.EventTick, Snapshot: s.snapshotLocked()})
		return true
	}

	s.applyLocked(domain.NoAnswer, true)
	return s.state == domain.SessionInProgress
}
