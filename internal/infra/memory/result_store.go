package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"timed-quiz-service/internal/domain"
)

// ResultStore keeps answers and scores in process memory. It implements every
// sink and reader the quiz service needs, so the service runs without a database.
type ResultStore struct {
	mu      sync.RWMutex
	answers []domain.AnswerRecord
	scores  []domain.ScoreRecord
	seen    map[string]struct{}
}

func NewResultStore() *ResultStore {
	return &ResultStore{seen: make(map[string]struct{})}
}

func (s *ResultStore) RecordAnswer(_ context.Context, record domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, record)
	return nil
}

// SubmitScore stores the score once per session; repeats are ignored.
func (s *ResultStore) SubmitScore(_ context.Context, record domain.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[record.SessionID]; dup {
		return nil
	}
	s.seen[record.SessionID] = struct{}{}
	s.scores = append(s.scores, record)
	return nil
}

func (s *ResultStore) TopScores(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	scores := make([]domain.ScoreRecord, len(s.scores))
	copy(scores, s.scores)
	s.mu.RUnlock()

	// score desc, then whoever got there first
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].CompletedAt.Before(scores[j].CompletedAt)
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for i, r := range scores {
		entries = append(entries, domain.NewLeaderboardEntry(i+1, r))
	}
	return entries, nil
}

func (s *ResultStore) LatestScore(_ context.Context, userID string) (domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.ScoreRecord
	for i := range s.scores {
		r := &s.scores[i]
		if r.UserID != userID {
			continue
		}
		if latest == nil || !r.CompletedAt.Before(latest.CompletedAt) {
			latest = r
		}
	}
	if latest == nil {
		return domain.ScoreRecord{}, domain.ErrScoreNotFound
	}
	return *latest, nil
}

func (s *ResultStore) QuestionStats(_ context.Context, from, to time.Time) ([]domain.QuestionStats, error) {
	s.mu.RLock()
	byQuestion := make(map[string]*domain.QuestionStats)
	for _, a := range s.answers {
		if !from.IsZero() && a.AnsweredAt.Before(from) {
			continue
		}
		if !to.IsZero() && a.AnsweredAt.After(to) {
			continue
		}
		st, ok := byQuestion[a.QuestionID]
		if !ok {
			st = &domain.QuestionStats{QuestionID: a.QuestionID}
			byQuestion[a.QuestionID] = st
		}
		st.TotalAttempts++
		if a.Correct {
			st.CorrectAttempts++
		}
		if a.TimedOut {
			st.Timeouts++
		}
	}
	s.mu.RUnlock()

	stats := make([]domain.QuestionStats, 0, len(byQuestion))
	for _, st := range byQuestion {
		st.ComputeRate()
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalAttempts != stats[j].TotalAttempts {
			return stats[i].TotalAttempts > stats[j].TotalAttempts
		}
		return stats[i].QuestionID < stats[j].QuestionID
	})
	return stats, nil
}

// Answers returns a copy of every recorded answer.
func (s *ResultStore) Answers() []domain.AnswerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AnswerRecord, len(s.answers))
	copy(out, s.answers)
	return out
}

// Scores returns a copy of every recorded score.
func (s *ResultStore) Scores() []domain.ScoreRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ScoreRecord, len(s.scores))
	copy(out, s.scores)
	return out
}
