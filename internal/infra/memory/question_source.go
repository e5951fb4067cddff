package memory

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/domain"
)

// QuestionCache caches question lists with TTL to avoid repeated DB hits.
type QuestionCache struct {
	source app.QuestionSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[int]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(source app.QuestionSource, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int]cachedQuestions),
	}
}

func (c *QuestionCache) FetchQuestions(ctx context.Context, limit int) ([]domain.Question, error) {
	if questions, ok := c.lookup(limit); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(strconv.Itoa(limit), func() (interface{}, error) {
		if questions, ok := c.lookup(limit); ok {
			return questions, nil
		}

		questions, err := c.source.FetchQuestions(ctx, limit)
		if err != nil {
			return nil, err
		}
		// an empty list is a valid answer but not worth caching
		if len(questions) > 0 {
			expiresAt := c.clock().Add(c.ttlWithJitter())
			c.mu.Lock()
			c.cache[limit] = cachedQuestions{questions: questions, expiresAt: expiresAt}
			c.mu.Unlock()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops every cached list.
func (c *QuestionCache) Invalidate(context.Context) error {
	c.mu.Lock()
	c.cache = make(map[int]cachedQuestions)
	c.mu.Unlock()
	return nil
}

func (c *QuestionCache) lookup(limit int) ([]domain.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[limit]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return entry.questions, true
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuestionSource serves an in-memory question bank (useful for tests/demos).
type StaticQuestionSource struct {
	mu        sync.RWMutex
	questions []domain.Question
}

// NewStaticQuestionSource validates questions up front; bad data never reaches a session.
func NewStaticQuestionSource(questions []domain.Question) (*StaticQuestionSource, error) {
	if err := domain.ValidateQuestionSet(questions); err != nil {
		return nil, err
	}
	return &StaticQuestionSource{questions: append([]domain.Question(nil), questions...)}, nil
}

func (s *StaticQuestionSource) FetchQuestions(_ context.Context, limit int) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.questions)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Question, n)
	copy(out, s.questions[:n])
	return out, nil
}

func (s *StaticQuestionSource) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	return s.FetchQuestions(ctx, 0)
}

func (s *StaticQuestionSource) CreateQuestion(_ context.Context, q domain.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(q.ID) >= 0 {
		return domain.ErrQuestionExists
	}
	s.questions = append(s.questions, q)
	return nil
}

func (s *StaticQuestionSource) UpdateQuestion(_ context.Context, q domain.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(q.ID)
	if i < 0 {
		return domain.ErrQuestionNotFound
	}
	s.questions[i] = q
	return nil
}

func (s *StaticQuestionSource) DeleteQuestion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.ErrQuestionNotFound
	}
	s.questions = append(s.questions[:i:i], s.questions[i+1:]...)
	return nil
}

func (s *StaticQuestionSource) indexOf(id string) int {
	for i, q := range s.questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// QuestionFile is the YAML layout used for demo and seed question sets.
type QuestionFile struct {
	Questions []domain.Question `yaml:"questions"`
}

// LoadQuestionsFile reads and validates a YAML question set.
func LoadQuestionsFile(path string) ([]domain.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file QuestionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse questions file: %w", err)
	}
	if err := domain.ValidateQuestionSet(file.Questions); err != nil {
		return nil, err
	}
	return file.Questions, nil
}
