package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"timed-quiz-service/internal/app"
	"timed-quiz-service/internal/domain"
)

// QuestionCache caches question lists in Redis and falls back to a source on cache miss.
// Lists are stored as JSON: SET questions:list:{limit} [...]
type QuestionCache struct {
	client *redis.Client
	source app.QuestionSource
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCache(client *redis.Client, source app.QuestionSource, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) FetchQuestions(ctx context.Context, limit int) ([]domain.Question, error) {
	key := c.key(limit)
	if questions, ok := c.cached(ctx, key); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := c.cached(ctx, key); ok {
			return questions, nil
		}

		questions, err := c.source.FetchQuestions(ctx, limit)
		if err != nil {
			return nil, err
		}
		if len(questions) == 0 {
			return questions, nil
		}

		data, err := json.Marshal(questions)
		if err != nil {
			return nil, err
		}
		// best-effort: a failed write only costs a reload next time
		_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate drops every cached list, e.g. after seeding new questions.
func (c *QuestionCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "questions:list:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *QuestionCache) cached(ctx context.Context, key string) ([]domain.Question, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(data, &questions); err != nil || len(questions) == 0 {
		return nil, false
	}
	return questions, true
}

func (c *QuestionCache) key(limit int) string {
	return "questions:list:" + strconv.Itoa(limit)
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
