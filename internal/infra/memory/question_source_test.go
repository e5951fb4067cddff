package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"timed-quiz-service/internal/domain"
)

func TestQuestionCacheCaches(t *testing.T) {
	static, err := NewStaticQuestionSource(sampleQuestions())
	if err != nil {
		t.Fatalf("static source: %v", err)
	}
	source := &countingSource{StaticQuestionSource: static}
	cache := NewQuestionCache(source, time.Minute)

	if _, err := cache.FetchQuestions(context.Background(), 10); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected source once, got %d", source.calls)
	}

	questions, err := cache.FetchQuestions(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch 2: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected cache hit, source calls %d", source.calls)
	}
	if len(questions) != 2 || questions[0].ID != "q1" {
		t.Fatalf("unexpected questions %+v", questions)
	}
}

func TestQuestionCacheExpires(t *testing.T) {
	static, _ := NewStaticQuestionSource(sampleQuestions())
	source := &countingSource{StaticQuestionSource: static}
	cache := NewQuestionCache(source, time.Minute)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	_, _ = cache.FetchQuestions(context.Background(), 1)
	now = now.Add(2 * time.Minute)
	_, _ = cache.FetchQuestions(context.Background(), 1)
	if source.calls != 2 {
		t.Fatalf("expected reload after expiry, source calls %d", source.calls)
	}
}

func TestStaticSourceHonoursLimit(t *testing.T) {
	static, _ := NewStaticQuestionSource(sampleQuestions())
	questions, err := static.FetchQuestions(context.Background(), 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(questions) != 1 || questions[0].ID != "q1" {
		t.Fatalf("expected first question only, got %+v", questions)
	}
}

func TestStaticSourceRejectsBadQuestions(t *testing.T) {
	_, err := NewStaticQuestionSource([]domain.Question{
		{ID: "q1", Prompt: "p", Options: []string{"a", "b"}, CorrectAnswer: "c"},
	})
	if !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}
}

func TestLoadQuestionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.yaml")
	content := `questions:
  - id: q1
    prompt: "What is 2 + 2?"
    options: ["3", "4"]
    correctAnswer: "4"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	questions, err := LoadQuestionsFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(questions) != 1 || questions[0].CorrectAnswer != "4" {
		t.Fatalf("unexpected questions %+v", questions)
	}
}

type countingSource struct {
	*StaticQuestionSource
	calls int
}

func (s *countingSource) FetchQuestions(ctx context.Context, limit int) ([]domain.Question, error) {
	s.calls++
	return s.StaticQuestionSource.FetchQuestions(ctx, limit)
}

func TestStaticSourceManagesQuestions(t *testing.T) {
	ctx := context.Background()
	source, err := NewStaticQuestionSource(sampleQuestions())
	if err != nil {
		t.Fatalf("static source: %v", err)
	}

	added := domain.Question{ID: "q3", Prompt: "Red Planet?", Options: []string{"Venus", "Mars"}, CorrectAnswer: "Mars"}
	if err := source.CreateQuestion(ctx, added); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := source.CreateQuestion(ctx, added); !errors.Is(err, domain.ErrQuestionExists) {
		t.Fatalf("expected ErrQuestionExists, got %v", err)
	}
	bad := added
	bad.CorrectAnswer = "Pluto"
	if err := source.UpdateQuestion(ctx, bad); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected ErrInvalidQuestion, got %v", err)
	}

	added.Prompt = "Which planet is red?"
	if err := source.UpdateQuestion(ctx, added); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := source.DeleteQuestion(ctx, "q1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := source.DeleteQuestion(ctx, "q1"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}

	list, err := source.ListQuestions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "q2" || list[1].Prompt != "Which planet is red?" {
		t.Fatalf("unexpected bank %+v", list)
	}
}

func TestQuestionCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	static, err := NewStaticQuestionSource(sampleQuestions())
	if err != nil {
		t.Fatalf("static source: %v", err)
	}
	source := &countingSource{StaticQuestionSource: static}
	cache := NewQuestionCache(source, time.Hour)

	if _, err := cache.FetchQuestions(ctx, 5); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.FetchQuestions(ctx, 5); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected reload after invalidate, got %d calls", source.calls)
	}
}
