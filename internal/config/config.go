package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"timed-quiz-service/internal/app"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz QuizConfig `yaml:"quiz"`
}

// QuizConfig controls how playthroughs are built and scored.
type QuizConfig struct {
	QuestionTTL        string `yaml:"questionTtl"`
	QuestionsFile      string `yaml:"questionsFile"`
	QuestionLimit      int    `yaml:"questionLimit"`
	Shuffle            bool   `yaml:"shuffle"`
	PerQuestionSeconds int    `yaml:"perQuestionSeconds"`
	CorrectPoints      *int   `yaml:"correctPoints"`
	IncorrectPoints    *int   `yaml:"incorrectPoints"`
	AutoSubmit         *bool  `yaml:"autoSubmit"`
	SinkTimeout        string `yaml:"sinkTimeout"`
	LeaderboardSize    int    `yaml:"leaderboardSize"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Rules returns the scoring rules, falling back to app.DefaultRules for unset fields.
// Points are pointers so an explicit 0 is kept.
func (q QuizConfig) Rules() app.Rules {
	rules := app.DefaultRules()
	if q.PerQuestionSeconds > 0 {
		rules.PerQuestionSeconds = q.PerQuestionSeconds
	}
	if q.CorrectPoints != nil {
		rules.CorrectPoints = *q.CorrectPoints
	}
	if q.IncorrectPoints != nil {
		rules.IncorrectPoints = *q.IncorrectPoints
	}
	rules.SinkTimeout = TTLDuration(q.SinkTimeout, rules.SinkTimeout)
	return rules
}

// AutoSubmitEnabled defaults to true: the final score is saved as soon as the last question is scored.
func (q QuizConfig) AutoSubmitEnabled() bool {
	return q.AutoSubmit == nil || *q.AutoSubmit
}

func (q QuizConfig) Limit() int {
	if q.QuestionLimit <= 0 {
		return 10
	}
	return q.QuestionLimit
}

func (q QuizConfig) LeaderboardCap() int {
	if q.LeaderboardSize <= 0 {
		return 100
	}
	return q.LeaderboardSize
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
