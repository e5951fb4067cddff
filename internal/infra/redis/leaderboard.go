package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"timed-quiz-service/internal/domain"
)

const (
	leaderboardScoresKey  = "leaderboard:scores"
	leaderboardEntriesKey = "leaderboard:entries"
)

// Leaderboard keeps the best session scores in a sorted set:
//
//	ZADD leaderboard:scores {score} {sessionID}
//	HSET leaderboard:entries {sessionID} {json ScoreRecord}
//
// Only the top size sessions are retained. Equal scores come back in reverse
// lexicographic session ID order, as ZREVRANGE returns them.
type Leaderboard struct {
	client *redis.Client
	size   int64
}

func NewLeaderboard(client *redis.Client, size int) *Leaderboard {
	return &Leaderboard{client: client, size: int64(size)}
}

// SubmitScore adds a completed session. Resubmitting a session is a no-op.
func (l *Leaderboard) SubmitScore(ctx context.Context, record domain.ScoreRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := l.client.HSetNX(ctx, leaderboardEntriesKey, record.SessionID, data).Err(); err != nil {
		return fmt.Errorf("store leaderboard entry: %w", err)
	}
	// NX keeps the first score, so a retry after a partial failure still ranks the session
	if err := l.client.ZAddNX(ctx, leaderboardScoresKey, redis.Z{
		Score:  float64(record.Score),
		Member: record.SessionID,
	}).Err(); err != nil {
		return fmt.Errorf("rank leaderboard entry: %w", err)
	}
	return l.trim(ctx)
}

func (l *Leaderboard) TopScores(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	members, err := l.client.ZRevRange(ctx, leaderboardScoresKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	if len(members) == 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	raw, err := l.client.HMGet(ctx, leaderboardEntriesKey, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard entries: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, value := range raw {
		str, ok := value.(string)
		if !ok {
			continue
		}
		var record domain.ScoreRecord
		if err := json.Unmarshal([]byte(str), &record); err != nil {
			continue
		}
		entries = append(entries, domain.NewLeaderboardEntry(len(entries)+1, record))
	}
	return entries, nil
}

func (l *Leaderboard) trim(ctx context.Context) error {
	if l.size <= 0 {
		return nil
	}
	count, err := l.client.ZCard(ctx, leaderboardScoresKey).Result()
	if err != nil || count <= l.size {
		return err
	}
	evicted, err := l.client.ZRange(ctx, leaderboardScoresKey, 0, count-l.size-1).Result()
	if err != nil || len(evicted) == 0 {
		return err
	}
	members := make([]interface{}, len(evicted))
	for i, m := range evicted {
		members[i] = m
	}
	pipe := l.client.TxPipeline()
	pipe.ZRem(ctx, leaderboardScoresKey, members...)
	pipe.HDel(ctx, leaderboardEntriesKey, evicted...)
	_, err = pipe.Exec(ctx)
	return err
}
