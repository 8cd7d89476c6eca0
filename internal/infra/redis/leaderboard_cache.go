// Package redis projects session state into Redis for cross-process
// readers: a sorted-set leaderboard per quiz plus session liveness
// markers. All writes are best-effort from the coordinator's point of
// view.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quizlive/internal/domain"
)

// LeaderboardCache mirrors each quiz's ranking into a ZSET
// (member=player id, score=points) and player names into a hash.
type LeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{client: client, ttl: ttl}
}

func (c *LeaderboardCache) StoreLeaderboard(ctx context.Context, lb domain.Leaderboard) error {
	boardKey := c.boardKey(lb.QuizID)
	namesKey := c.namesKey(lb.QuizID)

	pipe := c.client.Pipeline()
	pipe.Del(ctx, boardKey)
	for _, entry := range lb.Entries {
		pipe.ZAdd(ctx, boardKey, redis.Z{Score: float64(entry.Score), Member: entry.PlayerID})
		pipe.HSet(ctx, namesKey, entry.PlayerID, entry.Name)
	}
	if c.ttl > 0 {
		pipe.Expire(ctx, boardKey, c.ttl)
		pipe.Expire(ctx, namesKey, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Leaderboard reads the cached ranking, highest score first. Tie order
// within equal scores follows redis member ordering and is only used
// by out-of-process tooling; the session's own board is authoritative.
func (c *LeaderboardCache) Leaderboard(ctx context.Context, quizID string, limit int) (domain.Leaderboard, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := c.client.ZRevRangeWithScores(ctx, c.boardKey(quizID), 0, stop).Result()
	if err != nil {
		return domain.Leaderboard{}, err
	}
	names, err := c.client.HGetAll(ctx, c.namesKey(quizID)).Result()
	if err != nil {
		return domain.Leaderboard{}, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, m := range members {
		playerID, _ := m.Member.(string)
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: playerID,
			Name:     names[playerID],
			Score:    int(m.Score),
		})
	}
	return domain.Leaderboard{QuizID: quizID, Entries: entries}, nil
}

func (c *LeaderboardCache) MarkLive(ctx context.Context, quizID string) error {
	return c.client.Set(ctx, c.liveKey(quizID), strconv.FormatInt(time.Now().Unix(), 10), c.ttl).Err()
}

func (c *LeaderboardCache) Remove(ctx context.Context, quizID string) error {
	return c.client.Del(ctx, c.boardKey(quizID), c.namesKey(quizID), c.liveKey(quizID)).Err()
}

func (c *LeaderboardCache) boardKey(quizID string) string {
	return "quiz:" + quizID + ":leaderboard"
}

func (c *LeaderboardCache) namesKey(quizID string) string {
	return "quiz:" + quizID + ":names"
}

func (c *LeaderboardCache) liveKey(quizID string) string {
	return "quiz:session:" + quizID
}
