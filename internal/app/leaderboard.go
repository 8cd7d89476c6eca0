package app

import (
	"sort"

	"quizlive/internal/domain"
)

// leaderboardLocked recomputes the full ranking from the player set
// rather than patching a maintained delta, so the board can never
// drift from ground truth. Order: score descending, ties broken by
// join order (earlier join ranks higher). limit <= 0 returns the
// uncapped board.
func (s *session) leaderboardLocked(limit int) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(s.players))
	seq := make(map[string]int, len(s.players))
	for _, p := range s.players {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
		})
		seq[p.ID] = p.JoinSeq
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return seq[entries[i].PlayerID] < seq[entries[j].PlayerID]
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return domain.Leaderboard{
		QuizID:    s.quizID,
		Entries:   entries,
		UpdatedAt: s.now(),
	}
}
