// internal/matchmaking/grouping.go
package matchmaking

import (
	"math"
	"slices"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/models"
)

// Priority weights. Rank dominates; relative wait breaks near ties.
const (
	rankWeight = 0.7
	waitWeight = 0.3
)

// Team is a side being assembled during a pass.
type Team struct {
	Players []string
	Lobbies []string
	AvgRank float64
}

func (t *Team) add(l *models.QueuedLobby) {
	t.Players = append(t.Players, l.Players...)
	t.Lobbies = append(t.Lobbies, l.LobbyID)
	n := float64(len(t.Lobbies))
	t.AvgRank = (t.AvgRank*(n-1) + float64(l.AvgRank)) / n
}

func waited(l *models.QueuedLobby, now time.Time) time.Duration {
	w := now.Sub(l.JoinedAt)
	if w < 0 {
		return 0
	}
	return w
}

// sortByPriority orders lobbies by descending 0.7*rank + 0.3*(wait/maxWait).
// Equal priorities keep their queue order.
func sortByPriority(lobbies []*models.QueuedLobby, now time.Time) {
	var maxWait time.Duration
	for _, l := range lobbies {
		maxWait = max(maxWait, waited(l, now))
	}
	priority := make(map[string]float64, len(lobbies))
	for _, l := range lobbies {
		norm := 0.0
		if maxWait > 0 {
			norm = float64(waited(l, now)) / float64(maxWait)
		}
		priority[l.LobbyID] = rankWeight*float64(l.AvgRank) + waitWeight*norm
	}
	slices.SortStableFunc(lobbies, func(a, b *models.QueuedLobby) int {
		pa, pb := priority[a.LobbyID], priority[b.LobbyID]
		switch {
		case pa > pb:
			return -1
		case pa < pb:
			return 1
		}
		return 0
	})
}

// tolerance is the widest rank gap a group accepts once its oldest lobby has waited w.
func tolerance(step int, w time.Duration) int {
	return step * (int(w/time.Minute) + 1)
}

// groupByTolerance splits sorted lobbies into runs whose ranks sit within the
// tolerance of the run's first lobby. A lobby that falls outside closes the run
// and anchors the next one.
func groupByTolerance(sorted []*models.QueuedLobby, now time.Time, step int) [][]*models.QueuedLobby {
	var groups [][]*models.QueuedLobby
	var current []*models.QueuedLobby
	var oldest time.Duration

	for _, l := range sorted {
		if len(current) == 0 {
			current = []*models.QueuedLobby{l}
			oldest = waited(l, now)
			continue
		}
		gap := int(math.Abs(float64(l.AvgRank - current[0].AvgRank)))
		if gap <= tolerance(step, oldest) {
			current = append(current, l)
			oldest = max(oldest, waited(l, now))
			continue
		}
		groups = append(groups, current)
		current = []*models.QueuedLobby{l}
		oldest = waited(l, now)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func playerCount(lobbies []*models.QueuedLobby) int {
	n := 0
	for _, l := range lobbies {
		n += len(l.Players)
	}
	return n
}
