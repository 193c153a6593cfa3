// internal/matchmaking/matcher.go
package matchmaking

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/sirupsen/logrus"
)

// Matchmake runs matching passes over one region queue until a pass forms no match,
// another instance holds the region, or MaxPasses is reached.
func (e *Engine) Matchmake(ctx context.Context, t models.MatchType, region string) error {
	roster, ok := e.RosterSize(t)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMatchType, t)
	}

	for pass := 0; pass < e.cfg.MaxPasses; pass++ {
		created, ran, err := e.matchPass(ctx, t, region, roster)
		if err != nil {
			return err
		}
		if !ran || created == 0 {
			return nil
		}
	}

	e.logger.WithFields(logrus.Fields{"type": t, "region": region}).
		Warnf("matchmaking stopped after %d passes", e.cfg.MaxPasses)
	return nil
}

// matchPass runs one pass under the region lock. ran is false when another pass held the lock.
func (e *Engine) matchPass(ctx context.Context, t models.MatchType, region string, roster int) (created int, ran bool, err error) {
	locked, err := e.acquireRegionLock(ctx, t, region)
	if err != nil {
		return 0, false, err
	}
	if !locked {
		e.logger.WithFields(logrus.Fields{"type": t, "region": region}).Debug("region already being matched")
		return 0, false, nil
	}
	defer func() {
		if rerr := e.releaseRegionLock(context.WithoutCancel(ctx), t, region); rerr != nil {
			e.logger.WithFields(logrus.Fields{"type": t, "region": region}).Errorf("failed to release region lock: %v", rerr)
		}
	}()
	passesRun.WithLabelValues(string(t), region).Inc()

	entries, err := e.store.RankQueue(ctx, t, region)
	if err != nil {
		return 0, true, err
	}

	// excluded holds lobbies this pass must not touch again: locked elsewhere, stale,
	// or already handed to a confirmation.
	excluded := make(map[string]bool)
	var open []*models.QueuedLobby

	for _, entry := range entries {
		details, err := e.lobbies.GetLobbyDetails(ctx, entry.LobbyID)
		if err != nil {
			return created, true, err
		}
		if details == nil {
			e.dropOrphan(ctx, t, region, entry.LobbyID)
			continue
		}
		if details.ConfirmationID != "" {
			continue
		}

		if len(details.Players) != roster {
			open = append(open, details)
			continue
		}

		ok, err := e.selfMatch(ctx, t, region, details)
		if err != nil {
			return created, true, err
		}
		if ok {
			created++
		}
		excluded[details.LobbyID] = true
	}

	sortByPriority(open, e.now())
	for _, group := range groupByTolerance(open, e.now(), e.cfg.RankStep) {
		n, err := e.packGroup(ctx, t, region, roster, group, excluded)
		created += n
		if err != nil {
			return created, true, err
		}
	}
	return created, true, nil
}

// dropOrphan removes a queue entry whose lobby details have expired.
func (e *Engine) dropOrphan(ctx context.Context, t models.MatchType, region, lobbyID string) {
	ok, err := e.acquireLobbyLock(ctx, lobbyID)
	if err != nil || !ok {
		return
	}
	if err := e.lobbies.RemoveFromQueues(ctx, lobbyID, t, []string{region}); err != nil {
		e.logger.WithField("lobby", lobbyID).Errorf("failed to drop orphaned queue entry: %v", err)
	}
	_ = e.releaseLobbyLock(ctx, lobbyID, 0)
}

// claim takes the lobby's lock and confirms it is still queued in the region.
// A lobby that left since the snapshot is released again.
func (e *Engine) claim(ctx context.Context, t models.MatchType, region, lobbyID string) (bool, error) {
	ok, err := e.acquireLobbyLock(ctx, lobbyID)
	if err != nil || !ok {
		return false, err
	}
	queued, err := e.store.InRankQueue(ctx, t, region, lobbyID)
	if err != nil || !queued {
		if rerr := e.releaseLobbyLock(ctx, lobbyID, 0); rerr != nil {
			e.logger.WithField("lobby", lobbyID).Errorf("failed to release lobby lock: %v", rerr)
		}
		return false, err
	}
	return true, nil
}

// selfMatch turns a full lobby into a match of its own by splitting its members at random.
func (e *Engine) selfMatch(ctx context.Context, t models.MatchType, region string, l *models.QueuedLobby) (bool, error) {
	ok, err := e.claim(ctx, t, region, l.LobbyID)
	if err != nil || !ok {
		return false, err
	}

	players := append([]string(nil), l.Players...)
	e.shuffle(len(players), func(i, j int) { players[i], players[j] = players[j], players[i] })
	half := len(players) / 2

	team1 := &Team{Players: players[:half], Lobbies: []string{l.LobbyID}, AvgRank: float64(l.AvgRank)}
	team2 := &Team{Players: players[half:], Lobbies: []string{l.LobbyID}, AvgRank: float64(l.AvgRank)}

	if _, err := e.CreateConfirmation(ctx, t, region, team1, team2); err != nil {
		return false, err
	}
	return true, nil
}

// packGroup forms as many matches as it can from one tolerance group. Each attempt
// walks the candidates placing whole lobbies into team1, or team2 when team1 has no
// room. A full pairing becomes a confirmation and the rest are tried again; a failed
// attempt drops its first candidate, so every attempt works on a smaller set.
func (e *Engine) packGroup(ctx context.Context, t models.MatchType, region string, roster int, group []*models.QueuedLobby, excluded map[string]bool) (int, error) {
	half := roster / 2
	created := 0
	candidates := remaining(group, excluded)

	for len(candidates) > 0 && playerCount(candidates) >= roster {
		team1, team2 := &Team{}, &Team{}
		var placed []string

		for _, l := range candidates {
			if len(team1.Players) == half && len(team2.Players) == half {
				break
			}
			if excluded[l.LobbyID] {
				continue
			}
			size := len(l.Players)
			var side *Team
			switch {
			case len(team1.Players)+size <= half:
				side = team1
			case len(team2.Players)+size <= half:
				side = team2
			default:
				continue
			}

			ok, err := e.claim(ctx, t, region, l.LobbyID)
			if err != nil {
				e.releaseAll(ctx, placed)
				return created, err
			}
			if !ok {
				excluded[l.LobbyID] = true
				continue
			}
			side.add(l)
			placed = append(placed, l.LobbyID)
		}

		if len(team1.Players) == half && len(team2.Players) == half {
			if _, err := e.CreateConfirmation(ctx, t, region, team1, team2); err != nil {
				return created, err
			}
			created++
			for _, id := range placed {
				excluded[id] = true
			}
			candidates = remaining(candidates, excluded)
			continue
		}

		e.releaseAll(ctx, placed)
		candidates = remaining(candidates[1:], excluded)
	}
	return created, nil
}

func (e *Engine) releaseAll(ctx context.Context, lobbyIDs []string) {
	for _, id := range lobbyIDs {
		if err := e.releaseLobbyLock(ctx, id, 0); err != nil {
			e.logger.WithField("lobby", id).Errorf("failed to release lobby lock: %v", err)
		}
	}
}

func remaining(lobbies []*models.QueuedLobby, excluded map[string]bool) []*models.QueuedLobby {
	out := make([]*models.QueuedLobby, 0, len(lobbies))
	for _, l := range lobbies {
		if !excluded[l.LobbyID] {
			out = append(out, l)
		}
	}
	return out
}
