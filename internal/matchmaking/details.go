// internal/matchmaking/details.go
package matchmaking

import (
	"context"
	"slices"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/notify"
)

// QueueDetails is the matchmaking:details payload. A player that is not queued gets null.
type QueueDetails struct {
	LobbyID      string              `json:"lobbyId"`
	Type         models.MatchType    `json:"type"`
	Regions      []string            `json:"regions"`
	JoinedAt     time.Time           `json:"joinedAt"`
	Confirmation *ConfirmationStatus `json:"confirmation,omitempty"`
}

// ConfirmationStatus is the part of a confirmation a waiting player sees.
type ConfirmationStatus struct {
	ID        string    `json:"confirmationId"`
	Region    string    `json:"region"`
	ExpiresAt time.Time `json:"expiresAt"`
	MatchID   string    `json:"matchId,omitempty"`
	Confirmed []string  `json:"confirmed"`
	Players   int       `json:"players"`
}

// RegionStats maps region to match type to queued lobbies.
type RegionStats map[string]map[models.MatchType]int64

// SendQueueDetailsToLobby pushes the lobby's queue status to each of its members.
func (e *Engine) SendQueueDetailsToLobby(ctx context.Context, lobbyID string) error {
	details, err := e.lobbies.GetLobbyDetails(ctx, lobbyID)
	if err != nil {
		return err
	}
	if details == nil {
		return nil
	}

	payload := &QueueDetails{
		LobbyID:  details.LobbyID,
		Type:     details.Type,
		Regions:  details.Regions,
		JoinedAt: details.JoinedAt,
	}
	if details.ConfirmationID != "" {
		c, err := e.store.LoadConfirmation(ctx, details.ConfirmationID)
		if err != nil {
			return err
		}
		if c != nil {
			payload.Confirmation = &ConfirmationStatus{
				ID:        c.ID,
				Region:    c.Region,
				ExpiresAt: c.ExpiresAt,
				MatchID:   c.MatchID,
				Confirmed: c.Confirmed,
				Players:   c.Required(),
			}
		}
	}

	e.sendDetailsToPlayers(ctx, details.Players, payload)
	return nil
}

func (e *Engine) sendDetailsToLobbies(ctx context.Context, c *Confirmation) {
	for _, lobbyID := range c.LobbyIDs {
		if err := e.SendQueueDetailsToLobby(ctx, lobbyID); err != nil {
			c.log(e.logger).WithField("lobby", lobbyID).Errorf("failed to send queue details: %v", err)
		}
	}
}

func (e *Engine) sendDetailsToPlayers(ctx context.Context, players []string, payload *QueueDetails) {
	for _, p := range players {
		if err := e.notifier.SendToPlayer(ctx, p, notify.EventDetails, payload); err != nil {
			e.logger.WithField("player", p).Errorf("failed to push queue details: %v", err)
		}
	}
}

// RegionStats counts the queued lobbies per matchmaking region and match type.
func (e *Engine) RegionStats(ctx context.Context) (RegionStats, error) {
	regions, err := e.data.ListMatchmakingRegions(ctx)
	if err != nil {
		return nil, err
	}
	types := make([]models.MatchType, 0, len(e.cfg.Rosters))
	for t := range e.cfg.Rosters {
		types = append(types, t)
	}
	slices.Sort(types)

	stats := make(RegionStats, len(regions))
	for _, region := range regions {
		counts := make(map[models.MatchType]int64, len(types))
		for _, t := range types {
			n, err := e.store.QueueDepth(ctx, t, region)
			if err != nil {
				return nil, err
			}
			counts[t] = n
		}
		stats[region] = counts
	}
	return stats, nil
}

// SendRegionStats sends the region stats to one player, or to everyone when playerID is empty.
func (e *Engine) SendRegionStats(ctx context.Context, playerID string) error {
	stats, err := e.RegionStats(ctx)
	if err != nil {
		return err
	}
	if playerID != "" {
		return e.notifier.SendToPlayer(ctx, playerID, notify.EventRegionStats, stats)
	}
	return e.notifier.Broadcast(ctx, notify.EventRegionStats, stats)
}
