// internal/matchmaking/queue.go
package matchmaking

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/sirupsen/logrus"
)

// JoinRequest is a player asking to queue their lobby.
type JoinRequest struct {
	PlayerID string
	Role     models.Role
	Type     models.MatchType
	Regions  []string
}

// AddLobbyToQueue puts a lobby with stored details into every region queue it accepts.
func (e *Engine) AddLobbyToQueue(ctx context.Context, lobbyID string) error {
	details, err := e.lobbies.GetLobbyDetails(ctx, lobbyID)
	if err != nil {
		return err
	}
	if details == nil {
		return ErrLobbyNotFound
	}
	if err := e.store.AddToQueues(ctx, lobbyID, details.Type, details.Regions, details.AvgRank); err != nil {
		return err
	}
	if err := e.SendQueueDetailsToLobby(ctx, lobbyID); err != nil {
		e.logger.WithField("lobby", lobbyID).Errorf("failed to send queue details: %v", err)
	}
	return nil
}

// JoinQueue validates a join request, queues the player's lobby and starts a matching
// pass for every region it accepts. Failures come back as *QueueError.
func (e *Engine) JoinQueue(ctx context.Context, req JoinRequest) error {
	requester := []string{req.PlayerID}

	settings, err := e.data.MatchmakingSettings(ctx)
	if err != nil {
		return &QueueError{Reason: ReasonUnknown, PlayerIDs: requester, Err: err}
	}
	if !settings.Enabled {
		return &QueueError{Reason: "Matchmaking is disabled", PlayerIDs: requester}
	}
	if !req.Role.AtLeast(settings.MinRole) {
		return &QueueError{Reason: "You do not have permission to join this queue", PlayerIDs: requester}
	}
	if req.Type == "" || len(req.Regions) == 0 {
		return &QueueError{Reason: "Missing Type or Regions", PlayerIDs: requester}
	}
	roster, ok := e.RosterSize(req.Type)
	if !ok {
		return &QueueError{Reason: "Unknown match type", PlayerIDs: requester, Err: ErrUnknownMatchType}
	}

	regions, err := e.eligibleRegions(ctx, req.Regions)
	if err != nil {
		return &QueueError{Reason: ReasonUnknown, PlayerIDs: requester, Err: err}
	}
	if len(regions) == 0 {
		return &QueueError{Reason: "No eligible regions", PlayerIDs: requester}
	}

	l, err := e.lobbies.GetPlayerLobby(ctx, req.PlayerID)
	if err != nil {
		return &QueueError{Reason: ReasonUnknown, PlayerIDs: requester, Err: err}
	}
	if l == nil {
		return &QueueError{Reason: "Unable to find Player Lobby", PlayerIDs: requester}
	}
	members := l.PlayerIDs()

	if err := e.lobbies.VerifyLobby(ctx, l, req.PlayerID, req.Type, roster); err != nil {
		var verr *lobby.ValidationError
		if errors.As(err, &verr) {
			notify := requester
			if verr.LobbyWide {
				notify = members
			}
			return &QueueError{Reason: verr.Reason, PlayerIDs: notify, Err: err}
		}
		return &QueueError{Reason: ReasonUnknown, PlayerIDs: requester, Err: err}
	}

	// A rejoin may change regions, so leave the old ones first.
	if err := e.lobbies.RemoveLobbyFromQueue(ctx, l.ID); err != nil {
		return &QueueError{Reason: ReasonUnknown, PlayerIDs: members, Err: err}
	}
	if err := e.lobbies.SetLobbyDetails(ctx, regions, req.Type, l); err != nil {
		return &QueueError{Reason: ReasonUnknown, PlayerIDs: members, Err: err}
	}
	if err := e.AddLobbyToQueue(ctx, l.ID); err != nil {
		e.rollbackJoin(ctx, l.ID, req.Type, regions)
		return &QueueError{Reason: ReasonUnknown, PlayerIDs: members, Err: err}
	}

	e.logger.WithFields(logrus.Fields{
		"lobby":   l.ID,
		"player":  req.PlayerID,
		"type":    req.Type,
		"regions": regions,
	}).Info("lobby joined queue")

	if err := e.SendRegionStats(ctx, ""); err != nil {
		e.logger.Errorf("failed to broadcast region stats: %v", err)
	}
	for _, region := range regions {
		e.triggerMatchmake(req.Type, region)
	}
	return nil
}

// rollbackJoin leaves no trace of a join that failed half way.
func (e *Engine) rollbackJoin(ctx context.Context, lobbyID string, t models.MatchType, regions []string) {
	ctx = context.WithoutCancel(ctx)
	entry := e.logger.WithField("lobby", lobbyID)
	if err := e.lobbies.RemoveFromQueues(ctx, lobbyID, t, regions); err != nil {
		entry.Errorf("failed to roll back queue membership: %v", err)
	}
	if err := e.lobbies.RemoveLobbyDetails(ctx, lobbyID); err != nil {
		entry.Errorf("failed to roll back lobby details: %v", err)
	}
}

// eligibleRegions keeps the requested regions that currently have servers, dropping duplicates.
func (e *Engine) eligibleRegions(ctx context.Context, requested []string) ([]string, error) {
	available, err := e.data.ListMatchmakingRegions(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range requested {
		if slices.Contains(available, r) && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// LeaveQueue takes the player's lobby out of every queue. A lobby waiting on a
// confirmation stays in it.
func (e *Engine) LeaveQueue(ctx context.Context, playerID string) error {
	l, err := e.lobbies.GetPlayerLobby(ctx, playerID)
	if err != nil {
		return err
	}
	if l == nil {
		return ErrLobbyNotFound
	}
	if err := e.lobbies.RemoveLobbyFromQueue(ctx, l.ID); err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{"lobby": l.ID, "player": playerID}).Info("lobby left queue")

	if err := e.SendQueueDetailsToLobby(ctx, l.ID); err != nil {
		e.logger.WithField("lobby", l.ID).Errorf("failed to send queue details: %v", err)
	}
	if err := e.SendRegionStats(ctx, ""); err != nil {
		e.logger.Errorf("failed to broadcast region stats: %v", err)
	}
	return nil
}

// PlayerDisconnected starts the grace period after a player's last connection closed.
func (e *Engine) PlayerDisconnected(ctx context.Context, playerID string, grace time.Duration) error {
	return e.jobs.Schedule(ctx, JobMarkPlayerOffline, playerID, grace)
}

// PlayerConnected stops a pending offline job for the player.
func (e *Engine) PlayerConnected(ctx context.Context, playerID string) error {
	return e.jobs.Cancel(ctx, JobMarkPlayerOffline, playerID)
}

// MarkPlayerOffline removes an offline player's lobby from the queues and forgets it.
func (e *Engine) MarkPlayerOffline(ctx context.Context, playerID string) error {
	l, err := e.lobbies.GetPlayerLobby(ctx, playerID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	if err := e.lobbies.RemoveLobbyFromQueue(ctx, l.ID); err != nil {
		return err
	}
	if err := e.lobbies.RemoveLobbyDetails(ctx, l.ID); err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{"lobby": l.ID, "player": playerID}).Info("player went offline, lobby removed from queue")

	if err := e.SendRegionStats(ctx, ""); err != nil {
		e.logger.Errorf("failed to broadcast region stats: %v", err)
	}
	return nil
}
