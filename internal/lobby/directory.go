// internal/lobby/directory.go
package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/redis/go-redis/v9"
)

// DetailsTTL is how long a lobby's queue details survive without a write.
const DetailsTTL = 24 * time.Hour

// Roster resolves a player to the lobby they are currently in.
type Roster interface {
	GetPlayerLobby(ctx context.Context, playerID string) (*models.Lobby, error)
}

// Directory is the matchmaker's view of lobbies: membership comes from the Roster,
// the denormalized queue copy lives in redis keyed by lobby id.
type Directory struct {
	rdb    *redis.Client
	roster Roster
	now    func() time.Time
}

// NewDirectory creates a Directory over the shared queue store.
func NewDirectory(rdb *redis.Client, roster Roster) *Directory {
	return &Directory{
		rdb:    rdb,
		roster: roster,
		now:    time.Now,
	}
}

// GetPlayerLobby returns the player's current lobby, or nil if the player is unknown.
func (d *Directory) GetPlayerLobby(ctx context.Context, playerID string) (*models.Lobby, error) {
	return d.roster.GetPlayerLobby(ctx, playerID)
}

// SetLobbyDetails writes the lobby's queue details, resetting its wait clock and
// clearing any stale confirmation tag.
func (d *Directory) SetLobbyDetails(ctx context.Context, regions []string, t models.MatchType, lobby *models.Lobby) error {
	players, err := json.Marshal(lobby.PlayerIDs())
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	regionsJSON, err := json.Marshal(regions)
	if err != nil {
		return fmt.Errorf("marshal regions: %w", err)
	}

	key := cache.LobbyDetailsKey(lobby.ID)
	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, key, "confirmationId")
		pipe.HSet(ctx, key, map[string]interface{}{
			"players":  string(players),
			"type":     string(t),
			"regions":  string(regionsJSON),
			"avgRank":  lobby.AverageRank(),
			"joinedAt": d.now().UnixMilli(),
		})
		pipe.Expire(ctx, key, DetailsTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set details for lobby %s: %w", lobby.ID, err)
	}
	return nil
}

// GetLobbyDetails returns the lobby's queue details, or nil if it has none.
func (d *Directory) GetLobbyDetails(ctx context.Context, lobbyID string) (*models.QueuedLobby, error) {
	fields, err := d.rdb.HGetAll(ctx, cache.LobbyDetailsKey(lobbyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read details for lobby %s: %w", lobbyID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseDetails(lobbyID, fields)
}

func parseDetails(lobbyID string, fields map[string]string) (*models.QueuedLobby, error) {
	q := &models.QueuedLobby{
		LobbyID:        lobbyID,
		Type:           models.MatchType(fields["type"]),
		ConfirmationID: fields["confirmationId"],
	}
	if err := json.Unmarshal([]byte(fields["players"]), &q.Players); err != nil {
		return nil, fmt.Errorf("lobby %s has malformed players: %w", lobbyID, err)
	}
	if err := json.Unmarshal([]byte(fields["regions"]), &q.Regions); err != nil {
		return nil, fmt.Errorf("lobby %s has malformed regions: %w", lobbyID, err)
	}
	rank, err := strconv.Atoi(fields["avgRank"])
	if err != nil {
		return nil, fmt.Errorf("lobby %s has malformed avgRank: %w", lobbyID, err)
	}
	q.AvgRank = rank
	joined, err := strconv.ParseInt(fields["joinedAt"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lobby %s has malformed joinedAt: %w", lobbyID, err)
	}
	q.JoinedAt = time.UnixMilli(joined)
	return q, nil
}

// RemoveLobbyFromQueue takes the lobby out of every region queue of its match type.
// The details themselves are kept.
func (d *Directory) RemoveLobbyFromQueue(ctx context.Context, lobbyID string) error {
	details, err := d.GetLobbyDetails(ctx, lobbyID)
	if err != nil {
		return err
	}
	if details == nil {
		return nil
	}
	return d.RemoveFromQueues(ctx, lobbyID, details.Type, details.Regions)
}

// RemoveFromQueues takes the lobby out of the named region queues.
func (d *Directory) RemoveFromQueues(ctx context.Context, lobbyID string, t models.MatchType, regions []string) error {
	_, err := d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, region := range regions {
			pipe.ZRem(ctx, cache.RankQueueKey(t, region), lobbyID)
			pipe.ZRem(ctx, cache.PresenceQueueKey(t, region), lobbyID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove lobby %s from %s queues: %w", lobbyID, t, err)
	}
	return nil
}

// RemoveLobbyDetails deletes the lobby's queue details outright.
func (d *Directory) RemoveLobbyDetails(ctx context.Context, lobbyID string) error {
	if err := d.rdb.Del(ctx, cache.LobbyDetailsKey(lobbyID)).Err(); err != nil {
		return fmt.Errorf("failed to remove details for lobby %s: %w", lobbyID, err)
	}
	return nil
}

// SetConfirmationID tags the lobby with the confirmation it is waiting on.
func (d *Directory) SetConfirmationID(ctx context.Context, lobbyID, confirmationID string) error {
	key := cache.LobbyDetailsKey(lobbyID)
	_, err := d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "confirmationId", confirmationID)
		pipe.Expire(ctx, key, DetailsTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to tag lobby %s with confirmation: %w", lobbyID, err)
	}
	return nil
}

// RemoveConfirmationID clears the lobby's confirmation tag.
func (d *Directory) RemoveConfirmationID(ctx context.Context, lobbyID string) error {
	key := cache.LobbyDetailsKey(lobbyID)
	_, err := d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, key, "confirmationId")
		pipe.Expire(ctx, key, DetailsTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear confirmation on lobby %s: %w", lobbyID, err)
	}
	return nil
}

func isMember(lobby *models.Lobby, playerID string) bool {
	return slices.Contains(lobby.PlayerIDs(), playerID)
}
