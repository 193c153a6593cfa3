// internal/matchmaking/store.go
package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/redis/go-redis/v9"
)

// ConfirmationTTL bounds how long confirmation state can outlive a lost timer.
const ConfirmationTTL = 24 * time.Hour

// QueueEntry is one member of a rank queue snapshot.
type QueueEntry struct {
	LobbyID string
	Rank    int
}

// Store is the engine's access layer over the queue and confirmation keys.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// AddToQueues inserts the lobby into the rank and presence queue of every region in one transaction.
func (s *Store) AddToQueues(ctx context.Context, lobbyID string, t models.MatchType, regions []string, rank int) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, region := range regions {
			pipe.ZAdd(ctx, cache.RankQueueKey(t, region), redis.Z{Score: float64(rank), Member: lobbyID})
			pipe.ZAdd(ctx, cache.PresenceQueueKey(t, region), redis.Z{Score: 0, Member: lobbyID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to queue lobby %s for %s: %w", lobbyID, t, err)
	}
	return nil
}

// RankQueue snapshots a region's rank queue in ascending rank order.
func (s *Store) RankQueue(ctx context.Context, t models.MatchType, region string) ([]QueueEntry, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, cache.RankQueueKey(t, region), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s rank queue: %w", t, region, err)
	}
	entries := make([]QueueEntry, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, QueueEntry{LobbyID: id, Rank: int(z.Score)})
	}
	return entries, nil
}

// InRankQueue reports whether the lobby is still queued in the region.
func (s *Store) InRankQueue(ctx context.Context, t models.MatchType, region, lobbyID string) (bool, error) {
	err := s.rdb.ZScore(ctx, cache.RankQueueKey(t, region), lobbyID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check queue membership of lobby %s: %w", lobbyID, err)
	}
	return true, nil
}

// QueueDepth is the number of lobbies queued for the type in the region.
func (s *Store) QueueDepth(ctx context.Context, t models.MatchType, region string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, cache.PresenceQueueKey(t, region)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s %s queue: %w", t, region, err)
	}
	return n, nil
}

// SaveConfirmation writes a new confirmation record.
func (s *Store) SaveConfirmation(ctx context.Context, c *Confirmation) error {
	lobbyIDs, err := json.Marshal(c.LobbyIDs)
	if err != nil {
		return err
	}
	team1, err := json.Marshal(c.Team1)
	if err != nil {
		return err
	}
	team2, err := json.Marshal(c.Team2)
	if err != nil {
		return err
	}

	key := cache.ConfirmationKey(c.ID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"type":      string(c.Type),
			"region":    c.Region,
			"expiresAt": c.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"lobbyIds":  string(lobbyIDs),
			"team1":     string(team1),
			"team2":     string(team2),
		})
		pipe.Expire(ctx, key, ConfirmationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save confirmation %s: %w", c.ID, err)
	}
	return nil
}

// LoadConfirmation reads a confirmation and its acknowledgements, or nil if it does not exist.
func (s *Store) LoadConfirmation(ctx context.Context, id string) (*Confirmation, error) {
	key := cache.ConfirmationKey(id)
	var fields *redis.MapStringStringCmd
	var confirmed *redis.StringSliceCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, key)
		confirmed = pipe.HKeys(ctx, cache.ConfirmedKey(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmation %s: %w", id, err)
	}
	if len(fields.Val()) == 0 {
		return nil, nil
	}
	c, err := parseConfirmation(id, fields.Val())
	if err != nil {
		return nil, err
	}
	c.Confirmed = confirmed.Val()
	return c, nil
}

func parseConfirmation(id string, f map[string]string) (*Confirmation, error) {
	c := &Confirmation{
		ID:      id,
		Type:    models.MatchType(f["type"]),
		Region:  f["region"],
		MatchID: f["matchId"],
	}
	for field, dst := range map[string]*[]string{"lobbyIds": &c.LobbyIDs, "team1": &c.Team1, "team2": &c.Team2} {
		raw := f[field]
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("confirmation %s has malformed %s: %w", id, field, err)
		}
	}
	if raw := f["expiresAt"]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("confirmation %s has malformed expiresAt: %w", id, err)
		}
		c.ExpiresAt = at
	}
	return c, nil
}

// RecordAck marks the player as ready.
func (s *Store) RecordAck(ctx context.Context, id, playerID string) error {
	key := cache.ConfirmedKey(id)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, playerID, 1)
		pipe.Expire(ctx, key, ConfirmationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record ack of %s on confirmation %s: %w", playerID, id, err)
	}
	return nil
}

// SetMatchID records the created match on the confirmation and indexes the confirmation by match.
func (s *Store) SetMatchID(ctx context.Context, id, matchID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, cache.ConfirmationKey(id), "matchId", matchID)
		pipe.Set(ctx, cache.MatchConfirmationKey(matchID), id, ConfirmationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to link match %s to confirmation %s: %w", matchID, id, err)
	}
	return nil
}

// ConfirmationForMatch resolves a match to its confirmation id, or "" if it has none.
func (s *Store) ConfirmationForMatch(ctx context.Context, matchID string) (string, error) {
	id, err := s.rdb.Get(ctx, cache.MatchConfirmationKey(matchID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up confirmation of match %s: %w", matchID, err)
	}
	return id, nil
}

func (s *Store) DeleteMatchIndex(ctx context.Context, matchID string) error {
	if err := s.rdb.Del(ctx, cache.MatchConfirmationKey(matchID)).Err(); err != nil {
		return fmt.Errorf("failed to delete confirmation index of match %s: %w", matchID, err)
	}
	return nil
}

// DeleteConfirmation removes the confirmation record and its acknowledgements.
func (s *Store) DeleteConfirmation(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, cache.ConfirmationKey(id), cache.ConfirmedKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete confirmation %s: %w", id, err)
	}
	return nil
}
