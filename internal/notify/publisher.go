// internal/notify/publisher.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/redis/go-redis/v9"
)

// Client-visible event names.
const (
	EventRegionStats = "matchmaking:region-stats"
	EventError       = "matchmaking:error"
	EventDetails     = "matchmaking:details"
)

// PlayerMessage is published on the per-player channel.
type PlayerMessage struct {
	PlayerID string          `json:"playerId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// BroadcastMessage is published on the broadcast channel and goes to every connected player.
type BroadcastMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Publisher hands events to whichever gateway instance holds the player's socket.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// SendToPlayer publishes an event for a single player.
func (p *Publisher) SendToPlayer(ctx context.Context, playerID, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(PlayerMessage{PlayerID: playerID, Event: event, Data: raw})
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, cache.PlayerMessageChannel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish %s to player %s: %w", event, playerID, err)
	}
	return nil
}

// Broadcast publishes an event for every connected player.
func (p *Publisher) Broadcast(ctx context.Context, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(BroadcastMessage{Event: event, Data: raw})
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, cache.BroadcastChannel, msg).Err(); err != nil {
		return fmt.Errorf("failed to broadcast %s: %w", event, err)
	}
	return nil
}

// Subscribe opens a subscription to both fan-out channels. The caller owns the returned
// PubSub and must close it.
func Subscribe(ctx context.Context, rdb *redis.Client) (*redis.PubSub, error) {
	sub := rdb.Subscribe(ctx, cache.PlayerMessageChannel, cache.BroadcastChannel)
	// Receive the subscription confirmation so messages published after return are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to fan-out channels: %w", err)
	}
	return sub, nil
}
