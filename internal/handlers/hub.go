// internal/handlers/hub.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/jason-s-yu/matchmaker/internal/notify"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Frame is what a client receives over the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PlayerConnection is one open socket of a player.
type PlayerConnection struct {
	PlayerID string
	OutChan  chan Frame
}

// Deliver queues a frame without blocking. A full buffer drops the frame.
func (c *PlayerConnection) Deliver(f Frame) bool {
	select {
	case c.OutChan <- f:
		return true
	default:
		return false
	}
}

// WriteError queues a matchmaking:error frame for this connection only.
func (c *PlayerConnection) WriteError(message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	c.Deliver(Frame{Event: notify.EventError, Data: data})
}

// Hub tracks the sockets connected to this instance. It is not shared between
// instances; events reach it through the redis fan-out channels.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*PlayerConnection]struct{}
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]map[*PlayerConnection]struct{}),
		logger: logger,
	}
}

// Add registers a connection and reports whether it is the player's first on this instance.
func (h *Hub) Add(c *PlayerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.PlayerID]
	if !ok {
		set = make(map[*PlayerConnection]struct{})
		h.conns[c.PlayerID] = set
	}
	set[c] = struct{}{}
	return len(set) == 1
}

// Remove unregisters a connection and reports whether it was the player's last.
func (h *Hub) Remove(c *PlayerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.PlayerID]
	if !ok {
		return false
	}
	delete(set, c)
	if len(set) > 0 {
		return false
	}
	delete(h.conns, c.PlayerID)
	return true
}

// Connected reports how many sockets the player has open here.
func (h *Hub) Connected(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[playerID])
}

// SendToPlayer delivers a frame to every socket of the player and returns how many took it.
func (h *Hub) SendToPlayer(playerID string, f Frame) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.conns[playerID] {
		if c.Deliver(f) {
			n++
		} else {
			h.logger.WithField("player", playerID).Warn("outbound buffer full, dropping frame")
		}
	}
	return n
}

// Broadcast delivers a frame to every connected socket.
func (h *Hub) Broadcast(f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.conns {
		for c := range set {
			c.Deliver(f)
		}
	}
}

// Dispatch routes one fan-out message to local sockets.
func (h *Hub) Dispatch(msg *redis.Message) {
	switch msg.Channel {
	case cache.PlayerMessageChannel:
		var m notify.PlayerMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			h.logger.Warnf("hub: malformed player message: %v", err)
			return
		}
		h.SendToPlayer(m.PlayerID, Frame{Event: m.Event, Data: m.Data})
	case cache.BroadcastChannel:
		var m notify.BroadcastMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			h.logger.Warnf("hub: malformed broadcast: %v", err)
			return
		}
		h.Broadcast(Frame{Event: m.Event, Data: m.Data})
	}
}

// Run forwards fan-out messages to local sockets until ctx is done.
func (h *Hub) Run(ctx context.Context, rdb *redis.Client) error {
	sub, err := notify.Subscribe(ctx, rdb)
	if err != nil {
		return err
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.Dispatch(msg)
		}
	}
}
