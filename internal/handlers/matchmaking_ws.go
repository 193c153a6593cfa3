// internal/handlers/matchmaking_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/matchmaker/internal/auth"
	"github.com/jason-s-yu/matchmaker/internal/matchmaking"
	"github.com/jason-s-yu/matchmaker/internal/middleware"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/notify"
	"github.com/sirupsen/logrus"
)

const subprotocol = "matchmaking"

// Client events.
const (
	EventJoinQueue   = "matchmaking:join-queue"
	EventLeave       = "matchmaking:leave"
	EventConfirm     = "matchmaking:confirm"
	EventRegionStats = notify.EventRegionStats
)

// Engine is the slice of the matchmaking engine the gateway drives.
type Engine interface {
	JoinQueue(ctx context.Context, req matchmaking.JoinRequest) error
	LeaveQueue(ctx context.Context, playerID string) error
	Acknowledge(ctx context.Context, confirmationID, playerID string) error
	SendRegionStats(ctx context.Context, playerID string) error
	PlayerConnected(ctx context.Context, playerID string) error
	PlayerDisconnected(ctx context.Context, playerID string, grace time.Duration) error
	GetMatchConfirmationDetails(ctx context.Context, id string) (*matchmaking.Confirmation, error)
	CancelByMatchID(ctx context.Context, matchID string) error
}

// Notifier reaches players connected to any instance.
type Notifier interface {
	SendToPlayer(ctx context.Context, playerID, event string, data any) error
}

// Gateway serves the matchmaking websocket.
type Gateway struct {
	engine       Engine
	hub          *Hub
	notifier     Notifier
	logger       *logrus.Logger
	offlineGrace time.Duration
}

func NewGateway(engine Engine, hub *Hub, notifier Notifier, logger *logrus.Logger, offlineGrace time.Duration) *Gateway {
	return &Gateway{
		engine:       engine,
		hub:          hub,
		notifier:     notifier,
		logger:       logger,
		offlineGrace: offlineGrace,
	}
}

type packet struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinQueueData struct {
	Type    models.MatchType `json:"type"`
	Regions []string         `json:"regions"`
}

type confirmData struct {
	ConfirmationID string `json:"confirmationId"`
}

// MatchmakingWSHandler upgrades the request and runs the player's session.
func (g *Gateway) MatchmakingWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{subprotocol},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			g.logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != subprotocol {
			c.Close(BadSubprotocolError, "client must speak the matchmaking subprotocol")
			return
		}

		session, err := authenticate(r)
		if err != nil {
			g.logger.Debugf("matchmaking socket rejected: %v", err)
			c.Close(InvalidAuthTokenError, "invalid auth token")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := &PlayerConnection{
			PlayerID: session.PlayerID,
			OutChan:  make(chan Frame, 16),
		}

		first := g.hub.Add(conn)
		middleware.LogWebSocketConnect(g.logger, r.RemoteAddr, r.URL.Path, session.PlayerID)
		if first {
			if err := g.engine.PlayerConnected(ctx, session.PlayerID); err != nil {
				g.logger.WithField("player", session.PlayerID).Errorf("failed to cancel offline job: %v", err)
			}
		}
		if err := g.engine.SendRegionStats(ctx, session.PlayerID); err != nil {
			g.logger.WithField("player", session.PlayerID).Errorf("failed to send region stats: %v", err)
		}

		go g.writePump(ctx, c, conn)
		readErr := g.readPump(ctx, c, conn, session)

		if g.hub.Remove(conn) {
			// Outlives the request context on purpose.
			if err := g.engine.PlayerDisconnected(context.WithoutCancel(ctx), session.PlayerID, g.offlineGrace); err != nil {
				g.logger.WithField("player", session.PlayerID).Errorf("failed to schedule offline job: %v", err)
			}
		}
		middleware.LogWebSocketDisconnect(g.logger, r.RemoteAddr, r.URL.Path, session.PlayerID, readErr)
	}
}

// readPump handles incoming messages until the socket closes. It returns the read
// error unless the close was normal.
func (g *Gateway) readPump(ctx context.Context, c *websocket.Conn, conn *PlayerConnection, session *auth.Session) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var p packet
		if err := json.Unmarshal(msg, &p); err != nil {
			conn.WriteError("Invalid JSON format")
			continue
		}
		g.handle(ctx, conn, session, p)
	}
}

func (g *Gateway) handle(ctx context.Context, conn *PlayerConnection, session *auth.Session, p packet) {
	entry := g.logger.WithFields(logrus.Fields{"player": session.PlayerID, "event": p.Event})

	switch p.Event {
	case EventJoinQueue:
		var data joinQueueData
		if len(p.Data) > 0 {
			if err := json.Unmarshal(p.Data, &data); err != nil {
				conn.WriteError("Invalid join request")
				return
			}
		}
		err := g.engine.JoinQueue(ctx, matchmaking.JoinRequest{
			PlayerID: session.PlayerID,
			Role:     session.Role,
			Type:     data.Type,
			Regions:  data.Regions,
		})
		if err != nil {
			g.reportQueueError(ctx, conn, err, entry)
		}

	case EventLeave:
		if err := g.engine.LeaveQueue(ctx, session.PlayerID); err != nil && !errors.Is(err, matchmaking.ErrLobbyNotFound) {
			entry.Errorf("leave failed: %v", err)
			conn.WriteError(matchmaking.ReasonUnknown)
		}

	case EventConfirm:
		var data confirmData
		if err := json.Unmarshal(p.Data, &data); err != nil || data.ConfirmationID == "" {
			conn.WriteError("Missing confirmationId")
			return
		}
		if err := g.engine.Acknowledge(ctx, data.ConfirmationID, session.PlayerID); err != nil {
			switch {
			case errors.Is(err, matchmaking.ErrConfirmationNotFound):
				conn.WriteError("Match confirmation has expired")
			case errors.Is(err, matchmaking.ErrNotInConfirmation):
				conn.WriteError("You are not part of this match")
			case errors.Is(err, matchmaking.ErrConfirmationFinalized):
				conn.WriteError("Match has already been created")
			default:
				entry.Errorf("confirm failed: %v", err)
				conn.WriteError(matchmaking.ReasonUnknown)
			}
		}

	case EventRegionStats:
		if err := g.engine.SendRegionStats(ctx, session.PlayerID); err != nil {
			entry.Errorf("region stats failed: %v", err)
		}

	default:
		conn.WriteError("Unknown event")
	}
}

// reportQueueError tells every affected player why the join failed.
func (g *Gateway) reportQueueError(ctx context.Context, conn *PlayerConnection, err error, entry *logrus.Entry) {
	var qerr *matchmaking.QueueError
	if !errors.As(err, &qerr) {
		entry.Errorf("join failed: %v", err)
		conn.WriteError(matchmaking.ReasonUnknown)
		return
	}
	if qerr.Err != nil && qerr.Reason == matchmaking.ReasonUnknown {
		entry.Errorf("join failed: %v", qerr.Err)
	}

	payload := map[string]string{"message": qerr.Reason}
	for _, p := range qerr.PlayerIDs {
		if p == conn.PlayerID {
			conn.WriteError(qerr.Reason)
			continue
		}
		if err := g.notifier.SendToPlayer(ctx, p, notify.EventError, payload); err != nil {
			entry.WithField("to", p).Errorf("failed to deliver queue error: %v", err)
		}
	}
}

// writePump drains the connection's frames to the socket and keeps it alive with pings.
func (g *Gateway) writePump(ctx context.Context, c *websocket.Conn, conn *PlayerConnection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-conn.OutChan:
			data, err := json.Marshal(f)
			if err != nil {
				g.logger.Warnf("failed to marshal frame for player %s: %v", conn.PlayerID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				g.logger.Debugf("write to player %s failed: %v", conn.PlayerID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				g.logger.Debugf("ping to player %s failed: %v", conn.PlayerID, err)
				return
			}
		}
	}
}
