// internal/matchmaking/confirmation.go
package matchmaking

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/sirupsen/logrus"
)

// Confirmation is a proposed match waiting for every player to ready up.
type Confirmation struct {
	ID        string           `json:"id"`
	Type      models.MatchType `json:"type"`
	Region    string           `json:"region"`
	LobbyIDs  []string         `json:"lobbyIds"`
	Team1     []string         `json:"team1"`
	Team2     []string         `json:"team2"`
	ExpiresAt time.Time        `json:"expiresAt"`
	MatchID   string           `json:"matchId,omitempty"`
	Confirmed []string         `json:"confirmed"`
}

// Required is how many acknowledgements finalize the confirmation.
func (c *Confirmation) Required() int {
	return len(c.Team1) + len(c.Team2)
}

// Contains reports whether the player is on either roster.
func (c *Confirmation) Contains(playerID string) bool {
	return slices.Contains(c.Team1, playerID) || slices.Contains(c.Team2, playerID)
}

func (c *Confirmation) hasConfirmed(playerID string) bool {
	return slices.Contains(c.Confirmed, playerID)
}

// ready reports whether every rostered player has acknowledged.
func (c *Confirmation) ready() bool {
	for _, p := range c.Team1 {
		if !c.hasConfirmed(p) {
			return false
		}
	}
	for _, p := range c.Team2 {
		if !c.hasConfirmed(p) {
			return false
		}
	}
	return true
}

func (c *Confirmation) log(logger *logrus.Logger) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"confirmation": c.ID, "type": c.Type, "region": c.Region})
}

// GetMatchConfirmationDetails returns the confirmation with its acknowledgements.
func (e *Engine) GetMatchConfirmationDetails(ctx context.Context, id string) (*Confirmation, error) {
	c, err := e.store.LoadConfirmation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrConfirmationNotFound
	}
	return c, nil
}

// CreateConfirmation turns two full teams into a pending confirmation. The caller must
// hold the lock of every lobby involved; the locks are handed over with a grace period.
func (e *Engine) CreateConfirmation(ctx context.Context, t models.MatchType, region string, team1, team2 *Team) (*Confirmation, error) {
	c := &Confirmation{
		ID:        uuid.NewString(),
		Type:      t,
		Region:    region,
		Team1:     team1.Players,
		Team2:     team2.Players,
		ExpiresAt: e.now().Add(e.cfg.ConfirmTimeout),
	}
	for _, id := range append(append([]string(nil), team1.Lobbies...), team2.Lobbies...) {
		if !slices.Contains(c.LobbyIDs, id) {
			c.LobbyIDs = append(c.LobbyIDs, id)
		}
	}
	entry := c.log(e.logger)

	if err := e.openConfirmation(ctx, c); err != nil {
		e.abandonConfirmation(context.WithoutCancel(ctx), c)
		return nil, err
	}

	for _, lobbyID := range c.LobbyIDs {
		if err := e.releaseLobbyLock(ctx, lobbyID, e.cfg.LobbyLockGrace); err != nil {
			entry.WithField("lobby", lobbyID).Errorf("failed to hand over lobby lock: %v", err)
		}
		if err := e.SendQueueDetailsToLobby(ctx, lobbyID); err != nil {
			entry.WithField("lobby", lobbyID).Errorf("failed to send queue details: %v", err)
		}
	}

	confirmationsCreated.WithLabelValues(string(t)).Inc()
	entry.Infof("created confirmation for %d lobbies", len(c.LobbyIDs))
	return c, nil
}

func (e *Engine) openConfirmation(ctx context.Context, c *Confirmation) error {
	for _, lobbyID := range c.LobbyIDs {
		if err := e.lobbies.RemoveLobbyFromQueue(ctx, lobbyID); err != nil {
			return err
		}
	}
	if err := e.store.SaveConfirmation(ctx, c); err != nil {
		return err
	}
	for _, lobbyID := range c.LobbyIDs {
		if err := e.lobbies.SetConfirmationID(ctx, lobbyID, c.ID); err != nil {
			return err
		}
	}
	if err := e.jobs.Schedule(ctx, JobCancelConfirmation, c.ID, e.cfg.ConfirmTimeout); err != nil {
		return fmt.Errorf("failed to schedule cancellation of confirmation %s: %w", c.ID, err)
	}
	return nil
}

// abandonConfirmation undoes a partially opened confirmation and puts its lobbies back in the queue.
func (e *Engine) abandonConfirmation(ctx context.Context, c *Confirmation) {
	entry := c.log(e.logger)
	for _, lobbyID := range c.LobbyIDs {
		if err := e.lobbies.RemoveConfirmationID(ctx, lobbyID); err != nil {
			entry.WithField("lobby", lobbyID).Errorf("failed to clear confirmation tag: %v", err)
		}
		if err := e.AddLobbyToQueue(ctx, lobbyID); err != nil {
			entry.WithField("lobby", lobbyID).Errorf("failed to requeue lobby: %v", err)
		}
		_ = e.releaseLobbyLock(ctx, lobbyID, 0)
	}
	if err := e.store.DeleteConfirmation(ctx, c.ID); err != nil {
		entry.Errorf("failed to delete abandoned confirmation: %v", err)
	}
	_ = e.jobs.Cancel(ctx, JobCancelConfirmation, c.ID)
}

// Acknowledge records that a player is ready. The acknowledgement that completes the
// roster creates the match. Acknowledgements are read back after the write, so players
// confirming at the same time still see each other.
func (e *Engine) Acknowledge(ctx context.Context, confirmationID, playerID string) error {
	c, err := e.GetMatchConfirmationDetails(ctx, confirmationID)
	if err != nil {
		return err
	}
	if !c.Contains(playerID) {
		return ErrNotInConfirmation
	}
	if c.MatchID != "" {
		return ErrConfirmationFinalized
	}

	if err := e.store.RecordAck(ctx, confirmationID, playerID); err != nil {
		return err
	}

	c, err = e.GetMatchConfirmationDetails(ctx, confirmationID)
	if err != nil {
		return err
	}
	if c.MatchID != "" {
		return nil
	}
	if !c.ready() {
		e.sendDetailsToLobbies(ctx, c)
		return nil
	}
	return e.Finalize(ctx, confirmationID)
}

// Finalize creates the match for a fully acknowledged confirmation. Only one caller
// can finalize a confirmation; the others return without effect.
//
// The cancellation timer stays scheduled until the match id is stored. If this
// finalize fails or its instance dies, the timer still settles the confirmation.
func (e *Engine) Finalize(ctx context.Context, confirmationID string) error {
	locked, err := e.acquireFinalizeLock(ctx, confirmationID)
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}
	defer func() {
		if err := e.releaseFinalizeLock(context.WithoutCancel(ctx), confirmationID); err != nil {
			e.logger.WithField("confirmation", confirmationID).Errorf("failed to release finalize lock: %v", err)
		}
	}()

	c, err := e.store.LoadConfirmation(ctx, confirmationID)
	if err != nil {
		return err
	}
	if c == nil || c.MatchID != "" || !c.ready() {
		return nil
	}
	entry := c.log(e.logger)

	match, err := e.createMatch(ctx, c)
	if err != nil {
		return err
	}

	if err := e.store.SetMatchID(ctx, c.ID, match.ID); err != nil {
		if cerr := e.data.UpdateMatchStatus(context.WithoutCancel(ctx), match.ID, models.MatchStatusCanceled); cerr != nil {
			entry.WithField("match", match.ID).Errorf("failed to cancel unrecorded match: %v", cerr)
		}
		return fmt.Errorf("failed to record match %s for confirmation %s: %w", match.ID, c.ID, err)
	}
	c.MatchID = match.ID

	// With the match id stored a late timer is a no-op, so a failed cancel only costs a poll.
	if err := e.jobs.Cancel(ctx, JobCancelConfirmation, c.ID); err != nil {
		entry.Warnf("failed to cancel confirmation timer: %v", err)
	}

	matchesCreated.WithLabelValues(string(c.Type)).Inc()
	entry.WithField("match", match.ID).Info("match created")
	e.sendDetailsToLobbies(ctx, c)
	return nil
}

func (e *Engine) createMatch(ctx context.Context, c *Confirmation) (*models.Match, error) {
	match, err := e.data.CreateMatchBasedOnType(ctx, c.Type, models.DefaultMatchOptions(c.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to create match for confirmation %s: %w", c.ID, err)
	}

	err = e.data.InsertLineupPlayers(ctx, match.Lineup1ID, c.Team1)
	if err == nil {
		err = e.data.InsertLineupPlayers(ctx, match.Lineup2ID, c.Team2)
	}
	if err == nil {
		err = e.data.UpdateMatchStatus(ctx, match.ID, models.MatchStatusVeto)
	}
	if err != nil {
		if cerr := e.data.UpdateMatchStatus(context.WithoutCancel(ctx), match.ID, models.MatchStatusCanceled); cerr != nil {
			c.log(e.logger).WithField("match", match.ID).Errorf("failed to cancel half-created match: %v", cerr)
		}
		return nil, fmt.Errorf("failed to set up match %s: %w", match.ID, err)
	}
	return match, nil
}

// HandleCancelJob is the confirmation timer. It cancels the confirmation unless the
// confirmation is gone or already has a match. While a finalize holds the lock the
// timer is pushed back, so a finalize that dies is settled once its lock expires.
func (e *Engine) HandleCancelJob(ctx context.Context, confirmationID string) error {
	locked, err := e.acquireFinalizeLock(ctx, confirmationID)
	if err != nil {
		return err
	}
	if !locked {
		e.logger.WithField("confirmation", confirmationID).Debugf("finalize in progress, timer retries in %s", e.cfg.TimerRetry)
		return e.jobs.Schedule(ctx, JobCancelConfirmation, confirmationID, e.cfg.TimerRetry)
	}
	defer func() {
		if err := e.releaseFinalizeLock(context.WithoutCancel(ctx), confirmationID); err != nil {
			e.logger.WithField("confirmation", confirmationID).Errorf("failed to release finalize lock: %v", err)
		}
	}()

	c, err := e.store.LoadConfirmation(ctx, confirmationID)
	if err != nil {
		return err
	}
	if c == nil || c.MatchID != "" {
		return nil
	}
	return e.cancel(ctx, c, false)
}

// Cancel tears a confirmation down. Without a match, lobbies whose every member
// acknowledged go back in the queue and the rest are dropped; with a match, every
// lobby is dropped.
func (e *Engine) Cancel(ctx context.Context, confirmationID string, hasMatch bool) error {
	c, err := e.store.LoadConfirmation(ctx, confirmationID)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	return e.cancel(ctx, c, hasMatch)
}

func (e *Engine) cancel(ctx context.Context, c *Confirmation, hasMatch bool) error {
	entry := c.log(e.logger)
	requeued := false

	for _, lobbyID := range c.LobbyIDs {
		lentry := entry.WithField("lobby", lobbyID)
		details, err := e.lobbies.GetLobbyDetails(ctx, lobbyID)
		if err != nil {
			lentry.Errorf("failed to read lobby details: %v", err)
			continue
		}
		if details == nil {
			continue
		}

		requeue := !hasMatch
		if requeue {
			for _, p := range details.Players {
				if !c.hasConfirmed(p) {
					requeue = false
					break
				}
			}
		}

		if err := e.lobbies.RemoveLobbyFromQueue(ctx, lobbyID); err != nil {
			lentry.Errorf("failed to remove lobby from queue: %v", err)
		}
		if err := e.lobbies.RemoveConfirmationID(ctx, lobbyID); err != nil {
			lentry.Errorf("failed to clear confirmation tag: %v", err)
		}
		// The cancel owns the hand-over window, so the lock goes now.
		if err := e.releaseLobbyLock(ctx, lobbyID, 0); err != nil {
			lentry.Errorf("failed to release lobby lock: %v", err)
		}

		if !requeue {
			if err := e.lobbies.RemoveLobbyDetails(ctx, lobbyID); err != nil {
				lentry.Errorf("failed to remove lobby details: %v", err)
			}
			e.sendDetailsToPlayers(ctx, details.Players, nil)
			lobbiesDropped.Inc()
			continue
		}

		if err := e.AddLobbyToQueue(ctx, lobbyID); err != nil {
			lentry.Errorf("failed to requeue lobby: %v", err)
			continue
		}
		requeued = true
		lobbiesRequeued.Inc()
	}

	if err := e.store.DeleteConfirmation(ctx, c.ID); err != nil {
		return err
	}
	if err := e.jobs.Cancel(ctx, JobCancelConfirmation, c.ID); err != nil {
		entry.Errorf("failed to cancel confirmation timer: %v", err)
	}

	outcome := "timeout"
	if hasMatch {
		outcome = "match_cancelled"
	}
	confirmationsCancelled.WithLabelValues(outcome).Inc()
	entry.Infof("confirmation cancelled (%s)", outcome)

	if err := e.SendRegionStats(ctx, ""); err != nil {
		entry.Errorf("failed to broadcast region stats: %v", err)
	}
	if requeued {
		e.triggerMatchmake(c.Type, c.Region)
	}
	return nil
}

// CancelByMatchID tears down the confirmation a cancelled match came from.
func (e *Engine) CancelByMatchID(ctx context.Context, matchID string) error {
	id, err := e.store.ConfirmationForMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if id != "" {
		if err := e.Cancel(ctx, id, true); err != nil {
			return err
		}
	}
	return e.store.DeleteMatchIndex(ctx, matchID)
}
