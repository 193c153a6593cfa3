// internal/matchmaking/engine.go
package matchmaking

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Job kinds handled by the engine.
const (
	JobCancelConfirmation = "cancel-confirmation"
	JobMarkPlayerOffline  = "mark-player-offline"
)

// LobbyDirectory resolves lobby membership and owns each lobby's queue details.
type LobbyDirectory interface {
	GetPlayerLobby(ctx context.Context, playerID string) (*models.Lobby, error)
	VerifyLobby(ctx context.Context, lobby *models.Lobby, playerID string, t models.MatchType, rosterSize int) error
	SetLobbyDetails(ctx context.Context, regions []string, t models.MatchType, lobby *models.Lobby) error
	GetLobbyDetails(ctx context.Context, lobbyID string) (*models.QueuedLobby, error)
	RemoveLobbyFromQueue(ctx context.Context, lobbyID string) error
	RemoveFromQueues(ctx context.Context, lobbyID string, t models.MatchType, regions []string) error
	RemoveLobbyDetails(ctx context.Context, lobbyID string) error
	SetConfirmationID(ctx context.Context, lobbyID, confirmationID string) error
	RemoveConfirmationID(ctx context.Context, lobbyID string) error
}

// DataService is the relational store holding matches, settings and server regions.
type DataService interface {
	CreateMatchBasedOnType(ctx context.Context, t models.MatchType, opts models.MatchOptions) (*models.Match, error)
	InsertLineupPlayers(ctx context.Context, lineupID string, playerIDs []string) error
	UpdateMatchStatus(ctx context.Context, matchID string, status models.MatchStatus) error
	MatchmakingSettings(ctx context.Context) (*models.MatchmakingSettings, error)
	ListMatchmakingRegions(ctx context.Context) ([]string, error)
}

// Notifier delivers events to players through the fan-out channels.
type Notifier interface {
	SendToPlayer(ctx context.Context, playerID, event string, data any) error
	Broadcast(ctx context.Context, event string, data any) error
}

// JobScheduler runs a job once after a delay unless it is cancelled first.
type JobScheduler interface {
	Schedule(ctx context.Context, kind, id string, delay time.Duration) error
	Cancel(ctx context.Context, kind, id string) error
}

// Config tunes the engine. Zero values are replaced by DefaultConfig's.
type Config struct {
	// Rosters maps each match type to the total players one match needs.
	Rosters map[models.MatchType]int

	RegionLockTTL   time.Duration
	LobbyLockTTL    time.Duration
	LobbyLockGrace  time.Duration
	FinalizeLockTTL time.Duration

	// RankStep is the rank tolerance added per minute a group's oldest lobby has waited.
	RankStep int
	// MaxPasses bounds how many passes one Matchmake call runs.
	MaxPasses int

	ConfirmTimeout time.Duration
	// TimerRetry delays a confirmation timer that fired while a finalize held the lock.
	TimerRetry time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Rosters:         models.DefaultRosterSizes,
		RegionLockTTL:   60 * time.Second,
		LobbyLockTTL:    10 * time.Second,
		LobbyLockGrace:  30 * time.Second,
		FinalizeLockTTL: 60 * time.Second,
		RankStep:        100,
		MaxPasses:       50,
		ConfirmTimeout:  30 * time.Second,
		TimerRetry:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Rosters) == 0 {
		c.Rosters = d.Rosters
	}
	if c.RegionLockTTL <= 0 {
		c.RegionLockTTL = d.RegionLockTTL
	}
	if c.LobbyLockTTL <= 0 {
		c.LobbyLockTTL = d.LobbyLockTTL
	}
	if c.LobbyLockGrace <= 0 {
		c.LobbyLockGrace = d.LobbyLockGrace
	}
	if c.FinalizeLockTTL <= 0 {
		c.FinalizeLockTTL = d.FinalizeLockTTL
	}
	if c.RankStep <= 0 {
		c.RankStep = d.RankStep
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = d.MaxPasses
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = d.ConfirmTimeout
	}
	if c.TimerRetry <= 0 {
		c.TimerRetry = d.TimerRetry
	}
	return c
}

// Engine is the matchmaking core. It keeps no matchmaking state in memory: queues,
// locks and confirmations all live in redis, so any instance can serve any request.
type Engine struct {
	store    *Store
	locks    *Locker
	lobbies  LobbyDirectory
	data     DataService
	notifier Notifier
	jobs     JobScheduler
	logger   *logrus.Logger
	cfg      Config

	now      func() time.Time
	shuffle  func(n int, swap func(i, j int))
	dispatch func(func())
}

// New creates an engine over the shared redis store.
func New(rdb *redis.Client, lobbies LobbyDirectory, data DataService, notifier Notifier, jobs JobScheduler, logger *logrus.Logger, cfg Config) *Engine {
	return &Engine{
		store:    NewStore(rdb),
		locks:    NewLocker(rdb),
		lobbies:  lobbies,
		data:     data,
		notifier: notifier,
		jobs:     jobs,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		shuffle:  rand.Shuffle,
		dispatch: func(f func()) { go f() },
	}
}

// RosterSize returns the players one match of type t needs.
func (e *Engine) RosterSize(t models.MatchType) (int, bool) {
	n, ok := e.cfg.Rosters[t]
	return n, ok
}

// triggerMatchmake starts a matching pass in the background. Failures are logged.
func (e *Engine) triggerMatchmake(t models.MatchType, region string) {
	e.dispatch(func() {
		if err := e.Matchmake(context.Background(), t, region); err != nil {
			e.logger.WithFields(logrus.Fields{"type": t, "region": region}).Errorf("matchmaking pass failed: %v", err)
		}
	})
}
