package matchmaking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/jason-s-yu/matchmaker/internal/lobby"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/scheduler"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// mapRoster resolves players to lobbies from memory.
type mapRoster struct {
	mu       sync.Mutex
	byPlayer map[string]*models.Lobby
}

func (r *mapRoster) GetPlayerLobby(_ context.Context, playerID string) (*models.Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPlayer[playerID], nil
}

type fakeData struct {
	mu        sync.Mutex
	settings  models.MatchmakingSettings
	regions   []string
	createErr error
	matches   []*models.Match
	lineups   map[string][]string
	statuses  map[string]models.MatchStatus
	// onStatus runs after every status update.
	onStatus func(models.MatchStatus)
}

func (d *fakeData) CreateMatchBasedOnType(_ context.Context, _ models.MatchType, _ models.MatchOptions) (*models.Match, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return nil, d.createErr
	}
	n := len(d.matches) + 1
	m := &models.Match{
		ID:        fmt.Sprintf("match-%d", n),
		Lineup1ID: fmt.Sprintf("lineup-%d-1", n),
		Lineup2ID: fmt.Sprintf("lineup-%d-2", n),
	}
	d.matches = append(d.matches, m)
	return m, nil
}

func (d *fakeData) InsertLineupPlayers(_ context.Context, lineupID string, playerIDs []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lineups[lineupID] = append(d.lineups[lineupID], playerIDs...)
	return nil
}

func (d *fakeData) UpdateMatchStatus(_ context.Context, matchID string, status models.MatchStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[matchID] = status
	if d.onStatus != nil {
		d.onStatus(status)
	}
	return nil
}

func (d *fakeData) status(matchID string) models.MatchStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statuses[matchID]
}

func (d *fakeData) MatchmakingSettings(context.Context) (*models.MatchmakingSettings, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.settings
	return &s, nil
}

func (d *fakeData) ListMatchmakingRegions(context.Context) ([]string, error) {
	return d.regions, nil
}

func (d *fakeData) matchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.matches)
}

type sentEvent struct {
	PlayerID string
	Event    string
	Data     any
}

type fakeNotifier struct {
	mu         sync.Mutex
	sent       []sentEvent
	broadcasts []sentEvent
}

func (n *fakeNotifier) SendToPlayer(_ context.Context, playerID, event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{PlayerID: playerID, Event: event, Data: data})
	return nil
}

func (n *fakeNotifier) Broadcast(_ context.Context, event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, sentEvent{Event: event, Data: data})
	return nil
}

// lastSent returns the latest event of the kind sent to the player.
func (n *fakeNotifier) lastSent(playerID, event string) (sentEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].PlayerID == playerID && n.sent[i].Event == event {
			return n.sent[i], true
		}
	}
	return sentEvent{}, false
}

func (n *fakeNotifier) lastBroadcast(event string) (sentEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.broadcasts) - 1; i >= 0; i-- {
		if n.broadcasts[i].Event == event {
			return n.broadcasts[i], true
		}
	}
	return sentEvent{}, false
}

type harness struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	dir    *lobby.Directory
	jobs   *scheduler.Queue
	data   *fakeData
	notes  *fakeNotifier
	roster *mapRoster
}

// newHarness builds an engine over miniredis that runs matching passes inline.
func newHarness(t *testing.T, cfg Config) *harness {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	roster := &mapRoster{byPlayer: make(map[string]*models.Lobby)}
	data := &fakeData{
		settings: models.MatchmakingSettings{Enabled: true, MinRole: models.RoleUser},
		regions:  []string{"EU", "NA"},
		lineups:  make(map[string][]string),
		statuses: make(map[string]models.MatchStatus),
	}
	notes := &fakeNotifier{}
	dir := lobby.NewDirectory(rdb, roster)
	jobs := scheduler.NewQueue(rdb, logger)

	e := New(rdb, dir, data, notes, jobs, logger, cfg)
	e.dispatch = func(f func()) { f() }
	jobs.Handle(JobCancelConfirmation, e.HandleCancelJob)
	jobs.Handle(JobMarkPlayerOffline, e.MarkPlayerOffline)

	return &harness{engine: e, mr: mr, rdb: rdb, dir: dir, jobs: jobs, data: data, notes: notes, roster: roster}
}

// addLobby registers a lobby whose members all have the given rank.
func (h *harness) addLobby(id string, rank int, players ...string) *models.Lobby {
	l := &models.Lobby{ID: id}
	for _, p := range players {
		l.Players = append(l.Players, models.LobbyPlayer{PlayerID: p, Rank: rank, Role: models.RoleUser})
	}
	h.roster.mu.Lock()
	defer h.roster.mu.Unlock()
	for _, p := range players {
		h.roster.byPlayer[p] = l
	}
	return l
}

// queue puts a lobby in the queue without starting a pass.
func (h *harness) queue(t *testing.T, l *models.Lobby, mt models.MatchType, regions ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.dir.SetLobbyDetails(ctx, regions, mt, l))
	require.NoError(t, h.engine.AddLobbyToQueue(ctx, l.ID))
}

func (h *harness) join(t *testing.T, playerID string, mt models.MatchType, regions ...string) {
	t.Helper()
	require.NoError(t, h.engine.JoinQueue(context.Background(), JoinRequest{
		PlayerID: playerID,
		Role:     models.RoleUser,
		Type:     mt,
		Regions:  regions,
	}))
}

func (h *harness) confirmationOf(t *testing.T, lobbyID string) string {
	t.Helper()
	d, err := h.dir.GetLobbyDetails(context.Background(), lobbyID)
	require.NoError(t, err)
	require.NotNil(t, d, "lobby %s has no details", lobbyID)
	return d.ConfirmationID
}

// confirmations lists the ids of every stored confirmation.
func (h *harness) confirmations() []string {
	prefix := cache.ConfirmationKey("")
	var ids []string
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, prefix) && !strings.HasSuffix(k, ":confirmed") {
			ids = append(ids, strings.TrimPrefix(k, prefix))
		}
	}
	return ids
}

func (h *harness) rankQueue(t *testing.T, mt models.MatchType, region string) []QueueEntry {
	t.Helper()
	entries, err := h.engine.store.RankQueue(context.Background(), mt, region)
	require.NoError(t, err)
	return entries
}

func (h *harness) runTimers(t *testing.T, after time.Duration) int {
	t.Helper()
	n, err := h.jobs.RunDue(context.Background(), time.Now().Add(after))
	require.NoError(t, err)
	return n
}

func players(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return out
}
