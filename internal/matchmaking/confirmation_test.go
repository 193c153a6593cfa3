package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/jason-s-yu/matchmaker/internal/models"
	"github.com/jason-s-yu/matchmaker/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// duelConfirmation queues two solo players for a duel and returns the confirmation id.
func duelConfirmation(t *testing.T, h *harness) string {
	t.Helper()
	h.addLobby("lobby-a", 1000, "a")
	h.addLobby("lobby-b", 1010, "b")
	h.join(t, "a", models.MatchTypeDuel, "EU")
	h.join(t, "b", models.MatchTypeDuel, "EU")

	id := h.confirmationOf(t, "lobby-a")
	require.NotEmpty(t, id)
	require.Equal(t, id, h.confirmationOf(t, "lobby-b"))
	return id
}

func TestCreateConfirmationState(t *testing.T) {
	h := newHarness(t, Config{})
	id := duelConfirmation(t, h)

	c, err := h.engine.GetMatchConfirmationDetails(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.MatchTypeDuel, c.Type)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), c.ExpiresAt, 5*time.Second)
	assert.Empty(t, c.Confirmed)

	for _, l := range []string{"lobby-a", "lobby-b"} {
		assert.Equal(t, 30*time.Second, h.mr.TTL(cache.LobbyLockKey(l)), "lobby lock is handed over with a grace period")
	}

	score, err := h.rdb.ZScore(context.Background(), cache.JobsKey, JobCancelConfirmation+":"+id).Result()
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Now().Add(30*time.Second).UnixMilli()), score, 5000)

	ev, ok := h.notes.lastSent("a", notify.EventDetails)
	require.True(t, ok)
	details, ok := ev.Data.(*QueueDetails)
	require.True(t, ok)
	require.NotNil(t, details.Confirmation)
	assert.Equal(t, id, details.Confirmation.ID)
	assert.Equal(t, 2, details.Confirmation.Players)
}

func TestAcknowledgeUntilMatch(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)

	require.NoError(t, h.engine.Acknowledge(ctx, id, "a"))
	assert.Zero(t, h.data.matchCount())

	ev, ok := h.notes.lastSent("b", notify.EventDetails)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, ev.Data.(*QueueDetails).Confirmation.Confirmed)

	require.NoError(t, h.engine.Acknowledge(ctx, id, "b"))
	require.Equal(t, 1, h.data.matchCount())

	c, err := h.engine.GetMatchConfirmationDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "match-1", c.MatchID)
	assert.Equal(t, models.MatchStatusVeto, h.data.statuses["match-1"])
	assert.Equal(t, c.Team1, h.data.lineups["lineup-1-1"])
	assert.Equal(t, c.Team2, h.data.lineups["lineup-1-2"])

	matchConf, err := h.engine.store.ConfirmationForMatch(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, id, matchConf)

	err = h.rdb.ZScore(ctx, cache.JobsKey, JobCancelConfirmation+":"+id).Err()
	assert.Error(t, err, "the timer is cancelled once the match exists")

	ev, ok = h.notes.lastSent("a", notify.EventDetails)
	require.True(t, ok)
	assert.Equal(t, "match-1", ev.Data.(*QueueDetails).Confirmation.MatchID)
}

func TestAcknowledgeRejections(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)

	assert.ErrorIs(t, h.engine.Acknowledge(ctx, "missing", "a"), ErrConfirmationNotFound)
	assert.ErrorIs(t, h.engine.Acknowledge(ctx, id, "stranger"), ErrNotInConfirmation)

	require.NoError(t, h.engine.Acknowledge(ctx, id, "a"))
	require.NoError(t, h.engine.Acknowledge(ctx, id, "a"), "acknowledging twice is harmless")
	assert.Zero(t, h.data.matchCount())

	require.NoError(t, h.engine.Acknowledge(ctx, id, "b"))
	assert.ErrorIs(t, h.engine.Acknowledge(ctx, id, "b"), ErrConfirmationFinalized)
	assert.Equal(t, 1, h.data.matchCount())
}

func TestFinalizeIsExclusive(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)
	require.NoError(t, h.engine.store.RecordAck(ctx, id, "a"))
	require.NoError(t, h.engine.store.RecordAck(ctx, id, "b"))

	locked, err := h.engine.acquireFinalizeLock(ctx, id)
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, h.engine.Finalize(ctx, id))
	assert.Zero(t, h.data.matchCount(), "a concurrent finalize does nothing")

	require.NoError(t, h.engine.releaseFinalizeLock(ctx, id))
	require.NoError(t, h.engine.Finalize(ctx, id))
	require.NoError(t, h.engine.Finalize(ctx, id))
	assert.Equal(t, 1, h.data.matchCount(), "finalizing twice creates one match")
}

func TestFailedMatchCreationKeepsTimer(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)
	h.data.createErr = errors.New("data service down")

	require.NoError(t, h.engine.Acknowledge(ctx, id, "a"))
	require.Error(t, h.engine.Acknowledge(ctx, id, "b"))

	err := h.rdb.ZScore(ctx, cache.JobsKey, JobCancelConfirmation+":"+id).Err()
	require.NoError(t, err, "cancellation is still scheduled")

	h.data.createErr = nil
	assert.Equal(t, 1, h.runTimers(t, time.Minute))

	// Both players were ready, so both lobbies go back in the queue and pair up again.
	again := h.confirmationOf(t, "lobby-a")
	require.NotEmpty(t, again)
	assert.NotEqual(t, id, again)
	assert.Equal(t, again, h.confirmationOf(t, "lobby-b"))
	assert.Equal(t, []string{again}, h.confirmations())
}

func TestTimerAfterFinalizeIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)

	require.NoError(t, h.engine.Acknowledge(ctx, id, "a"))
	require.NoError(t, h.engine.Acknowledge(ctx, id, "b"))

	before, err := h.engine.GetMatchConfirmationDetails(ctx, id)
	require.NoError(t, err)

	require.NoError(t, h.engine.HandleCancelJob(ctx, id))

	after, err := h.engine.GetMatchConfirmationDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, h.data.matchCount())
	assert.Equal(t, id, h.confirmationOf(t, "lobby-a"))
	assert.Zero(t, h.runTimers(t, time.Minute))
}

func TestTimerOnMissingConfirmationIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.engine.HandleCancelJob(context.Background(), "never-existed"))
}

func TestTimeoutRequeuesOnlyFullyReadyLobbies(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	quad := h.addLobby("quad", 1000, players("q", 4)...)
	h.addLobby("solo", 1010, "s1")
	five := h.addLobby("five", 1020, players("f", 5)...)
	h.join(t, "q1", models.MatchTypeCompetitive, "EU", "NA")
	h.join(t, "s1", models.MatchTypeCompetitive, "EU")
	h.join(t, "f1", models.MatchTypeCompetitive, "EU")

	id := h.confirmationOf(t, "quad")
	require.NotEmpty(t, id)
	c, err := h.engine.GetMatchConfirmationDetails(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 10, c.Required())

	quadBefore, err := h.dir.GetLobbyDetails(ctx, "quad")
	require.NoError(t, err)

	for _, p := range append(quad.PlayerIDs(), five.PlayerIDs()...) {
		require.NoError(t, h.engine.Acknowledge(ctx, id, p))
	}
	assert.Zero(t, h.data.matchCount())

	assert.Equal(t, 1, h.runTimers(t, 31*time.Second))

	assert.Empty(t, h.confirmations())
	assert.Zero(t, h.data.matchCount())

	quadAfter, err := h.dir.GetLobbyDetails(ctx, "quad")
	require.NoError(t, err)
	require.NotNil(t, quadAfter)
	assert.Equal(t, quadBefore.AvgRank, quadAfter.AvgRank)
	assert.Equal(t, quadBefore.Regions, quadAfter.Regions)
	assert.True(t, quadBefore.JoinedAt.Equal(quadAfter.JoinedAt))
	assert.Empty(t, quadAfter.ConfirmationID)

	assert.ElementsMatch(t,
		[]QueueEntry{{LobbyID: "quad", Rank: 1000}, {LobbyID: "five", Rank: 1020}},
		h.rankQueue(t, models.MatchTypeCompetitive, "EU"))
	assert.Equal(t, []QueueEntry{{LobbyID: "quad", Rank: 1000}}, h.rankQueue(t, models.MatchTypeCompetitive, "NA"))

	solo, err := h.dir.GetLobbyDetails(ctx, "solo")
	require.NoError(t, err)
	assert.Nil(t, solo, "a lobby with a missing acknowledgement is dropped")

	ev, ok := h.notes.lastSent("s1", notify.EventDetails)
	require.True(t, ok)
	assert.Nil(t, ev.Data)

	for _, l := range []string{"quad", "solo", "five"} {
		assert.False(t, h.mr.Exists(cache.LobbyLockKey(l)))
	}
}

func TestCancelByMatchIDDropsEveryLobby(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)
	require.NoError(t, h.engine.Acknowledge(ctx, id, "a"))
	require.NoError(t, h.engine.Acknowledge(ctx, id, "b"))

	require.NoError(t, h.engine.CancelByMatchID(ctx, "match-1"))

	assert.Empty(t, h.confirmations())
	for _, l := range []string{"lobby-a", "lobby-b"} {
		d, err := h.dir.GetLobbyDetails(ctx, l)
		require.NoError(t, err)
		assert.Nil(t, d)
	}
	assert.Empty(t, h.rankQueue(t, models.MatchTypeDuel, "EU"))
	assert.False(t, h.mr.Exists(cache.MatchConfirmationKey("match-1")))

	require.NoError(t, h.engine.CancelByMatchID(ctx, "match-1"), "cancelling again is harmless")
}

func TestCancelBroadcastsRegionStats(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)
	require.NoError(t, h.engine.Acknowledge(ctx, id, "a"))

	require.NoError(t, h.engine.Cancel(ctx, id, false))

	ev, ok := h.notes.lastBroadcast(notify.EventRegionStats)
	require.True(t, ok)
	stats := ev.Data.(RegionStats)
	assert.Equal(t, int64(1), stats["EU"][models.MatchTypeDuel], "only the ready lobby is requeued")
	assert.Zero(t, stats["NA"][models.MatchTypeDuel])
}

func TestConcurrentAcknowledgementsCreateOneMatch(t *testing.T) {
	for run := range 20 {
		t.Run(fmt.Sprintf("run-%d", run), func(t *testing.T) {
			h := newHarness(t, Config{})
			ctx := context.Background()
			squad := players("p", 10)
			h.addLobby("full", 1000, squad...)
			h.join(t, "p1", models.MatchTypeCompetitive, "EU")
			id := h.confirmationOf(t, "full")
			require.NotEmpty(t, id)

			var wg sync.WaitGroup
			errs := make([]error, len(squad))
			for i, p := range squad {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs[i] = h.engine.Acknowledge(ctx, id, p)
				}()
			}
			wg.Wait()

			for i, err := range errs {
				assert.NoError(t, err, "ack of %s", squad[i])
			}
			c, err := h.engine.GetMatchConfirmationDetails(ctx, id)
			require.NoError(t, err)
			assert.NotEmpty(t, c.MatchID)
			assert.Equal(t, 1, h.data.matchCount())
		})
	}
}

func TestTimerRetriesWhileFinalizeLockIsHeld(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)

	// An instance took the lock to finalize and died.
	locked, err := h.engine.acquireFinalizeLock(ctx, id)
	require.NoError(t, err)
	require.True(t, locked)

	assert.Equal(t, 1, h.runTimers(t, 31*time.Second))
	assert.Equal(t, []string{id}, h.confirmations(), "nothing is cancelled under the lock")
	require.NoError(t, h.rdb.ZScore(ctx, cache.JobsKey, JobCancelConfirmation+":"+id).Err(), "timer is pushed back")

	h.mr.FastForward(61 * time.Second)
	assert.Equal(t, 1, h.runTimers(t, 10*time.Minute))
	assert.Empty(t, h.confirmations())

	// Neither player confirmed, so both may queue again.
	h.join(t, "a", models.MatchTypeDuel, "EU")
	assert.Empty(t, h.confirmationOf(t, "lobby-a"))
}

func TestUnrecordedMatchIsCancelledAndTimerKept(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := duelConfirmation(t, h)
	h.data.onStatus = func(s models.MatchStatus) {
		if s == models.MatchStatusVeto {
			h.mr.SetError("LOADING redis is loading the dataset")
		}
	}

	require.NoError(t, h.engine.Acknowledge(ctx, id, "a"))
	require.Error(t, h.engine.Acknowledge(ctx, id, "b"))
	h.mr.SetError("")
	h.data.onStatus = nil

	assert.Equal(t, models.MatchStatusCanceled, h.data.status("match-1"))
	c, err := h.engine.GetMatchConfirmationDetails(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, c.MatchID)
	require.NoError(t, h.rdb.ZScore(ctx, cache.JobsKey, JobCancelConfirmation+":"+id).Err(), "timer still settles it")

	// The finalize lock could not be released while the store was failing.
	h.mr.FastForward(61 * time.Second)
	assert.Equal(t, 1, h.runTimers(t, time.Minute))

	again := h.confirmationOf(t, "lobby-a")
	require.NotEmpty(t, again)
	assert.NotEqual(t, id, again)
	assert.Equal(t, again, h.confirmationOf(t, "lobby-b"))
}
