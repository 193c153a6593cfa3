package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jason-s-yu/matchmaker/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *redis.Client {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func receive(t *testing.T, sub *redis.PubSub) *redis.Message {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestSendToPlayer(t *testing.T) {
	rdb := setup(t)
	ctx := context.Background()
	sub, err := Subscribe(ctx, rdb)
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(rdb)
	require.NoError(t, pub.SendToPlayer(ctx, "p1", EventError, map[string]string{"message": "nope"}))

	msg := receive(t, sub)
	assert.Equal(t, cache.PlayerMessageChannel, msg.Channel)

	var got PlayerMessage
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "p1", got.PlayerID)
	assert.Equal(t, EventError, got.Event)
	assert.JSONEq(t, `{"message":"nope"}`, string(got.Data))
}

func TestBroadcast(t *testing.T) {
	rdb := setup(t)
	ctx := context.Background()
	sub, err := Subscribe(ctx, rdb)
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(rdb)
	stats := map[string]map[string]int64{"EU": {"Duel": 2}}
	require.NoError(t, pub.Broadcast(ctx, EventRegionStats, stats))

	msg := receive(t, sub)
	assert.Equal(t, cache.BroadcastChannel, msg.Channel)

	var got BroadcastMessage
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, EventRegionStats, got.Event)
	assert.JSONEq(t, `{"EU":{"Duel":2}}`, string(got.Data))
}

func TestNullPayload(t *testing.T) {
	rdb := setup(t)
	ctx := context.Background()
	sub, err := Subscribe(ctx, rdb)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, NewPublisher(rdb).SendToPlayer(ctx, "p1", EventDetails, nil))

	var got PlayerMessage
	require.NoError(t, json.Unmarshal([]byte(receive(t, sub).Payload), &got))
	assert.Equal(t, "null", string(got.Data))
}
