package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/matchmaker/internal/matchmaking"
)

type fakeEngine struct {
	mu           sync.Mutex
	joins        []matchmaking.JoinRequest
	joinErr      error
	leaves       []string
	acks         []string
	ackErr       error
	connected    []string
	disconnected []string
	grace        time.Duration
	stats        []string
	confirmation *matchmaking.Confirmation
	cancelled    []string
}

func (f *fakeEngine) JoinQueue(_ context.Context, req matchmaking.JoinRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, req)
	return f.joinErr
}

func (f *fakeEngine) LeaveQueue(_ context.Context, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, playerID)
	return nil
}

func (f *fakeEngine) Acknowledge(_ context.Context, confirmationID, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, confirmationID+"/"+playerID)
	return f.ackErr
}

func (f *fakeEngine) SendRegionStats(_ context.Context, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, playerID)
	return nil
}

func (f *fakeEngine) PlayerConnected(_ context.Context, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, playerID)
	return nil
}

func (f *fakeEngine) PlayerDisconnected(_ context.Context, playerID string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, playerID)
	f.grace = grace
	return nil
}

func (f *fakeEngine) GetMatchConfirmationDetails(_ context.Context, id string) (*matchmaking.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmation == nil || f.confirmation.ID != id {
		return nil, matchmaking.ErrConfirmationNotFound
	}
	return f.confirmation, nil
}

func (f *fakeEngine) CancelByMatchID(_ context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, matchID)
	return nil
}

// snapshot runs fn under the engine's lock.
func (f *fakeEngine) snapshot(fn func(f *fakeEngine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type sent struct {
	PlayerID string
	Event    string
	Data     any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *fakeNotifier) SendToPlayer(_ context.Context, playerID, event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{PlayerID: playerID, Event: event, Data: data})
	return nil
}

func (n *fakeNotifier) all() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}
