// internal/cache/keys.go
package cache

import (
	"fmt"

	"github.com/jason-s-yu/matchmaker/internal/models"
)

const namespace = "matchmaking"

// Pub/sub channels consumed by the websocket gateway.
const (
	PlayerMessageChannel = "send-message-to-player"
	BroadcastChannel     = "broadcast-message"
)

// JobsKey is the sorted set backing the delayed job queue.
const JobsKey = namespace + ":jobs"

// RankQueueKey is the per (type, region) sorted set of lobby id -> average rank.
func RankQueueKey(t models.MatchType, region string) string {
	return fmt.Sprintf("%s:%s:%s:rank", namespace, t, region)
}

// PresenceQueueKey is the per (type, region) sorted set answering "is this lobby queued".
func PresenceQueueKey(t models.MatchType, region string) string {
	return fmt.Sprintf("%s:%s:%s:queue", namespace, t, region)
}

func RegionLockKey(t models.MatchType, region string) string {
	return fmt.Sprintf("%s:lock:%s:%s", namespace, t, region)
}

func LobbyLockKey(lobbyID string) string {
	return fmt.Sprintf("%s:lock:%s", namespace, lobbyID)
}

// ConfirmationLockKey guards finalizing a confirmation into a match.
func ConfirmationLockKey(confirmationID string) string {
	return fmt.Sprintf("%s:lock:confirmation:%s", namespace, confirmationID)
}

func LobbyDetailsKey(lobbyID string) string {
	return fmt.Sprintf("%s:lobby:%s", namespace, lobbyID)
}

func ConfirmationKey(confirmationID string) string {
	return fmt.Sprintf("%s:confirmation:%s", namespace, confirmationID)
}

// ConfirmedKey holds one field per player that acknowledged the confirmation.
func ConfirmedKey(confirmationID string) string {
	return ConfirmationKey(confirmationID) + ":confirmed"
}

// MatchConfirmationKey maps a created match back to the confirmation it came from.
func MatchConfirmationKey(matchID string) string {
	return "matches:confirmation:" + matchID
}
