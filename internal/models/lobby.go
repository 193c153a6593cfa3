// internal/models/lobby.go
package models

import "time"

// LobbyPlayer is one accepted member of a lobby, as stored in the lobby_players table.
type LobbyPlayer struct {
	PlayerID string `json:"player_id"`
	Rank     int    `json:"rank"`
	Role     Role   `json:"role"`
}

// Lobby is the current membership of a lobby. A player that is in no lobby is
// represented as a solo lobby whose ID is the player's ID.
type Lobby struct {
	ID      string        `json:"id"`
	Players []LobbyPlayer `json:"players"`
}

// PlayerIDs returns the member IDs in lobby order.
func (l *Lobby) PlayerIDs() []string {
	ids := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		ids = append(ids, p.PlayerID)
	}
	return ids
}

// AverageRank is the rounded mean rank of the lobby's members.
func (l *Lobby) AverageRank() int {
	if len(l.Players) == 0 {
		return 0
	}
	total := 0
	for _, p := range l.Players {
		total += p.Rank
	}
	n := len(l.Players)
	return (total + n/2) / n
}

// QueuedLobby is the denormalized copy of a lobby the matchmaker works from.
// It lives in redis with a 24 hour expiry that is refreshed on every write.
type QueuedLobby struct {
	LobbyID        string    `json:"lobbyId"`
	Players        []string  `json:"players"`
	Type           MatchType `json:"type"`
	Regions        []string  `json:"regions"`
	AvgRank        int       `json:"avgRank"`
	JoinedAt       time.Time `json:"joinedAt"`
	ConfirmationID string    `json:"confirmationId,omitempty"`
}
