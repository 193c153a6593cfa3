// internal/lobby/verify.go
package lobby

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/matchmaker/internal/models"
)

// ValidationError is a lobby composition problem the player can fix by changing
// their lobby. LobbyWide errors concern every member, not just the requester.
type ValidationError struct {
	Reason    string
	LobbyWide bool
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// VerifyLobby checks the lobby may queue for a match type with the given roster size.
func (d *Directory) VerifyLobby(ctx context.Context, lobby *models.Lobby, playerID string, t models.MatchType, rosterSize int) error {
	if !isMember(lobby, playerID) {
		return &ValidationError{Reason: "You are not a member of this lobby"}
	}

	size := len(lobby.Players)
	switch {
	case size == 0:
		return &ValidationError{Reason: "Lobby has no players"}
	case size > rosterSize:
		return &ValidationError{
			Reason:    fmt.Sprintf("Too many players in lobby for %s", t),
			LobbyWide: true,
		}
	case size > rosterSize/2 && size < rosterSize:
		// Never fits into one team and is not a full roster either.
		return &ValidationError{
			Reason:    fmt.Sprintf("Lobby of %d cannot be split into %s teams", size, t),
			LobbyWide: true,
		}
	}

	details, err := d.GetLobbyDetails(ctx, lobby.ID)
	if err != nil {
		return err
	}
	if details != nil && details.ConfirmationID != "" {
		return &ValidationError{
			Reason:    "Lobby is already waiting on a match confirmation",
			LobbyWide: true,
		}
	}
	return nil
}
