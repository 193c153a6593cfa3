// internal/database/lobby.go
package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/matchmaker/internal/models"
)

// GetPlayerLobby returns the lobby the player has accepted membership in. A player that is
// in no lobby gets a solo lobby keyed by their own ID. Returns nil if the player is unknown.
func (s *Store) GetPlayerLobby(ctx context.Context, playerID string) (*models.Lobby, error) {
	var lobbyID string
	err := s.DB.QueryRow(ctx, `
		SELECT lobby_id
		  FROM lobby_players
		 WHERE player_id = $1 AND status = 'Accepted'
		 LIMIT 1`, playerID).Scan(&lobbyID)
	if errors.Is(err, pgx.ErrNoRows) {
		p, err := s.getPlayer(ctx, playerID)
		if err != nil || p == nil {
			return nil, err
		}
		return &models.Lobby{ID: playerID, Players: []models.LobbyPlayer{*p}}, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT p.id, p.elo, p.role
		  FROM lobby_players lp
		  JOIN players p ON p.id = lp.player_id
		 WHERE lp.lobby_id = $1 AND lp.status = 'Accepted'
		 ORDER BY lp.created_at`, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lobby := &models.Lobby{ID: lobbyID}
	for rows.Next() {
		var p models.LobbyPlayer
		var role string
		if err := rows.Scan(&p.PlayerID, &p.Rank, &role); err != nil {
			return nil, err
		}
		p.Role = models.Role(role)
		lobby.Players = append(lobby.Players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lobby, nil
}

func (s *Store) getPlayer(ctx context.Context, playerID string) (*models.LobbyPlayer, error) {
	var p models.LobbyPlayer
	var role string
	err := s.DB.QueryRow(ctx, `SELECT id, elo, role FROM players WHERE id = $1`, playerID).
		Scan(&p.PlayerID, &p.Rank, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	return &p, nil
}
