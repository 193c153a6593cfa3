// internal/database/settings.go
package database

import (
	"context"

	"github.com/jason-s-yu/matchmaker/internal/models"
)

const (
	settingMatchmaking        = "public.matchmaking"
	settingMatchmakingMinRole = "public.matchmaking_min_role"
)

// MatchmakingSettings reads the two settings that gate joining a queue.
func (s *Store) MatchmakingSettings(ctx context.Context) (*models.MatchmakingSettings, error) {
	rows, err := s.DB.Query(ctx, `SELECT name, value FROM settings WHERE name = ANY($1)`,
		[]string{settingMatchmaking, settingMatchmakingMinRole})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := &models.MatchmakingSettings{Enabled: true}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		switch name {
		case settingMatchmaking:
			settings.Enabled = value != "false"
		case settingMatchmakingMinRole:
			settings.MinRole = models.Role(value)
		}
	}
	return settings, rows.Err()
}

// ListMatchmakingRegions returns every non-LAN region that has at least one game server.
func (s *Store) ListMatchmakingRegions(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT value
		  FROM server_regions
		 WHERE total_server_count > 0 AND is_lan = false
		 ORDER BY value`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var region string
		if err := rows.Scan(&region); err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}
