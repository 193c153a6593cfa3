// internal/database/match.go
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/matchmaker/internal/models"
)

// CreateMatchBasedOnType inserts a match with its options and two empty lineups.
func (s *Store) CreateMatchBasedOnType(ctx context.Context, t models.MatchType, opts models.MatchOptions) (*models.Match, error) {
	match := &models.Match{
		ID:        uuid.NewString(),
		Lineup1ID: uuid.NewString(),
		Lineup2ID: uuid.NewString(),
	}
	optionsID := uuid.NewString()

	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO match_options (id, type, mr, best_of, knife_round, overtime, timeout_setting, regions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			optionsID, string(t), opts.MR, opts.BestOf, opts.Knife, opts.Overtime,
			opts.TimeoutSetting, []string{opts.Region},
		)
		if err != nil {
			return fmt.Errorf("insert match_options: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO matches (id, match_options_id, lineup_1_id, lineup_2_id, region, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			match.ID, optionsID, match.Lineup1ID, match.Lineup2ID, opts.Region,
			string(models.MatchStatusPickingPlayers),
		)
		if err != nil {
			return fmt.Errorf("insert matches: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO match_lineups (id, match_id) VALUES ($1, $3), ($2, $3)`,
			match.Lineup1ID, match.Lineup2ID, match.ID,
		)
		if err != nil {
			return fmt.Errorf("insert match_lineups: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s match: %w", t, err)
	}
	return match, nil
}

// InsertLineupPlayers adds every player to the given lineup in one transaction.
func (s *Store) InsertLineupPlayers(ctx context.Context, lineupID string, playerIDs []string) error {
	q := `INSERT INTO match_lineup_players (match_lineup_id, player_id) VALUES ($1, $2)`
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, playerID := range playerIDs {
			batch.Queue(q, lineupID, playerID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// UpdateMatchStatus moves a match to the given workflow state.
func (s *Store) UpdateMatchStatus(ctx context.Context, matchID string, status models.MatchStatus) error {
	q := `UPDATE matches SET status = $1 WHERE id = $2`
	return pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, string(status), matchID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("match %s not found", matchID)
		}
		return nil
	})
}
