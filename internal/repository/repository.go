package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/countrybattle/backend/internal/battle"
	"github.com/countrybattle/backend/internal/sqlutil"
)

// ErrNotFound is returned when a battle id has no record.
var ErrNotFound = errors.New("battle not found")

// Repository persists finished battles and serves the read side.
type Repository struct {
	db *sql.DB
}

// New wraps a database handle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveBattleResult writes a finished battle in one transaction:
// the battle row, one result row per country, and an upsert-increment of
// each country's cumulative statistics. Either everything lands or nothing
// does, so a retried end never produces partial records.
func (r *Repository) SaveBattleResult(ctx context.Context, res battle.Result) error {
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO battles (id, creator_username, started_at, ended_at, duration_seconds, winner_country)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			res.BattleID, res.Creator, res.StartedAt, res.EndedAt, res.DurationSeconds, res.Winner,
		)
		if err != nil {
			return fmt.Errorf("insert battle: %w", err)
		}

		for _, entry := range res.Rankings {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO battle_results (id, battle_id, country_name, final_score, position)
				VALUES ($1, $2, $3, $4, $5)`,
				uuid.New(), res.BattleID, entry.Country, entry.Score, entry.Position,
			)
			if err != nil {
				return fmt.Errorf("insert result for %s: %w", entry.Country, err)
			}
		}

		for _, entry := range res.Rankings {
			wins := boolToInt(entry.Position == 1)
			second := boolToInt(entry.Position == 2)
			third := boolToInt(entry.Position == 3)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO country_statistics (id, country_name, total_wins, total_second_place, total_third_place, total_battles)
				VALUES ($1, $2, $3, $4, $5, 1)
				ON CONFLICT (country_name) DO UPDATE SET
					total_wins         = country_statistics.total_wins + EXCLUDED.total_wins,
					total_second_place = country_statistics.total_second_place + EXCLUDED.total_second_place,
					total_third_place  = country_statistics.total_third_place + EXCLUDED.total_third_place,
					total_battles      = country_statistics.total_battles + 1`,
				uuid.New(), entry.Country, wins, second, third,
			)
			if err != nil {
				return fmt.Errorf("upsert statistics for %s: %w", entry.Country, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("battle_id", res.BattleID.String()).Msg("battle saved")
	return nil
}

// History returns the most recent battles, newest first.
func (r *Repository) History(ctx context.Context, limit int) ([]BattleRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, creator_username, started_at, ended_at, duration_seconds, winner_country
		FROM battles
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	battles := []BattleRecord{}
	for rows.Next() {
		var b BattleRecord
		if err := rows.Scan(&b.ID, &b.CreatorUsername, &b.StartedAt, &b.EndedAt, &b.DurationSeconds, &b.WinnerCountry); err != nil {
			return nil, fmt.Errorf("scan battle: %w", err)
		}
		battles = append(battles, b)
	}
	return battles, rows.Err()
}

// BattleByID returns one battle with its results ordered by position.
func (r *Repository) BattleByID(ctx context.Context, id uuid.UUID) (*BattleDetail, error) {
	var detail BattleDetail
	err := r.db.QueryRowContext(ctx, `
		SELECT id, creator_username, started_at, ended_at, duration_seconds, winner_country
		FROM battles
		WHERE id = $1`, id).
		Scan(&detail.ID, &detail.CreatorUsername, &detail.StartedAt, &detail.EndedAt,
			&detail.DurationSeconds, &detail.WinnerCountry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query battle %s: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, battle_id, country_name, final_score, position
		FROM battle_results
		WHERE battle_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query results for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var res BattleResultRow
		if err := rows.Scan(&res.ID, &res.BattleID, &res.CountryName, &res.FinalScore, &res.Position); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		detail.Results = append(detail.Results, res)
	}
	return &detail, rows.Err()
}

// Leaderboard returns every country's cumulative statistics, most wins first.
func (r *Repository) Leaderboard(ctx context.Context) ([]CountryStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT country_name, total_wins, total_second_place, total_third_place, total_battles
		FROM country_statistics
		ORDER BY total_wins DESC`)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	stats := []CountryStats{}
	for rows.Next() {
		var s CountryStats
		if err := rows.Scan(&s.CountryName, &s.TotalWins, &s.TotalSecondPlace, &s.TotalThirdPlace, &s.TotalBattles); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
