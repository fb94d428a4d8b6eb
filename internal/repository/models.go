package repository

import (
	"time"

	"github.com/google/uuid"
)

// BattleRecord is one finished battle as stored in the battles table.
type BattleRecord struct {
	ID              uuid.UUID `json:"id"`
	CreatorUsername string    `json:"creator_username"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
	WinnerCountry   string    `json:"winner_country"`
}

// BattleResultRow is one country's final standing in a finished battle.
type BattleResultRow struct {
	ID          uuid.UUID `json:"id"`
	BattleID    uuid.UUID `json:"battle_id"`
	CountryName string    `json:"country_name"`
	FinalScore  int       `json:"final_score"`
	Position    int       `json:"position"`
}

// BattleDetail is a battle together with its per-country results.
type BattleDetail struct {
	BattleRecord
	Results []BattleResultRow `json:"results"`
}

// CountryStats is one country's cumulative record across all battles.
type CountryStats struct {
	CountryName      string `json:"country_name"`
	TotalWins        int    `json:"total_wins"`
	TotalSecondPlace int    `json:"total_second_place"`
	TotalThirdPlace  int    `json:"total_third_place"`
	TotalBattles     int    `json:"total_battles"`
}
