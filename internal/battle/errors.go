package battle

import "errors"

var (
	// ErrNoActiveBattle is returned when an operation needs a running battle
	// and there is none.
	ErrNoActiveBattle = errors.New("no active battle")

	// ErrUnknownCountry is returned for score changes targeting a country
	// outside the battle's roster.
	ErrUnknownCountry = errors.New("country not in battle")

	// ErrBattleFinished is returned for mutations attempted after the battle
	// was finalized.
	ErrBattleFinished = errors.New("battle already finished")

	// ErrInvalidRoster is returned when a battle is created with an empty
	// roster or duplicate country names.
	ErrInvalidRoster = errors.New("invalid country roster")
)
