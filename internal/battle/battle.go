package battle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Broadcaster fans a message out to every connected viewer.
type Broadcaster interface {
	Broadcast(v any)
}

// ResultStore durably commits a finished battle as one atomic unit.
type ResultStore interface {
	SaveBattleResult(ctx context.Context, res Result) error
}

// RankingEntry is one country's standing, position 1-based.
type RankingEntry struct {
	Country  string `json:"country"`
	Score    int    `json:"score"`
	Position int    `json:"position"`
}

// Result is the payload handed to the store when a battle ends.
type Result struct {
	BattleID        uuid.UUID
	Creator         string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds int
	Winner          string
	Rankings        []RankingEntry
}

// GiftAnnotation describes the gift that produced the latest score change.
type GiftAnnotation struct {
	User    string `json:"user"`
	Gift    string `json:"gift"`
	Points  int    `json:"points"`
	Country string `json:"country"`
	IsLion  bool   `json:"is_lion"`
}

// State is a point-in-time view of a battle, broadcast to viewers as-is.
type State struct {
	Type          string          `json:"type"`
	BattleID      string          `json:"battle_id"`
	Creator       string          `json:"creator_username"`
	Scores        map[string]int  `json:"scores"`
	Rankings      []RankingEntry  `json:"rankings"`
	TimeRemaining int             `json:"time_remaining"`
	TotalSeconds  int             `json:"total_seconds"`
	Finished      bool            `json:"battle_finished"`
	LastGift      *GiftAnnotation `json:"last_gift,omitempty"`
}

// GameOver is broadcast exactly once when a battle finalizes.
type GameOver struct {
	Type            string         `json:"type"`
	BattleID        string         `json:"battle_id"`
	Winner          string         `json:"winner"`
	Rankings        []RankingEntry `json:"rankings"`
	DurationSeconds int            `json:"duration_seconds"`
}

// Battle is a single live contest. Scores live in memory only; the database
// is touched once, when the battle ends. The mutex guards scores and the
// finished flag so the timer, the stream listener and admin calls can all
// mutate the same battle safely.
type Battle struct {
	ID        uuid.UUID
	Creator   string
	Countries []string
	Duration  time.Duration
	StartedAt time.Time

	clock clockwork.Clock

	mu       sync.Mutex
	scores   map[string]int
	finished bool
}

// New creates a battle with all scores at zero.
func New(creator string, countries []string, duration time.Duration, clock clockwork.Clock) (*Battle, error) {
	if len(countries) == 0 {
		return nil, fmt.Errorf("%w: empty country list", ErrInvalidRoster)
	}
	scores := make(map[string]int, len(countries))
	for _, c := range countries {
		if c == "" {
			return nil, fmt.Errorf("%w: empty country name", ErrInvalidRoster)
		}
		if _, dup := scores[c]; dup {
			return nil, fmt.Errorf("%w: duplicate country %q", ErrInvalidRoster, c)
		}
		scores[c] = 0
	}

	return &Battle{
		ID:        uuid.New(),
		Creator:   creator,
		Countries: countries,
		Duration:  duration,
		StartedAt: clock.Now(),
		clock:     clock,
		scores:    scores,
	}, nil
}

// AddScore applies a score delta to one country. Scores never go below zero.
// Returns ErrBattleFinished after finalization and ErrUnknownCountry for
// countries outside the roster; neither changes any state.
func (b *Battle) AddScore(country string, points int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return ErrBattleFinished
	}
	current, ok := b.scores[country]
	if !ok {
		log.Warn().Str("country", country).Str("battle_id", b.ID.String()).Msg("country not in battle")
		return fmt.Errorf("%w: %q", ErrUnknownCountry, country)
	}
	b.scores[country] = max(0, current+points)
	return nil
}

// Finished reports whether the battle has been finalized.
func (b *Battle) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Elapsed is the time since the battle started.
func (b *Battle) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.StartedAt)
}

// Rankings returns every country sorted by score descending, positions 1..N.
// Ties keep the original roster order.
func (b *Battle) Rankings() []RankingEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rankingsLocked()
}

func (b *Battle) rankingsLocked() []RankingEntry {
	entries := make([]RankingEntry, 0, len(b.Countries))
	for _, c := range b.Countries {
		entries = append(entries, RankingEntry{Country: c, Score: b.scores[c]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Position = i + 1
	}
	return entries
}

// Snapshot returns a consistent copy of the battle state for broadcast.
func (b *Battle) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	scores := make(map[string]int, len(b.scores))
	for c, s := range b.scores {
		scores[c] = s
	}
	remaining := b.Duration - b.clock.Now().Sub(b.StartedAt)
	if remaining < 0 {
		remaining = 0
	}

	return State{
		Type:          "state_update",
		BattleID:      b.ID.String(),
		Creator:       b.Creator,
		Scores:        scores,
		Rankings:      b.rankingsLocked(),
		TimeRemaining: int(remaining / time.Second),
		TotalSeconds:  int(b.Duration / time.Second),
		Finished:      b.finished,
	}
}

// End finalizes the battle:
//
//  1. take the lock
//  2. if already finished, no-op (double-end guard)
//  3. persist battle + results + statistics in one transaction
//  4. mark finished and release the lock
//  5. broadcast game_over outside the lock, so slow viewers never block
//     other callers
//
// If the store fails the flag stays unset and the lock is released, so a
// later End call can retry.
func (b *Battle) End(ctx context.Context, registry Broadcaster, store ResultStore) error {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		log.Info().Str("battle_id", b.ID.String()).Msg("battle already finished, skipping end")
		return nil
	}

	now := b.clock.Now()
	elapsed := int(now.Sub(b.StartedAt) / time.Second)
	rankings := b.rankingsLocked()
	var winner string
	if len(rankings) > 0 {
		winner = rankings[0].Country
	}

	err := store.SaveBattleResult(ctx, Result{
		BattleID:        b.ID,
		Creator:         b.Creator,
		StartedAt:       b.StartedAt,
		EndedAt:         now,
		DurationSeconds: elapsed,
		Winner:          winner,
		Rankings:        rankings,
	})
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("save battle %s: %w", b.ID, err)
	}

	b.finished = true
	b.mu.Unlock()

	registry.Broadcast(GameOver{
		Type:            "game_over",
		BattleID:        b.ID.String(),
		Winner:          winner,
		Rankings:        rankings,
		DurationSeconds: elapsed,
	})

	log.Info().
		Str("battle_id", b.ID.String()).
		Str("winner", winner).
		Int("duration_seconds", elapsed).
		Msg("battle ended")
	return nil
}
