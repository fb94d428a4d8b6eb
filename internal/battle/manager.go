package battle

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Defaults are applied when a start request omits the roster or duration.
type Defaults struct {
	Countries []string
	Duration  time.Duration
}

// Manager owns the single currently-active battle and its timer. Structured
// so a later multi-creator version only needs to swap the current field for
// a map keyed by creator.
type Manager struct {
	registry Broadcaster
	store    ResultStore
	clock    clockwork.Clock
	defaults Defaults

	mu      sync.Mutex
	current *Battle
	timer   *Timer
}

// NewManager creates a manager with no active battle.
func NewManager(registry Broadcaster, store ResultStore, defaults Defaults, clock clockwork.Clock) *Manager {
	return &Manager{
		registry: registry,
		store:    store,
		clock:    clock,
		defaults: defaults,
	}
}

// Start replaces any running battle with a fresh one. The new battle is
// constructed first; only then is the previous battle's timer stopped and
// awaited, so exactly one timer is ever live and an invalid request leaves
// the running battle as it was. The replaced battle is discarded without a
// database record. The new battle's initial snapshot is broadcast before its
// timer starts.
func (m *Manager) Start(ctx context.Context, creator string, countries []string, duration time.Duration) (*Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(countries) == 0 {
		countries = m.defaults.Countries
	}
	if duration <= 0 {
		duration = m.defaults.Duration
	}

	// Validate the new battle before touching the running one, so a rejected
	// request leaves the previous battle and its timer untouched.
	b, err := New(creator, countries, duration, m.clock)
	if err != nil {
		return nil, err
	}

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.current = b

	m.registry.Broadcast(b.Snapshot())
	m.timer = StartTimer(ctx, b, m.registry, m.store, m.clock)

	log.Info().
		Str("battle_id", b.ID.String()).
		Str("creator", creator).
		Strs("countries", countries).
		Dur("duration", duration).
		Msg("battle started")
	return b, nil
}

// Active returns the current battle, or nil when there is none or it has
// already finished. A finished battle is treated as absent so late events
// cannot mutate it in the window before the next battle starts.
func (m *Manager) Active() *Battle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && !m.current.Finished() {
		return m.current
	}
	return nil
}

// AddScore applies a manual score change to the active battle and broadcasts
// the updated state.
func (m *Manager) AddScore(country string, points int) (State, error) {
	b := m.Active()
	if b == nil {
		return State{}, ErrNoActiveBattle
	}
	if err := b.AddScore(country, points); err != nil {
		return State{}, err
	}
	st := b.Snapshot()
	m.registry.Broadcast(st)
	return st, nil
}

// Stop halts the active timer, if any. Used on shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
