package battle

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const tickInterval = time.Second

// Timer drives one battle to completion. It broadcasts a snapshot every
// second and calls End once elapsed time reaches the battle duration.
type Timer struct {
	battle   *Battle
	registry Broadcaster
	store    ResultStore
	clock    clockwork.Clock

	cancel context.CancelFunc
	done   chan struct{}
}

// StartTimer launches the tick loop for a battle.
func StartTimer(ctx context.Context, b *Battle, registry Broadcaster, store ResultStore, clock clockwork.Clock) *Timer {
	ctx, cancel := context.WithCancel(ctx)
	t := &Timer{
		battle:   b,
		registry: registry,
		store:    store,
		clock:    clock,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

// Stop cancels the tick loop and waits for it to exit. An End call already
// in flight is allowed to finish; only the wait between ticks is interrupted.
func (t *Timer) Stop() {
	t.cancel()
	<-t.done
}

func (t *Timer) run(ctx context.Context) {
	defer close(t.done)

	ticker := t.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("battle_id", t.battle.ID.String()).Msg("battle timer cancelled")
			return
		case <-ticker.Chan():
			if t.battle.Finished() {
				return
			}
			t.registry.Broadcast(t.battle.Snapshot())

			if t.battle.Elapsed() < t.battle.Duration {
				continue
			}
			log.Info().Str("battle_id", t.battle.ID.String()).Msg("battle timer expired, ending battle")
			// Finalization must not be abandoned mid-flight when the timer
			// is stopped, so it runs on a detached context.
			if err := t.battle.End(context.WithoutCancel(ctx), t.registry, t.store); err != nil {
				// Store failure leaves the battle unfinalized; retry on the
				// next tick rather than abandoning the results.
				log.Error().Err(err).Str("battle_id", t.battle.ID.String()).Msg("failed to end battle, will retry")
				continue
			}
			return
		}
	}
}
