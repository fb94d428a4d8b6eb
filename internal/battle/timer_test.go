package battle

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTimerEndsBattleOnExpiry(t *testing.T) {
	b, clock := newTestBattle(t, []string{"Turkey", "Egypt"}, 3*time.Second)
	registry := &fakeRegistry{}
	store := &fakeStore{}

	b.AddScore("Turkey", 10)

	timer := StartTimer(context.Background(), b, registry, store, clock)
	defer timer.Stop()

	// Wait until the run loop has registered its ticker before advancing.
	clock.BlockUntil(1)

	for i := 1; i <= 2; i++ {
		clock.Advance(time.Second)
		want := i
		waitFor(t, "tick broadcast", func() bool { return registry.stateUpdates() >= want })
	}
	if store.commitCount() != 0 {
		t.Fatalf("battle ended before its duration elapsed")
	}

	clock.Advance(time.Second)
	waitFor(t, "finalization", func() bool { return store.commitCount() == 1 })
	waitFor(t, "game_over broadcast", func() bool { return registry.gameOvers() == 1 })

	if !b.Finished() {
		t.Error("battle should be finished after expiry")
	}
	if store.saved[0].Winner != "Turkey" {
		t.Errorf("expected winner Turkey, got %q", store.saved[0].Winner)
	}
}

func TestTimerStopCancelsPromptly(t *testing.T) {
	b, clock := newTestBattle(t, []string{"Turkey", "Egypt"}, time.Hour)
	registry := &fakeRegistry{}
	store := &fakeStore{}

	timer := StartTimer(context.Background(), b, registry, store, clock)
	clock.BlockUntil(1)

	done := make(chan struct{})
	go func() {
		timer.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not interrupt the wait between ticks")
	}

	if store.commitCount() != 0 {
		t.Error("stopped timer must not finalize the battle")
	}
	if b.Finished() {
		t.Error("battle should remain unfinished after timer stop")
	}
}

func TestTimerRetriesFailedFinalization(t *testing.T) {
	b, clock := newTestBattle(t, []string{"Turkey", "Egypt"}, time.Second)
	registry := &fakeRegistry{}
	store := &fakeStore{failures: 1}

	timer := StartTimer(context.Background(), b, registry, store, clock)
	defer timer.Stop()
	clock.BlockUntil(1)

	// First tick reaches the duration; the commit fails once.
	clock.Advance(time.Second)
	waitFor(t, "first broadcast", func() bool { return registry.stateUpdates() >= 1 })
	waitFor(t, "failed attempt consumed", func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.failures == 0
	})

	// Next tick retries and succeeds.
	clock.Advance(time.Second)
	waitFor(t, "retried finalization", func() bool { return store.commitCount() == 1 })

	if registry.gameOvers() != 1 {
		t.Errorf("expected one game_over after retry, got %d", registry.gameOvers())
	}
}

func TestTimerExpiryResolvesTieByRosterOrder(t *testing.T) {
	b, clock := newTestBattle(t, []string{"A", "B", "C"}, 5*time.Second)
	registry := &fakeRegistry{}
	store := &fakeStore{}

	b.AddScore("A", 10)
	b.AddScore("B", 10)

	timer := StartTimer(context.Background(), b, registry, store, clock)
	defer timer.Stop()
	clock.BlockUntil(1)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		want := i + 1
		waitFor(t, "tick", func() bool {
			return registry.stateUpdates() >= want || store.commitCount() == 1
		})
	}
	waitFor(t, "finalization", func() bool { return store.commitCount() == 1 })

	res := store.saved[0]
	if res.Winner != "A" {
		t.Errorf("tie at the top should resolve to roster order, winner=%q", res.Winner)
	}
	want := []RankingEntry{
		{Country: "A", Score: 10, Position: 1},
		{Country: "B", Score: 10, Position: 2},
		{Country: "C", Score: 0, Position: 3},
	}
	if len(res.Rankings) != len(want) {
		t.Fatalf("expected %d result rows, got %d", len(want), len(res.Rankings))
	}
	for i, e := range res.Rankings {
		if e != want[i] {
			t.Errorf("row %d: expected %+v, got %+v", i, want[i], e)
		}
	}
}

func TestTimerStopsWhenBattleAlreadyFinished(t *testing.T) {
	b, clock := newTestBattle(t, []string{"Turkey", "Egypt"}, time.Hour)
	registry := &fakeRegistry{}
	store := &fakeStore{}

	if err := b.End(context.Background(), registry, store); err != nil {
		t.Fatalf("End: %v", err)
	}

	timer := StartTimer(context.Background(), b, registry, store, clock)
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	done := make(chan struct{})
	go func() {
		timer.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not exit for a finished battle")
	}

	if store.commitCount() != 1 {
		t.Errorf("expected the single pre-existing commit, got %d", store.commitCount())
	}
}
