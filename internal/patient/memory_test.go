package patient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	store := NewMemoryStore(nil)
	if _, err := store.GetOrCreate(context.Background(), "  "); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("expected ErrSessionIDRequired, got %v", err)
	}
}

func TestMemoryStoreSnapshotMissing(t *testing.T) {
	store := NewMemoryStore(nil)
	if _, err := store.Snapshot(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreConcurrentSessionsIndependent(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i%4)
			_, _ = store.Merge(ctx, id, FactDelta{Confirmed: []string{fmt.Sprintf("symptom %d", i)}})
		}(i)
	}
	wg.Wait()
	total := 0
	for i := 0; i < 4; i++ {
		snap, err := store.Snapshot(ctx, fmt.Sprintf("s-%d", i))
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		total += len(snap.Confirmed)
	}
	if total != 32 {
		t.Fatalf("expected 32 confirmed symptoms across sessions, got %d", total)
	}
}

func TestMemoryStoreDeleteAndPrune(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore(clock)
	ctx := context.Background()
	_, _ = store.GetOrCreate(ctx, "old")
	now = now.Add(2 * time.Hour)
	_, _ = store.GetOrCreate(ctx, "fresh")
	_, _ = store.GetOrCreate(ctx, "gone")
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed := store.Prune(time.Hour); removed != 1 {
		t.Fatalf("expected 1 pruned session, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected only fresh session left, got %d", store.Len())
	}
}

func TestMergeAfterPruneLandsOnLiveSession(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	if _, err := store.Merge(ctx, "s", FactDelta{Confirmed: []string{"cough"}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	// A merge that looked the entry up just before Prune removed it.
	stale := store.entry("s", false)
	stale.mu.Lock()
	stale.dead = true
	stale.mu.Unlock()

	snap, err := store.Merge(ctx, "s", FactDelta{Confirmed: []string{"fever"}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(snap.Confirmed) != 1 || snap.Confirmed[0] != "fever" {
		t.Fatalf("expected merge on a fresh session, got %v", snap.Confirmed)
	}
	live := store.entry("s", false)
	if live == nil || live == stale {
		t.Fatalf("expected stale entry replaced in the map")
	}
	got, err := store.Snapshot(ctx, "s")
	if err != nil || len(got.Confirmed) != 1 || got.Confirmed[0] != "fever" {
		t.Fatalf("expected merged fact to be visible, got %+v (%v)", got, err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one live session, got %d", store.Len())
	}
}

func TestPruneAndDeleteMarkEntriesDead(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()
	_, _ = store.GetOrCreate(ctx, "idle")
	_, _ = store.GetOrCreate(ctx, "reset")
	idle, reset := store.entry("idle", false), store.entry("reset", false)
	now = now.Add(2 * time.Hour)
	_, _ = store.Merge(ctx, "reset", FactDelta{Confirmed: []string{"rash"}})

	if removed := store.Prune(time.Hour); removed != 1 {
		t.Fatalf("expected 1 pruned session, got %d", removed)
	}
	if err := store.Delete(ctx, "reset"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !idle.dead || !reset.dead {
		t.Fatalf("expected removed entries marked dead, got idle=%v reset=%v", idle.dead, reset.dead)
	}
}

func TestTurnQueueOrdersMergesPerSession(t *testing.T) {
	q := NewTurnQueue()
	store := NewMemoryStore(nil)
	ctx := context.Background()

	first, err := q.Acquire(ctx, "s")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	secondDone := make(chan struct{})
	go func() {
		release, err := q.Acquire(ctx, "s")
		if err != nil {
			return
		}
		_, _ = store.Merge(ctx, "s", FactDelta{Denied: []string{"fever"}})
		release()
		close(secondDone)
	}()

	// a different session is not blocked by "s"
	other, err := q.Acquire(ctx, "other")
	if err != nil {
		t.Fatalf("acquire other: %v", err)
	}
	other()

	select {
	case <-secondDone:
		t.Fatalf("second turn ran before first released")
	case <-time.After(20 * time.Millisecond):
	}
	_, _ = store.Merge(ctx, "s", FactDelta{Confirmed: []string{"fever"}})
	first()
	<-secondDone

	snap, _ := store.Snapshot(ctx, "s")
	if len(snap.Confirmed) != 0 || len(snap.Denied) != 1 {
		t.Fatalf("expected later denial to win, got %+v", snap)
	}
	if q.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Pending())
	}
}

func TestTurnQueueCancelledWaiterPassesTurn(t *testing.T) {
	q := NewTurnQueue()
	first, _ := q.Acquire(context.Background(), "s")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Acquire(ctx, "s"); err == nil {
		t.Fatalf("expected cancelled acquire to fail")
	}

	got := make(chan struct{})
	go func() {
		release, err := q.Acquire(context.Background(), "s")
		if err == nil {
			release()
		}
		close(got)
	}()
	first()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("third ticket never ran after cancelled waiter")
	}
}

func TestPrunerSchedule(t *testing.T) {
	p, err := NewPruner(NewMemoryStore(nil), "*/15 * * * *", time.Hour, nil)
	if err != nil {
		t.Fatalf("new pruner: %v", err)
	}
	base := time.Date(2025, 1, 1, 10, 7, 0, 0, time.UTC)
	if next := p.Next(base); !next.Equal(time.Date(2025, 1, 1, 10, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %s", next)
	}
	if _, err := NewPruner(NewMemoryStore(nil), "not a cron", time.Hour, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}
