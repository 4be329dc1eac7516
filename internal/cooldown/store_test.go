package cooldown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adbot/internal/storage"
	logx "adbot/pkg/logx"
)

// memStore is an in-memory storage.Store for tests.
type memStore struct {
	mu       sync.Mutex
	cooldown map[int64]int64
	loads    int
	saves    int
	failLoad bool
	failSave bool
}

func newMemStore() *memStore {
	return &memStore{cooldown: map[int64]int64{}}
}

func (m *memStore) LoadCooldown(_ context.Context, actorID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad {
		return 0, false, errors.New("disk gone")
	}
	ms, ok := m.cooldown[actorID]
	return ms, ok, nil
}

func (m *memStore) SaveCooldown(_ context.Context, actorID int64, lastMilli int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failSave {
		return errors.New("disk gone")
	}
	m.cooldown[actorID] = lastMilli
	return nil
}

func (m *memStore) EnqueueReview(context.Context, storage.ReviewItem) error { return nil }
func (m *memStore) PendingReviews(context.Context, int) ([]storage.ReviewItem, error) {
	return nil, nil
}
func (m *memStore) ResolveReview(context.Context, int64) (storage.ReviewItem, bool, error) {
	return storage.ReviewItem{}, false, nil
}
func (m *memStore) Close() error { return nil }

func (m *memStore) get(actorID int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.cooldown[actorID]
	return ms, ok
}

func (m *memStore) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// capSet is a static capability checker.
type capSet map[int64]map[string]bool

func (c capSet) Has(actor int64, capability string) bool { return c[actor][capability] }

func testRules(def time.Duration, ranks map[string]time.Duration) *Rules {
	return NewRules(def, "ads.bypass", ranks, "ads.cooldown.")
}

func newTestStore(t *testing.T, rules *Rules, durable storage.Store, checker capSet) *Store {
	t.Helper()
	s := New(rules, durable, checker, 16, logx.Nop())
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestEffectiveMinimumWins(t *testing.T) {
	rules := testRules(300*time.Second, map[string]time.Duration{
		"a": 600 * time.Second,
		"b": 120 * time.Second,
	})
	checker := capSet{1: {"ads.cooldown.a": true, "ads.cooldown.b": true}}
	s := newTestStore(t, rules, newMemStore(), checker)

	if got := s.Effective(1); got != 120*time.Second {
		t.Fatalf("effective = %v, want 120s (minimum of held ranks)", got)
	}
	if got := s.Effective(2); got != 300*time.Second {
		t.Fatalf("effective for unranked = %v, want default 300s", got)
	}
}

func TestRemainingScenario(t *testing.T) {
	s := newTestStore(t, testRules(300*time.Second, nil), newMemStore(), capSet{})

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	s.Record(1, base)

	ctx := context.Background()
	now = base.Add(100 * time.Second)
	if got := s.RemainingSeconds(ctx, 1); got != 200 {
		t.Fatalf("remaining at t+100 = %d, want 200", got)
	}
	now = base.Add(300 * time.Second)
	if got := s.RemainingSeconds(ctx, 1); got != 0 {
		t.Fatalf("remaining at t+300 = %d, want 0", got)
	}
	now = base.Add(301 * time.Second)
	if got := s.RemainingSeconds(ctx, 1); got != 0 {
		t.Fatalf("remaining at t+301 = %d, want 0", got)
	}
}

func TestRecordVisibleImmediately(t *testing.T) {
	s := newTestStore(t, testRules(300*time.Second, nil), newMemStore(), capSet{})

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Record(1, base)

	got := s.RemainingSeconds(context.Background(), 1)
	if got < 299 || got > 300 {
		t.Fatalf("remaining right after record = %d, want within [299, 300]", got)
	}
}

func TestBypassShortCircuits(t *testing.T) {
	durable := newMemStore()
	durable.cooldown[1] = time.Now().UnixMilli() // fresh record on disk
	checker := capSet{1: {"ads.bypass": true}}
	s := newTestStore(t, testRules(300*time.Second, nil), durable, checker)

	if got := s.RemainingSeconds(context.Background(), 1); got != 0 {
		t.Fatalf("remaining with bypass = %d, want 0", got)
	}
	if durable.loadCount() != 0 {
		t.Fatalf("bypass must not touch the durable store (loads = %d)", durable.loadCount())
	}
}

func TestCacheMissLoadsOnceAndPopulates(t *testing.T) {
	durable := newMemStore()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	durable.cooldown[1] = base.UnixMilli()

	s := newTestStore(t, testRules(300*time.Second, nil), durable, capSet{})
	s.now = func() time.Time { return base.Add(100 * time.Second) }

	ctx := context.Background()
	if got := s.RemainingSeconds(ctx, 1); got != 200 {
		t.Fatalf("remaining = %d, want 200", got)
	}
	if got := s.RemainingSeconds(ctx, 1); got != 200 {
		t.Fatalf("remaining (cached) = %d, want 200", got)
	}
	if durable.loadCount() != 1 {
		t.Fatalf("durable loads = %d, want 1 (second call served from cache)", durable.loadCount())
	}
}

func TestLoadFailureDegradesToNoRecord(t *testing.T) {
	durable := newMemStore()
	durable.failLoad = true
	s := newTestStore(t, testRules(300*time.Second, nil), durable, capSet{})

	if got := s.RemainingSeconds(context.Background(), 1); got != 0 {
		t.Fatalf("remaining with broken store = %d, want 0 (availability over strictness)", got)
	}
}

func TestWriteBehindPersists(t *testing.T) {
	durable := newMemStore()
	s := newTestStore(t, testRules(300*time.Second, nil), durable, capSet{})

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.Record(1, base)
	s.Record(1, base.Add(time.Minute)) // same actor, newer value must win

	deadline := time.Now().Add(2 * time.Second)
	for {
		if ms, ok := durable.get(1); ok && ms == base.Add(time.Minute).UnixMilli() {
			break
		}
		if time.Now().After(deadline) {
			ms, ok := durable.get(1)
			t.Fatalf("durable = (%d, %v), want the newer timestamp", ms, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSaveFailureDoesNotAffectCache(t *testing.T) {
	durable := newMemStore()
	durable.failSave = true
	s := newTestStore(t, testRules(300*time.Second, nil), durable, capSet{})

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base.Add(10 * time.Second) }
	s.Record(1, base)

	if got := s.RemainingSeconds(context.Background(), 1); got != 290 {
		t.Fatalf("remaining = %d, want 290 (cache authoritative despite save failures)", got)
	}
}

func TestFlushAllWritesEveryEntry(t *testing.T) {
	durable := newMemStore()
	s := New(testRules(300*time.Second, nil), durable, capSet{}, 16, logx.Nop())

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	// Writer never started: Record falls back to the cache only.
	s.Record(1, base)
	s.Record(2, base.Add(time.Second))

	s.FlushAll(context.Background())

	for actor, want := range map[int64]int64{1: base.UnixMilli(), 2: base.Add(time.Second).UnixMilli()} {
		if ms, ok := durable.get(actor); !ok || ms != want {
			t.Fatalf("actor %d durable = (%d, %v), want %d", actor, ms, ok, want)
		}
	}
}

func TestSetRulesSwapsWholesale(t *testing.T) {
	s := newTestStore(t, testRules(300*time.Second, nil), newMemStore(), capSet{1: {"ads.cooldown.vip": true}})

	if got := s.Effective(1); got != 300*time.Second {
		t.Fatalf("effective = %v, want default", got)
	}
	s.SetRules(testRules(300*time.Second, map[string]time.Duration{"vip": 60 * time.Second}))
	if got := s.Effective(1); got != 60*time.Second {
		t.Fatalf("effective after reload = %v, want 60s", got)
	}
}
