package cooldown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"adbot/internal/perm"
	"adbot/internal/storage"
	logx "adbot/pkg/logx"
)

// Store resolves and records per-actor cooldowns.
//
// Per-actor state is independently keyed; operations on different actors
// never contend. The only blocking I/O on the interactive path is the
// durable read on a cache miss (first lookup per actor per process).
type Store struct {
	log     logx.Logger
	durable storage.Store
	checker perm.Checker

	rules atomic.Pointer[Rules]

	// cache maps actor id -> last confirmed broadcast time (epoch millis).
	// Authoritative once populated; the durable table only catches up.
	cache sync.Map // int64 -> int64

	writer *writer

	// now is swappable for tests.
	now func() time.Time
}

func New(rules *Rules, durable storage.Store, checker perm.Checker, queueSize int, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		log:     log,
		durable: durable,
		checker: checker,
		now:     time.Now,
	}
	s.rules.Store(rules)
	s.writer = newWriter(durable, queueSize, log)
	return s
}

// Start launches the write-behind worker.
func (s *Store) Start() { s.writer.start() }

// Stop drains the write-behind queue, then flushes the whole cache so the
// durable table is current before the database is closed.
func (s *Store) Stop(ctx context.Context) {
	s.writer.stop(ctx)
	s.FlushAll(ctx)
}

// SetRules replaces the cooldown policy wholesale (config reload).
func (s *Store) SetRules(r *Rules) { s.rules.Store(r) }

// Effective returns the cooldown duration that applies to the actor: the
// minimum duration among rank rules whose capability the actor holds, or
// the default when none match. Minimum wins, favoring the actor.
func (s *Store) Effective(actor int64) time.Duration {
	r := s.rules.Load()
	best := r.Default
	matched := false
	for _, rule := range r.Ranks {
		if !s.checker.Has(actor, rule.Capability) {
			continue
		}
		if !matched || rule.Duration < best {
			best = rule.Duration
			matched = true
		}
	}
	return best
}

// RemainingSeconds returns how many whole seconds of cooldown the actor has
// left, floor-divided and clamped at zero. Holders of the bypass capability
// always get zero, before any store lookup.
func (s *Store) RemainingSeconds(ctx context.Context, actor int64) int64 {
	r := s.rules.Load()
	if r.Bypass != "" && s.checker.Has(actor, r.Bypass) {
		return 0
	}

	last := s.lastAction(ctx, actor)
	if last == 0 {
		return 0
	}

	end := last + s.Effective(actor).Milliseconds()
	now := s.now().UnixMilli()
	if now >= end {
		return 0
	}
	return (end - now) / 1000
}

// lastAction loads the actor's last broadcast time, cache first. A durable
// read failure degrades to "no prior record" rather than blocking the actor.
func (s *Store) lastAction(ctx context.Context, actor int64) int64 {
	if v, ok := s.cache.Load(actor); ok {
		return v.(int64)
	}

	ms, ok, err := s.durable.LoadCooldown(ctx, actor)
	if err != nil {
		s.log.Warn("cooldown load failed; treating as no record", logx.Int64("actor", actor), logx.Err(err))
		return 0
	}
	if !ok || ms <= 0 {
		return 0
	}
	s.cache.Store(actor, ms)
	return ms
}

// Record marks a confirmed broadcast at now. The cache update is synchronous
// and visible to the very next RemainingSeconds call for this actor; the
// durable write is queued behind it.
func (s *Store) Record(actor int64, now time.Time) {
	ms := now.UnixMilli()
	s.cache.Store(actor, ms)

	if !s.writer.enqueue(saveJob{actor: actor, lastMilli: ms}) {
		// Queue full or stopped. The cache already holds the value; the
		// periodic flush or shutdown FlushAll will persist it.
		s.log.Warn("cooldown write-behind queue rejected save", logx.Int64("actor", actor))
	}
}

// FlushAll durably writes every cached entry. Best-effort: individual
// failures are logged and do not block remaining writes.
func (s *Store) FlushAll(ctx context.Context) {
	var n, failed int
	s.cache.Range(func(k, v any) bool {
		n++
		if err := s.durable.SaveCooldown(ctx, k.(int64), v.(int64)); err != nil {
			failed++
			s.log.Warn("cooldown flush write failed", logx.Int64("actor", k.(int64)), logx.Err(err))
		}
		return true
	})
	if n > 0 {
		s.log.Debug("cooldown cache flushed", logx.Int("entries", n), logx.Int("failed", failed))
	}
}
