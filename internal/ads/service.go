package ads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"adbot/internal/cooldown"
	"adbot/internal/eventbus"
	"adbot/internal/pending"
	"adbot/internal/perm"
	"adbot/internal/storage"
	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

// Capabilities gating the ad flow. Rank cooldown capabilities are built as
// RankCapPrefix + rank name.
const (
	CapUse    = "ads.use"
	CapBypass = "ads.bypass"
	CapAdmin  = "ads.admin"
	CapReview = "ads.review"

	RankCapPrefix = "ads.cooldown."
)

// Event types published on the bus. Data is the acting actor id (int64)
// except for EventBroadcast, which carries a BroadcastEvent.
const (
	EventSubmitted = "ad.submitted"
	EventQueued    = "ad.queued"
	EventBroadcast = "ad.broadcast"
	EventCancelled = "ad.cancelled"
	EventExpired   = "ad.expired"
	EventReviewed  = "ad.reviewed"
)

// BroadcastEvent is the bus payload for a completed broadcast.
type BroadcastEvent struct {
	Actor     int64
	Delivered int
	Failed    int
}

var ErrNotAllowed = errors.New("actor lacks the required capability")

// Settings is the coordinator's immutable policy snapshot. Config reloads
// build a fresh Settings and swap it in wholesale.
type Settings struct {
	ConfirmTimeout time.Duration
	RequireReview  bool

	MinLength    int
	MaxLength    int
	BlockedWords []string

	BroadcastChats []int64
	Prefix         string

	// NotifyChat receives reviewer alerts and operational notices; 0 disables.
	NotifyChat int64

	// CountdownUpdates bounds live countdown edits on cooldown replies.
	CountdownUpdates int
}

// SubmitStatus classifies the outcome of a submission attempt.
type SubmitStatus int

const (
	// SubmitPending means the draft was admitted and awaits confirmation.
	SubmitPending SubmitStatus = iota
	// SubmitQueued means review mode routed the ad to the manual queue.
	SubmitQueued
	// SubmitAlreadyPending means the actor already has an unconfirmed draft.
	SubmitAlreadyPending
	// SubmitOnCooldown means the actor must wait RemainingSeconds first.
	SubmitOnCooldown
	// SubmitRejected means the text failed moderation; see Reason.
	SubmitRejected
	// SubmitDenied means the actor lacks the use capability.
	SubmitDenied
	// SubmitFailed means an internal error prevented the submission.
	SubmitFailed
)

// SubmitResult reports what happened to a submission attempt.
type SubmitResult struct {
	Status           SubmitStatus
	RemainingSeconds int64  // set when Status == SubmitOnCooldown
	Reason           string // set when Status == SubmitRejected
	Bypass           bool   // the actor holds the bypass capability
}

// BroadcastReport counts per-chat delivery results.
type BroadcastReport struct {
	Delivered int
	Failed    int
}

// Service is the ad flow coordinator.
type Service struct {
	log     logx.Logger
	adapter transport.Adapter
	cool    *cooldown.Store
	reg     *pending.Registry
	durable storage.Store
	checker perm.Checker
	bus     eventbus.Bus

	settings atomic.Pointer[Settings]

	// origins remembers where each pending draft was submitted from, so the
	// expiry notice lands in the right chat. Entries live exactly as long as
	// the registry entry they belong to.
	origins sync.Map // int64 -> transport.ChatTarget

	// now is swappable for tests.
	now func() time.Time
}

func NewService(
	adapter transport.Adapter,
	cool *cooldown.Store,
	reg *pending.Registry,
	durable storage.Store,
	checker perm.Checker,
	bus eventbus.Bus,
	settings *Settings,
	log logx.Logger,
) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		adapter: adapter,
		cool:    cool,
		reg:     reg,
		durable: durable,
		checker: checker,
		bus:     bus,
		now:     time.Now,
	}
	s.settings.Store(settings)
	return s
}

// UpdateSettings replaces the policy snapshot (config reload).
func (s *Service) UpdateSettings(cfg *Settings) { s.settings.Store(cfg) }

// Settings returns the current policy snapshot.
func (s *Service) Settings() *Settings { return s.settings.Load() }

// Submit runs the full admission pipeline for an ad: capability gate,
// moderation, cooldown check, then either the review queue or the pending
// registry with a confirmation timeout armed.
func (s *Service) Submit(ctx context.Context, actor int64, origin transport.ChatTarget, text string) SubmitResult {
	cfg := s.settings.Load()

	if !s.checker.Has(actor, CapUse) {
		return SubmitResult{Status: SubmitDenied}
	}

	// An unconfirmed draft blocks a second submission outright, before the
	// cooldown is even consulted. Admit below stays the authoritative atomic
	// insert; this early check only decides which answer the actor gets.
	if _, ok := s.reg.Peek(actor); ok {
		return SubmitResult{Status: SubmitAlreadyPending}
	}

	if reason := Validate(text, cfg.MinLength, cfg.MaxLength, cfg.BlockedWords); reason != "" {
		return SubmitResult{Status: SubmitRejected, Reason: reason}
	}

	bypass := s.checker.Has(actor, CapBypass)
	if rem := s.cool.RemainingSeconds(ctx, actor); rem > 0 {
		return SubmitResult{Status: SubmitOnCooldown, RemainingSeconds: rem}
	}

	if cfg.RequireReview && !s.checker.Has(actor, CapAdmin) {
		return s.queueForReview(ctx, actor, text, bypass)
	}

	if err := s.reg.Admit(actor, text, s.now()); err != nil {
		return SubmitResult{Status: SubmitAlreadyPending}
	}
	s.origins.Store(actor, origin)
	s.reg.ArmTimeout(actor, cfg.ConfirmTimeout, s.onExpire)

	s.bus.Publish(eventbus.Event{Type: EventSubmitted, Data: actor})
	s.log.Debug("ad draft admitted",
		logx.Int64("actor", actor),
		logx.Int("length", len(text)),
		logx.Duration("confirm_timeout", cfg.ConfirmTimeout))
	return SubmitResult{Status: SubmitPending, Bypass: bypass}
}

func (s *Service) queueForReview(ctx context.Context, actor int64, text string, bypass bool) SubmitResult {
	if err := s.durable.EnqueueReview(ctx, storage.ReviewItem{
		SubmitterID: actor,
		Message:     text,
		SubmittedAt: s.now(),
	}); err != nil {
		s.log.Error("review enqueue failed", logx.Int64("actor", actor), logx.Err(err))
		return SubmitResult{Status: SubmitFailed}
	}

	// The cooldown starts at queue time so the actor cannot flood the queue
	// while waiting on a reviewer.
	s.cool.Record(actor, s.now())

	cfg := s.settings.Load()
	if cfg.NotifyChat != 0 {
		notice := fmt.Sprintf("New ad from %d awaiting review:\n%s", actor, text)
		if _, err := s.adapter.SendText(ctx, transport.ChatTarget{ChatID: cfg.NotifyChat}, notice, nil); err != nil {
			s.log.Warn("reviewer alert failed", logx.Err(err))
		}
	}

	s.bus.Publish(eventbus.Event{Type: EventQueued, Data: actor})
	return SubmitResult{Status: SubmitQueued, Bypass: bypass}
}

// Confirm broadcasts the actor's pending draft and starts their cooldown.
// It returns pending.ErrNoPending when there is nothing to confirm (already
// cancelled, expired, or never submitted).
func (s *Service) Confirm(ctx context.Context, actor int64) (BroadcastReport, error) {
	sub, err := s.reg.Confirm(actor)
	if err != nil {
		return BroadcastReport{}, err
	}
	s.origins.Delete(actor)

	rep := s.broadcast(ctx, sub.Payload)
	s.cool.Record(actor, s.now())

	s.bus.Publish(eventbus.Event{Type: EventBroadcast, Data: BroadcastEvent{
		Actor:     actor,
		Delivered: rep.Delivered,
		Failed:    rep.Failed,
	}})
	s.log.Info("ad broadcast",
		logx.Int64("actor", actor),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed))
	return rep, nil
}

// Cancel discards the actor's pending draft. No cooldown is recorded.
func (s *Service) Cancel(actor int64) error {
	if err := s.reg.Cancel(actor); err != nil {
		return err
	}
	s.origins.Delete(actor)
	s.bus.Publish(eventbus.Event{Type: EventCancelled, Data: actor})
	s.log.Debug("ad draft cancelled", logx.Int64("actor", actor))
	return nil
}

// Pending reports the actor's unconfirmed draft, if any.
func (s *Service) Pending(actor int64) (pending.Submission, bool) {
	return s.reg.Peek(actor)
}

// Remaining returns the actor's remaining cooldown in whole seconds.
func (s *Service) Remaining(ctx context.Context, actor int64) int64 {
	return s.cool.RemainingSeconds(ctx, actor)
}

// BroadcastNow sends text to the broadcast chats immediately, skipping
// moderation, cooldown, and confirmation. Requires the admin capability.
func (s *Service) BroadcastNow(ctx context.Context, actor int64, text string) (BroadcastReport, error) {
	if !s.checker.Has(actor, CapAdmin) {
		return BroadcastReport{}, ErrNotAllowed
	}
	rep := s.broadcast(ctx, text)
	s.bus.Publish(eventbus.Event{Type: EventBroadcast, Data: BroadcastEvent{
		Actor:     actor,
		Delivered: rep.Delivered,
		Failed:    rep.Failed,
	}})
	s.log.Info("admin broadcast",
		logx.Int64("actor", actor),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed))
	return rep, nil
}

// Reviews lists queued ads awaiting manual approval.
func (s *Service) Reviews(ctx context.Context, actor int64, limit int) ([]storage.ReviewItem, error) {
	if !s.checker.Has(actor, CapReview) {
		return nil, ErrNotAllowed
	}
	return s.durable.PendingReviews(ctx, limit)
}

// ApproveReview broadcasts a queued ad and removes it from the queue. The
// submitter's cooldown was already recorded at queue time. ok is false when
// the item no longer exists.
func (s *Service) ApproveReview(ctx context.Context, reviewer, id int64) (BroadcastReport, bool, error) {
	if !s.checker.Has(reviewer, CapReview) {
		return BroadcastReport{}, false, ErrNotAllowed
	}
	item, ok, err := s.durable.ResolveReview(ctx, id)
	if err != nil || !ok {
		return BroadcastReport{}, ok, err
	}

	rep := s.broadcast(ctx, item.Message)
	s.notifyActor(ctx, item.SubmitterID, "Your ad was approved and broadcast.")

	s.bus.Publish(eventbus.Event{Type: EventReviewed, Data: item.SubmitterID})
	s.log.Info("review approved",
		logx.Int64("reviewer", reviewer),
		logx.Int64("submitter", item.SubmitterID),
		logx.Int64("id", id))
	return rep, true, nil
}

// RejectReview drops a queued ad and tells the submitter. ok is false when
// the item no longer exists.
func (s *Service) RejectReview(ctx context.Context, reviewer, id int64) (bool, error) {
	if !s.checker.Has(reviewer, CapReview) {
		return false, ErrNotAllowed
	}
	item, ok, err := s.durable.ResolveReview(ctx, id)
	if err != nil || !ok {
		return ok, err
	}

	s.notifyActor(ctx, item.SubmitterID, "Your ad was rejected by a reviewer.")

	s.bus.Publish(eventbus.Event{Type: EventReviewed, Data: item.SubmitterID})
	s.log.Info("review rejected",
		logx.Int64("reviewer", reviewer),
		logx.Int64("submitter", item.SubmitterID),
		logx.Int64("id", id))
	return true, nil
}

// onExpire runs when a confirmation window times out. The registry already
// removed the entry; this is notification and bookkeeping only.
func (s *Service) onExpire(sub pending.Submission) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.bus.Publish(eventbus.Event{Type: EventExpired, Data: sub.Actor})
	s.log.Debug("ad draft expired", logx.Int64("actor", sub.Actor))

	if v, ok := s.origins.LoadAndDelete(sub.Actor); ok {
		target := v.(transport.ChatTarget)
		if _, err := s.adapter.SendText(ctx, target, "Your pending ad expired without confirmation.", nil); err != nil {
			s.log.Trace("expiry notice failed", logx.Int64("actor", sub.Actor), logx.Err(err))
		}
	}
}

func (s *Service) broadcast(ctx context.Context, text string) BroadcastReport {
	cfg := s.settings.Load()
	msg := text
	if cfg.Prefix != "" {
		msg = cfg.Prefix + " " + text
	}

	var rep BroadcastReport
	for _, chat := range cfg.BroadcastChats {
		if _, err := s.adapter.SendText(ctx, transport.ChatTarget{ChatID: chat}, msg, nil); err != nil {
			rep.Failed++
			s.log.Warn("broadcast delivery failed", logx.Int64("chat", chat), logx.Err(err))
			continue
		}
		rep.Delivered++
	}
	return rep
}

func (s *Service) notifyActor(ctx context.Context, actor int64, text string) {
	if _, err := s.adapter.SendText(ctx, transport.ChatTarget{ChatID: actor}, text, nil); err != nil {
		s.log.Trace("actor notice failed", logx.Int64("actor", actor), logx.Err(err))
	}
}
