package ads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adbot/internal/cooldown"
	"adbot/internal/eventbus"
	"adbot/internal/pending"
	"adbot/internal/storage"
	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

type sentMsg struct {
	Chat int64
	Text string
}

// fakeAdapter records outgoing messages.
type fakeAdapter struct {
	mu       sync.Mutex
	sends    []sentMsg
	edits    []sentMsg
	failSend bool
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return transport.MessageRef{}, errors.New("send failed")
	}
	f.sends = append(f.sends, sentMsg{Chat: to.ChatID, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sends)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref transport.MessageRef, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMsg{Chat: ref.ChatID, Text: text})
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sends...)
}

func (f *fakeAdapter) sentTo(chat int64) []sentMsg {
	var out []sentMsg
	for _, m := range f.sent() {
		if m.Chat == chat {
			out = append(out, m)
		}
	}
	return out
}

// fakeStore is an in-memory storage.Store with a review queue.
type fakeStore struct {
	mu       sync.Mutex
	cooldown map[int64]int64
	reviews  []storage.ReviewItem
	nextID   int64
}

func newFakeStore() *fakeStore { return &fakeStore{cooldown: map[int64]int64{}} }

func (f *fakeStore) LoadCooldown(_ context.Context, actorID int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ms, ok := f.cooldown[actorID]
	return ms, ok, nil
}

func (f *fakeStore) SaveCooldown(_ context.Context, actorID, lastMilli int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldown[actorID] = lastMilli
	return nil
}

func (f *fakeStore) EnqueueReview(_ context.Context, item storage.ReviewItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	item.ID = f.nextID
	f.reviews = append(f.reviews, item)
	return nil
}

func (f *fakeStore) PendingReviews(_ context.Context, limit int) ([]storage.ReviewItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]storage.ReviewItem(nil), f.reviews...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ResolveReview(_ context.Context, id int64) (storage.ReviewItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.reviews {
		if it.ID == id {
			f.reviews = append(f.reviews[:i], f.reviews[i+1:]...)
			return it, true, nil
		}
	}
	return storage.ReviewItem{}, false, nil
}

func (f *fakeStore) Close() error { return nil }

// capSet is a static capability checker.
type capSet map[int64]map[string]bool

func (c capSet) Has(actor int64, capability string) bool { return c[actor][capability] }

const (
	user     int64 = 10
	admin    int64 = 20
	bypasser int64 = 30
	stranger int64 = 40
)

func defaultCaps() capSet {
	return capSet{
		user:     {CapUse: true},
		admin:    {CapUse: true, CapAdmin: true, CapReview: true},
		bypasser: {CapUse: true, CapBypass: true},
	}
}

func defaultSettings() *Settings {
	return &Settings{
		ConfirmTimeout: time.Minute,
		MinLength:      3,
		MaxLength:      200,
		BlockedWords:   []string{"spam"},
		BroadcastChats: []int64{-100, -200},
		Prefix:         "[AD]",
		NotifyChat:     -999,
	}
}

type fixture struct {
	svc     *Service
	adapter *fakeAdapter
	store   *fakeStore
	checker capSet
}

func newFixture(t *testing.T, cfg *Settings) *fixture {
	t.Helper()
	adapter := &fakeAdapter{}
	store := newFakeStore()
	checker := defaultCaps()
	rules := cooldown.NewRules(300*time.Second, CapBypass, nil, RankCapPrefix)
	cool := cooldown.New(rules, store, checker, 16, logx.Nop())
	svc := NewService(adapter, cool, pending.NewRegistry(), store, checker, eventbus.New(), cfg, logx.Nop())
	return &fixture{svc: svc, adapter: adapter, store: store, checker: checker}
}

func TestSubmitConfirmBroadcasts(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	origin := transport.ChatTarget{ChatID: user}

	res := f.svc.Submit(ctx, user, origin, "buy my stuff")
	if res.Status != SubmitPending {
		t.Fatalf("submit status = %v, want pending", res.Status)
	}

	rep, err := f.svc.Confirm(ctx, user)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if rep.Delivered != 2 || rep.Failed != 0 {
		t.Fatalf("report = %+v, want 2 delivered", rep)
	}

	sends := f.adapter.sent()
	if len(sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(sends))
	}
	if sends[0].Text != "[AD] buy my stuff" {
		t.Fatalf("broadcast text = %q, want prefixed", sends[0].Text)
	}

	// Broadcast starts the cooldown; the very next submission must see it.
	res = f.svc.Submit(ctx, user, origin, "buy my stuff")
	if res.Status != SubmitOnCooldown {
		t.Fatalf("second submit status = %v, want on-cooldown", res.Status)
	}
	if res.RemainingSeconds < 299 || res.RemainingSeconds > 300 {
		t.Fatalf("remaining = %d, want within [299, 300]", res.RemainingSeconds)
	}
}

func TestSubmitDeniedWithoutCapability(t *testing.T) {
	f := newFixture(t, defaultSettings())
	res := f.svc.Submit(context.Background(), stranger, transport.ChatTarget{ChatID: stranger}, "hello there")
	if res.Status != SubmitDenied {
		t.Fatalf("status = %v, want denied", res.Status)
	}
}

func TestSubmitModeration(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	origin := transport.ChatTarget{ChatID: user}

	if res := f.svc.Submit(ctx, user, origin, "hi"); res.Status != SubmitRejected {
		t.Fatalf("short text status = %v, want rejected", res.Status)
	}
	if res := f.svc.Submit(ctx, user, origin, "definitely not SPAM at all"); res.Status != SubmitRejected {
		t.Fatalf("blocked word status = %v, want rejected", res.Status)
	}
	// Rejections must not leave a pending draft behind.
	if _, ok := f.svc.Pending(user); ok {
		t.Fatal("rejected submit left a pending draft")
	}
}

func TestSecondSubmitAlreadyPending(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	origin := transport.ChatTarget{ChatID: user}

	if res := f.svc.Submit(ctx, user, origin, "first draft"); res.Status != SubmitPending {
		t.Fatalf("first submit: %v", res.Status)
	}
	if res := f.svc.Submit(ctx, user, origin, "second draft"); res.Status != SubmitAlreadyPending {
		t.Fatalf("second submit status = %v, want already-pending", res.Status)
	}
}

func TestPendingDraftWinsOverCooldown(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	origin := transport.ChatTarget{ChatID: user}

	if res := f.svc.Submit(ctx, user, origin, "first draft"); res.Status != SubmitPending {
		t.Fatalf("first submit: %v", res.Status)
	}
	// Put the actor on cooldown while the draft is still unconfirmed (a rules
	// reload can lengthen the cooldown after an earlier broadcast).
	if err := f.store.SaveCooldown(ctx, user, time.Now().UnixMilli()); err != nil {
		t.Fatalf("save: %v", err)
	}

	res := f.svc.Submit(ctx, user, origin, "second draft")
	if res.Status != SubmitAlreadyPending {
		t.Fatalf("second submit = %v, want already-pending (the draft answer wins over the cooldown answer)", res.Status)
	}
	// The draft must still be confirmable.
	if _, err := f.svc.Confirm(ctx, user); err != nil {
		t.Fatalf("confirm: %v", err)
	}
}

func TestCancelLeavesNoCooldown(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	origin := transport.ChatTarget{ChatID: user}

	f.svc.Submit(ctx, user, origin, "a cancelled ad")
	if err := f.svc.Cancel(user); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.svc.Cancel(user); !errors.Is(err, pending.ErrNoPending) {
		t.Fatalf("second cancel = %v, want ErrNoPending", err)
	}
	if got := f.svc.Remaining(ctx, user); got != 0 {
		t.Fatalf("remaining after cancel = %d, want 0 (no broadcast happened)", got)
	}
	if len(f.adapter.sent()) != 0 {
		t.Fatal("cancel must not broadcast")
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	f := newFixture(t, defaultSettings())
	if _, err := f.svc.Confirm(context.Background(), user); !errors.Is(err, pending.ErrNoPending) {
		t.Fatalf("confirm = %v, want ErrNoPending", err)
	}
}

func TestExpiryReopensAdmissionAndNotifies(t *testing.T) {
	cfg := defaultSettings()
	cfg.ConfirmTimeout = 30 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()
	origin := transport.ChatTarget{ChatID: 777}

	if res := f.svc.Submit(ctx, user, origin, "an expiring ad"); res.Status != SubmitPending {
		t.Fatalf("submit: %v", res.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := f.svc.Pending(user); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("draft never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Expiry is not a confirm: no broadcast, no cooldown, and admission reopens.
	if got := f.svc.Remaining(ctx, user); got != 0 {
		t.Fatalf("remaining after expiry = %d, want 0", got)
	}
	if res := f.svc.Submit(ctx, user, origin, "a fresh draft"); res.Status != SubmitPending {
		t.Fatalf("resubmit after expiry = %v, want pending", res.Status)
	}

	// The notice is sent after the registry entry is removed; give it a moment.
	for {
		if len(f.adapter.sentTo(777)) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expiry notices = %d, want 1 in the origin chat", len(f.adapter.sentTo(777)))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBypassSkipsCooldown(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	origin := transport.ChatTarget{ChatID: bypasser}

	res := f.svc.Submit(ctx, bypasser, origin, "bypass round one")
	if res.Status != SubmitPending || !res.Bypass {
		t.Fatalf("submit = %+v, want pending with bypass", res)
	}
	if _, err := f.svc.Confirm(ctx, bypasser); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if res := f.svc.Submit(ctx, bypasser, origin, "bypass round two"); res.Status != SubmitPending {
		t.Fatalf("second submit = %v, want pending (bypass waives cooldown)", res.Status)
	}
}

func TestReviewModeQueues(t *testing.T) {
	cfg := defaultSettings()
	cfg.RequireReview = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	res := f.svc.Submit(ctx, user, transport.ChatTarget{ChatID: user}, "a reviewed ad")
	if res.Status != SubmitQueued {
		t.Fatalf("submit status = %v, want queued", res.Status)
	}

	items, err := f.svc.Reviews(ctx, admin, 10)
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if len(items) != 1 || items[0].SubmitterID != user || items[0].Message != "a reviewed ad" {
		t.Fatalf("queue = %+v", items)
	}

	// Queueing starts the cooldown so the queue cannot be flooded.
	if got := f.svc.Remaining(ctx, user); got == 0 {
		t.Fatal("queueing must start the cooldown")
	}
	// Nothing reached the broadcast chats yet; only the reviewer alert went out.
	if got := f.adapter.sentTo(-100); len(got) != 0 {
		t.Fatal("queued ad must not broadcast before approval")
	}
	if got := f.adapter.sentTo(cfg.NotifyChat); len(got) != 1 {
		t.Fatalf("reviewer alerts = %d, want 1", len(got))
	}
}

func TestReviewModeAdminsSkipQueue(t *testing.T) {
	cfg := defaultSettings()
	cfg.RequireReview = true
	f := newFixture(t, cfg)

	res := f.svc.Submit(context.Background(), admin, transport.ChatTarget{ChatID: admin}, "an admin ad")
	if res.Status != SubmitPending {
		t.Fatalf("admin submit = %v, want pending (admins bypass review)", res.Status)
	}
}

func TestApproveReviewBroadcasts(t *testing.T) {
	cfg := defaultSettings()
	cfg.RequireReview = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.svc.Submit(ctx, user, transport.ChatTarget{ChatID: user}, "approve me please")
	items, _ := f.svc.Reviews(ctx, admin, 10)
	if len(items) != 1 {
		t.Fatalf("queue = %+v", items)
	}

	rep, ok, err := f.svc.ApproveReview(ctx, admin, items[0].ID)
	if err != nil || !ok {
		t.Fatalf("approve = (%v, %v)", ok, err)
	}
	if rep.Delivered != 2 {
		t.Fatalf("delivered = %d, want 2", rep.Delivered)
	}
	if got := f.adapter.sentTo(-100); len(got) != 1 || got[0].Text != "[AD] approve me please" {
		t.Fatalf("broadcast = %+v", got)
	}

	// Approving again must miss; another reviewer already took it.
	if _, ok, err := f.svc.ApproveReview(ctx, admin, items[0].ID); err != nil || ok {
		t.Fatalf("second approve = (%v, %v), want miss", ok, err)
	}
	if left, _ := f.svc.Reviews(ctx, admin, 10); len(left) != 0 {
		t.Fatalf("queue still holds %d items", len(left))
	}
}

func TestRejectReviewNotifiesSubmitter(t *testing.T) {
	cfg := defaultSettings()
	cfg.RequireReview = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.svc.Submit(ctx, user, transport.ChatTarget{ChatID: user}, "reject me please")
	items, _ := f.svc.Reviews(ctx, admin, 10)

	ok, err := f.svc.RejectReview(ctx, admin, items[0].ID)
	if err != nil || !ok {
		t.Fatalf("reject = (%v, %v)", ok, err)
	}
	if got := f.adapter.sentTo(-100); len(got) != 0 {
		t.Fatal("rejected ad must not broadcast")
	}
	if got := f.adapter.sentTo(user); len(got) != 1 {
		t.Fatalf("submitter notices = %d, want 1", len(got))
	}
}

func TestBroadcastNowRequiresAdmin(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	if _, err := f.svc.BroadcastNow(ctx, user, "sneaky"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}

	rep, err := f.svc.BroadcastNow(ctx, admin, "maintenance tonight")
	if err != nil {
		t.Fatalf("admin broadcast: %v", err)
	}
	if rep.Delivered != 2 {
		t.Fatalf("delivered = %d, want 2", rep.Delivered)
	}
	// Direct broadcasts skip the cooldown entirely.
	if got := f.svc.Remaining(ctx, admin); got != 0 {
		t.Fatalf("remaining after admin broadcast = %d, want 0", got)
	}
}

func TestReviewsRequireCapability(t *testing.T) {
	f := newFixture(t, defaultSettings())
	if _, err := f.svc.Reviews(context.Background(), user, 10); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("err = %v, want ErrNotAllowed", err)
	}
}
