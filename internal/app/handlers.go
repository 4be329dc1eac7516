package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"adbot/internal/ads"
	"adbot/internal/pending"
	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

const helpText = `Commands:
/ad <text> - submit an ad for broadcast
/ad confirm - broadcast your pending ad
/ad cancel - discard your pending ad
/cooldown - show your remaining cooldown
/broadcast <text> - broadcast immediately (admins)
/review [list|approve <id>|reject <id>] - manage the review queue (reviewers)`

func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			switch up.Kind {
			case transport.UpdateMessage:
				if up.Message != nil {
					a.handleMessage(ctx, up.Message)
				}
			case transport.UpdateCallback:
				if up.Callback != nil {
					a.handleCallback(ctx, up.Callback)
				}
			}
		}
	}
}

// splitCommand extracts a lowercased /command (bot mention stripped) and its
// argument string. Non-commands return an empty command.
func splitCommand(text string) (cmd, rest string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd = text
	if i := strings.IndexAny(text, " \n"); i >= 0 {
		cmd, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), rest
}

func (a *App) handleMessage(ctx context.Context, m *transport.Message) {
	cmd, rest := splitCommand(m.Text)
	if cmd == "" {
		return
	}
	origin := transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}

	switch cmd {
	case "/start", "/help":
		a.reply(ctx, origin, helpText)
	case "/ad":
		a.handleAd(ctx, m.FromID, origin, rest)
	case "/cooldown":
		if rem := a.ads.Remaining(ctx, m.FromID); rem > 0 {
			a.reply(ctx, origin, "You are on cooldown. Time left: "+ads.FormatSeconds(rem))
		} else {
			a.reply(ctx, origin, "You can submit an ad right now.")
		}
	case "/broadcast":
		a.handleBroadcast(ctx, m.FromID, origin, rest)
	case "/review":
		a.handleReview(ctx, m.FromID, origin, rest)
	}
}

func (a *App) handleAd(ctx context.Context, actor int64, origin transport.ChatTarget, rest string) {
	switch strings.ToLower(rest) {
	case "":
		if sub, ok := a.ads.Pending(actor); ok {
			a.reply(ctx, origin, "You have a pending ad:\n"+sub.Payload+"\n\nUse /ad confirm or /ad cancel.")
			return
		}
		a.reply(ctx, origin, "Usage: /ad <text>")
	case "confirm":
		a.confirmAd(ctx, actor, origin)
	case "cancel":
		a.cancelAd(ctx, actor, origin)
	default:
		a.respondSubmit(ctx, actor, origin, rest, a.ads.Submit(ctx, actor, origin, rest))
	}
}

func (a *App) respondSubmit(ctx context.Context, actor int64, origin transport.ChatTarget, text string, res ads.SubmitResult) {
	switch res.Status {
	case ads.SubmitPending:
		cfg := a.ads.Settings()
		preview := text
		if cfg.Prefix != "" {
			preview = cfg.Prefix + " " + text
		}
		msg := "Preview:\n" + preview +
			"\n\nConfirm within " + ads.FormatSeconds(int64(cfg.ConfirmTimeout.Seconds())) + " or it expires."
		if res.Bypass {
			msg += "\nCooldown bypass active."
		}
		opt := &transport.SendOptions{ReplyMarkupAdapter: confirmMarkup(actor)}
		if _, err := a.adapter.SendText(ctx, origin, msg, opt); err != nil {
			a.log.Warn("preview send failed", logx.Int64("actor", actor), logx.Err(err))
		}

	case ads.SubmitQueued:
		a.reply(ctx, origin, "Your ad was submitted for review. A reviewer will handle it shortly.")

	case ads.SubmitAlreadyPending:
		a.reply(ctx, origin, "You already have an ad awaiting confirmation. Use /ad confirm or /ad cancel first.")

	case ads.SubmitOnCooldown:
		a.replyOnCooldown(ctx, actor, origin, res.RemainingSeconds)

	case ads.SubmitRejected:
		a.reply(ctx, origin, "Your ad was rejected: "+res.Reason)

	case ads.SubmitDenied:
		a.reply(ctx, origin, "You are not allowed to submit ads.")

	case ads.SubmitFailed:
		a.reply(ctx, origin, "Something went wrong, please try again later.")
	}
}

// replyOnCooldown sends the remaining time and, when configured, keeps the
// message counting down with a bounded number of edits.
func (a *App) replyOnCooldown(ctx context.Context, actor int64, origin transport.ChatTarget, remaining int64) {
	ref, err := a.adapter.SendText(ctx, origin,
		"You are on cooldown. Time left: "+ads.FormatSeconds(remaining), nil)
	if err != nil {
		a.log.Warn("cooldown reply failed", logx.Int64("actor", actor), logx.Err(err))
		return
	}

	updates := a.ads.Settings().CountdownUpdates
	if updates <= 0 || a.sup == nil {
		return
	}
	a.sup.Go0("cooldown.countdown", func(c context.Context) {
		ads.Countdown(c, a.adapter, ref, func() int64 {
			return a.ads.Remaining(c, actor)
		}, updates, a.log)
	})
}

func (a *App) confirmAd(ctx context.Context, actor int64, origin transport.ChatTarget) {
	rep, err := a.ads.Confirm(ctx, actor)
	if errors.Is(err, pending.ErrNoPending) {
		a.reply(ctx, origin, "You have no pending ad. Submit one with /ad <text>.")
		return
	}
	a.reply(ctx, origin, deliveryText(rep))
}

func (a *App) cancelAd(ctx context.Context, actor int64, origin transport.ChatTarget) {
	if err := a.ads.Cancel(actor); errors.Is(err, pending.ErrNoPending) {
		a.reply(ctx, origin, "You have no pending ad to cancel.")
		return
	}
	a.reply(ctx, origin, "Your pending ad was cancelled.")
}

func (a *App) handleBroadcast(ctx context.Context, actor int64, origin transport.ChatTarget, rest string) {
	if rest == "" {
		a.reply(ctx, origin, "Usage: /broadcast <text>")
		return
	}
	rep, err := a.ads.BroadcastNow(ctx, actor, rest)
	if errors.Is(err, ads.ErrNotAllowed) {
		a.reply(ctx, origin, "You are not allowed to broadcast directly.")
		return
	}
	a.reply(ctx, origin, deliveryText(rep))
}

func (a *App) handleReview(ctx context.Context, actor int64, origin transport.ChatTarget, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 || fields[0] == "list" {
		items, err := a.ads.Reviews(ctx, actor, 10)
		if errors.Is(err, ads.ErrNotAllowed) {
			a.reply(ctx, origin, "You are not allowed to review ads.")
			return
		}
		if err != nil {
			a.reply(ctx, origin, "Could not read the review queue.")
			return
		}
		if len(items) == 0 {
			a.reply(ctx, origin, "The review queue is empty.")
			return
		}
		var b strings.Builder
		b.WriteString("Queued ads:\n")
		for _, it := range items {
			fmt.Fprintf(&b, "#%d from %d: %s\n", it.ID, it.SubmitterID, it.Message)
		}
		b.WriteString("\nUse /review approve <id> or /review reject <id>.")
		a.reply(ctx, origin, b.String())
		return
	}

	if len(fields) != 2 {
		a.reply(ctx, origin, "Usage: /review [list|approve <id>|reject <id>]")
		return
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		a.reply(ctx, origin, "Usage: /review [list|approve <id>|reject <id>]")
		return
	}

	switch fields[0] {
	case "approve":
		rep, ok, err := a.ads.ApproveReview(ctx, actor, id)
		switch {
		case errors.Is(err, ads.ErrNotAllowed):
			a.reply(ctx, origin, "You are not allowed to review ads.")
		case err != nil:
			a.reply(ctx, origin, "Approval failed, please try again.")
		case !ok:
			a.reply(ctx, origin, fmt.Sprintf("No queued ad #%d; someone may have handled it already.", id))
		default:
			a.reply(ctx, origin, "Approved. "+deliveryText(rep))
		}
	case "reject":
		ok, err := a.ads.RejectReview(ctx, actor, id)
		switch {
		case errors.Is(err, ads.ErrNotAllowed):
			a.reply(ctx, origin, "You are not allowed to review ads.")
		case err != nil:
			a.reply(ctx, origin, "Rejection failed, please try again.")
		case !ok:
			a.reply(ctx, origin, fmt.Sprintf("No queued ad #%d; someone may have handled it already.", id))
		default:
			a.reply(ctx, origin, fmt.Sprintf("Rejected ad #%d.", id))
		}
	default:
		a.reply(ctx, origin, "Usage: /review [list|approve <id>|reject <id>]")
	}
}

// ---- inline confirm/cancel buttons ----

const (
	cbConfirmPrefix = "ad:confirm:"
	cbCancelPrefix  = "ad:cancel:"
)

// confirmMarkup builds the inline keyboard for an ad preview. The actor id is
// embedded in the callback data so only the submitter can resolve their own
// draft.
func confirmMarkup(actor int64) *tele.ReplyMarkup {
	id := strconv.FormatInt(actor, 10)
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{{
		{Text: "Confirm", Data: cbConfirmPrefix + id},
		{Text: "Cancel", Data: cbCancelPrefix + id},
	}}}
}

func (a *App) handleCallback(ctx context.Context, cb *transport.Callback) {
	data := strings.TrimPrefix(cb.Data, "\f")
	ref := transport.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}

	var owner int64
	var confirm bool
	switch {
	case strings.HasPrefix(data, cbConfirmPrefix):
		owner, _ = strconv.ParseInt(data[len(cbConfirmPrefix):], 10, 64)
		confirm = true
	case strings.HasPrefix(data, cbCancelPrefix):
		owner, _ = strconv.ParseInt(data[len(cbCancelPrefix):], 10, 64)
	default:
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	if owner == 0 || owner != cb.FromID {
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "This is not your ad.")
		return
	}

	if confirm {
		rep, err := a.ads.Confirm(ctx, cb.FromID)
		if errors.Is(err, pending.ErrNoPending) {
			_ = a.adapter.AnswerCallback(ctx, cb.ID, "Nothing to confirm.")
			_ = a.adapter.EditText(ctx, ref, "This ad is no longer pending.", nil)
			return
		}
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "Broadcast sent.")
		_ = a.adapter.EditText(ctx, ref, deliveryText(rep), nil)
		return
	}

	if err := a.ads.Cancel(cb.FromID); errors.Is(err, pending.ErrNoPending) {
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "Nothing to cancel.")
		_ = a.adapter.EditText(ctx, ref, "This ad is no longer pending.", nil)
		return
	}
	_ = a.adapter.AnswerCallback(ctx, cb.ID, "Cancelled.")
	_ = a.adapter.EditText(ctx, ref, "Ad cancelled.", nil)
}

func deliveryText(rep ads.BroadcastReport) string {
	text := fmt.Sprintf("Ad broadcast to %d chats.", rep.Delivered)
	if rep.Failed > 0 {
		text += fmt.Sprintf(" %d deliveries failed.", rep.Failed)
	}
	return text
}

func (a *App) reply(ctx context.Context, to transport.ChatTarget, text string) {
	if _, err := a.adapter.SendText(ctx, to, text, nil); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat", to.ChatID), logx.Err(err))
	}
}
