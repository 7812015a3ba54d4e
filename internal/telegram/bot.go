// Package telegram is the transport shell around the moderation core:
// it parses commands and callbacks, enforces the admin gate, routes
// free text through the session manager, and renders replies.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kalthreti/mytelegram-confession-bot/internal/confession"
	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
	"github.com/kalthreti/mytelegram-confession-bot/internal/rate"
	"github.com/kalthreti/mytelegram-confession-bot/internal/session"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store"
)

type Bot struct {
	api          *tgbotapi.BotAPI
	svc          *confession.Service
	sessions     *session.Manager
	limiter      rate.Limiter
	adminGroupID int64
}

func NewBot(api *tgbotapi.BotAPI, svc *confession.Service, sessions *session.Manager, limiter rate.Limiter, adminGroupID int64) *Bot {
	return &Bot{
		api:          api,
		svc:          svc,
		sessions:     sessions,
		limiter:      limiter,
		adminGroupID: adminGroupID,
	}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.registerCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) registerCommands() {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Welcome message & check alias"},
		tgbotapi.BotCommand{Command: "confess", Description: "Send anonymous confession"},
		tgbotapi.BotCommand{Command: "setalias", Description: "Set or change your alias"},
		tgbotapi.BotCommand{Command: "feedback", Description: "Send feedback to the moderators"},
		tgbotapi.BotCommand{Command: "cancel", Description: "Cancel a pending comment or feedback"},
		tgbotapi.BotCommand{Command: "pending", Description: "Admin: list pending confessions"},
	)
	if _, err := b.api.Request(cmds); err != nil {
		log.Printf("telegram: set commands: %v", err)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil && update.Message.Text != "" && update.Message.Chat.IsPrivate():
		b.handleText(ctx, update.Message)
	}
}

// ---- commands ----

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.cmdStart(ctx, msg)
	case "confess":
		b.reply(msg.Chat.ID, "📝 Send your anonymous confession now.")
	case "setalias":
		b.cmdSetAlias(ctx, msg)
	case "feedback":
		b.sessions.BeginFeedback(msg.From.ID)
		b.reply(msg.Chat.ID, "📨 Send your feedback now, or /cancel.")
	case "cancel":
		if b.sessions.Cancel(msg.From.ID) {
			b.reply(msg.Chat.ID, "✅ Cancelled.")
		} else {
			b.reply(msg.Chat.ID, "Nothing to cancel.")
		}
	case "pending", "approve", "reject", "approveall", "delete", "delcomment", "replyto", "reset", "stats":
		// The admin gate runs before any state is touched.
		if msg.Chat.ID != b.adminGroupID {
			b.reply(msg.Chat.ID, "🚫 Admins only.")
			return
		}
		b.handleAdminCommand(ctx, msg)
	}
}

func (b *Bot) cmdStart(ctx context.Context, msg *tgbotapi.Message) {
	if arg := msg.CommandArguments(); strings.HasPrefix(arg, "comment_") {
		// Deep link from the channel's Add/View Comments button.
		if id, err := strconv.ParseInt(strings.TrimPrefix(arg, "comment_"), 10, 64); err == nil {
			b.sendConfessionView(ctx, msg.Chat.ID, id)
			return
		}
	}
	if !msg.Chat.IsPrivate() {
		return
	}
	alias, err := b.svc.Alias(ctx, msg.From.ID)
	if err != nil {
		alias = store.DefaultAlias
	}
	b.replyMarkdown(msg.Chat.ID,
		fmt.Sprintf("👋 Welcome! Your current alias: *%s*\nSend a message here to confess anonymously or use /confess.",
			escapeMarkdown(alias)), nil)
}

func (b *Bot) cmdSetAlias(ctx context.Context, msg *tgbotapi.Message) {
	alias := strings.TrimSpace(msg.CommandArguments())
	if alias == "" {
		b.reply(msg.Chat.ID, "Usage: /setalias <nickname>")
		return
	}
	if err := b.svc.SetAlias(ctx, msg.From.ID, alias); err != nil {
		b.reply(msg.Chat.ID, userFacing(err))
		return
	}
	b.replyMarkdown(msg.Chat.ID, fmt.Sprintf("✅ Alias set to *%s*", escapeMarkdown(alias)), nil)
}

func (b *Bot) handleAdminCommand(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "pending":
		b.cmdPending(ctx, msg.Chat.ID)
	case "approve":
		if len(args) != 1 {
			b.reply(msg.Chat.ID, "Usage: /approve <id>")
			return
		}
		c, err := b.svc.Approve(ctx, pendingKeyArg(args[0]))
		if err != nil {
			b.reply(msg.Chat.ID, userFacing(err))
			return
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("✅ Approved and posted as #%d", c.ID))
	case "reject":
		if len(args) != 1 {
			b.reply(msg.Chat.ID, "Usage: /reject <id>")
			return
		}
		if err := b.svc.Reject(ctx, pendingKeyArg(args[0])); err != nil {
			b.reply(msg.Chat.ID, userFacing(err))
			return
		}
		b.reply(msg.Chat.ID, "❌ Rejected and removed.")
	case "approveall":
		n := confession.MaxBatchApproval
		if len(args) == 1 {
			if v, err := strconv.Atoi(args[0]); err == nil {
				n = v
			}
		}
		report, err := b.svc.ApproveBatch(ctx, n)
		text := fmt.Sprintf("Batch done: %d approved, %d failed, %d still pending.",
			report.Approved, report.Failed, report.Remaining)
		if err != nil {
			text += "\n⚠️ Stopped early: " + userFacing(err)
		}
		b.reply(msg.Chat.ID, text)
	case "delete":
		if len(args) != 1 {
			b.reply(msg.Chat.ID, "Usage: /delete <id>")
			return
		}
		id, _ := strconv.ParseInt(args[0], 10, 64)
		report, err := b.svc.Delete(ctx, id)
		if err != nil {
			b.reply(msg.Chat.ID, userFacing(err))
			return
		}
		text := fmt.Sprintf("🗑 Confession #%d deleted.", id)
		if !report.ExternalRemoved {
			text += fmt.Sprintf("\n⚠️ Channel post not removed: %v", report.ExternalErr)
		}
		b.reply(msg.Chat.ID, text)
	case "delcomment":
		if len(args) != 2 {
			b.reply(msg.Chat.ID, "Usage: /delcomment <id> <position>")
			return
		}
		id, _ := strconv.ParseInt(args[0], 10, 64)
		index, _ := strconv.Atoi(args[1])
		cm, err := b.svc.DeleteComment(ctx, id, index)
		if err != nil {
			b.reply(msg.Chat.ID, userFacing(err))
			return
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("🗑 Removed comment %d by %s.", index, cm.UserAlias))
	case "replyto":
		if len(args) < 2 {
			b.reply(msg.Chat.ID, "Usage: /replyto <id> <text>")
			return
		}
		id, _ := strconv.ParseInt(args[0], 10, 64)
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg.CommandArguments()), args[0]))
		if _, err := b.svc.Reply(ctx, id, text); err != nil {
			b.reply(msg.Chat.ID, userFacing(err))
			return
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("✅ Reply added to Confession #%d.", id))
	case "reset":
		markup := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("⚠️ Yes, wipe everything", "reset_confirm"),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "reset_cancel"),
			),
		)
		b.replyMarkdown(msg.Chat.ID, "This deletes *all* confessions, comments and profiles. Are you sure?", &markup)
	case "stats":
		b.cmdStats(ctx, msg.Chat.ID)
	}
}

func (b *Bot) cmdPending(ctx context.Context, chatID int64) {
	pending, err := b.svc.Pending(ctx)
	if err != nil {
		b.reply(chatID, userFacing(err))
		return
	}
	if len(pending) == 0 {
		b.reply(chatID, "✅ No pending confessions.")
		return
	}

	var sb strings.Builder
	sb.WriteString("*Pending Confessions List*\n\n")
	for _, p := range pending {
		fmt.Fprintf(&sb, "ID: %d (Alias: %s) - %s\n", p.ID, escapeMarkdown(p.UserAlias), escapeMarkdown(preview(p.Text)))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, p := range pending {
		if i >= confession.MaxBatchApproval {
			break
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d", p.ID), "approve|"+p.Key()),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.replyMarkdown(chatID, sb.String(), &markup)
}

func (b *Bot) cmdStats(ctx context.Context, chatID int64) {
	stats, err := b.svc.Stats(ctx, 5)
	if err != nil {
		b.reply(chatID, userFacing(err))
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *Stats*\nPending: %d\nPosted: %d\nComments: %d\nProfiles: %d\n",
		stats.Pending, stats.Posted, stats.Comments, stats.Profiles)
	if len(stats.MostDiscussed) > 0 {
		sb.WriteString("\nMost discussed:\n")
		for _, c := range stats.MostDiscussed {
			fmt.Fprintf(&sb, "#%d — %d comments\n", c.ID, len(c.Comments))
		}
	}
	b.replyMarkdown(chatID, sb.String(), nil)
}

// ---- free text ----

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	userID := msg.From.ID
	route := b.sessions.ConsumeText(userID, text)

	switch route.Kind {
	case session.RouteComment:
		if ok, wait := b.limiter.Allow(userID, rate.OpComment); !ok {
			// Re-arm so the user can retry without losing the target.
			b.sessions.BeginComment(userID, route.ConfessionID)
			b.reply(msg.Chat.ID, fmt.Sprintf("⏳ Too many comments. Try again in %s.", wait.Round(time.Second)))
			return
		}
		if _, err := b.svc.AddComment(ctx, route.ConfessionID, userID, route.Text); err != nil {
			b.reply(msg.Chat.ID, userFacing(err))
			return
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("✅ Your comment has been saved for Confession #%d.", route.ConfessionID))

	case session.RouteFeedback:
		alias, _ := b.svc.Alias(ctx, userID)
		fb := tgbotapi.NewMessage(b.adminGroupID, fmt.Sprintf("📨 Feedback from %s:\n\n%s", alias, route.Text))
		if _, err := b.api.Send(fb); err != nil {
			log.Printf("telegram: forward feedback: %v", err)
			b.reply(msg.Chat.ID, "⚠️ Could not deliver feedback. Try again later.")
			return
		}
		b.reply(msg.Chat.ID, "✅ Thanks for your feedback.")

	case session.RouteSubmission:
		if ok, wait := b.limiter.Allow(userID, rate.OpSubmit); !ok {
			b.reply(msg.Chat.ID, fmt.Sprintf("⏳ Too many submissions. Try again in %s.", wait.Round(time.Second)))
			return
		}
		if _, err := b.svc.Submit(ctx, userID, route.Text); err != nil {
			b.reply(msg.Chat.ID, "⚠️ Failed to submit confession. Check `ADMIN_GROUP_ID`.")
			return
		}
		b.reply(msg.Chat.ID, "✅ Your confession has been submitted for admin review.")
	}
}

// ---- callbacks ----

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	cb, ok := decodeCallback(q.Data)
	if !ok {
		b.answer(q.ID, "")
		return
	}

	switch cb.kind {
	case cbApprove, cbReject, cbResetConfirm, cbResetCancel:
		if q.Message == nil || q.Message.Chat.ID != b.adminGroupID {
			b.answer(q.ID, "🚫 Admins only.")
			return
		}
	}

	switch cb.kind {
	case cbApprove:
		c, err := b.svc.Approve(ctx, cb.pendingKey)
		if err != nil {
			b.editText(q, userFacing(err))
		} else {
			b.editText(q, fmt.Sprintf("✅ Approved and posted as #%d", c.ID))
		}
		b.answer(q.ID, "")

	case cbReject:
		if err := b.svc.Reject(ctx, cb.pendingKey); err != nil {
			b.editText(q, userFacing(err))
		} else {
			b.editText(q, "❌ Rejected and removed.")
		}
		b.answer(q.ID, "")

	case cbAddComment:
		b.sessions.BeginComment(q.From.ID, cb.confessionID)
		b.editText(q, fmt.Sprintf("📝 Send your comment text now for Confession #%d.", cb.confessionID))
		b.answer(q.ID, "")

	case cbBrowseComments:
		b.renderComments(ctx, q, cb.confessionID)
		b.answer(q.ID, "")

	case cbVote:
		if ok, _ := b.limiter.Allow(q.From.ID, rate.OpVote); !ok {
			b.answer(q.ID, "⏳ Too many votes.")
			return
		}
		outcome, err := b.svc.Vote(ctx, cb.confessionID, cb.commentID, q.From.ID, cb.vote)
		if err != nil {
			b.answer(q.ID, userFacing(err))
			return
		}
		switch outcome {
		case model.VoteUnchanged:
			b.answer(q.ID, "Already counted.")
		case model.VoteChanged:
			b.answer(q.ID, "Vote changed.")
			b.renderComments(ctx, q, cb.confessionID)
		default:
			b.answer(q.ID, "Vote counted.")
			b.renderComments(ctx, q, cb.confessionID)
		}

	case cbResetConfirm:
		if err := b.svc.Reset(ctx); err != nil {
			b.editText(q, userFacing(err))
		} else {
			b.editText(q, "🧹 Store wiped. Counter restarted at 1.")
		}
		b.answer(q.ID, "")

	case cbResetCancel:
		b.editText(q, "Reset cancelled.")
		b.answer(q.ID, "")
	}
}

func (b *Bot) sendConfessionView(ctx context.Context, chatID, confessionID int64) {
	c, err := b.svc.Confession(ctx, confessionID)
	if err != nil {
		b.reply(chatID, userFacing(err))
		return
	}
	markup := confessionMarkup(confessionID)
	b.replyMarkdown(chatID, confessionText(c), &markup)
}

func (b *Bot) renderComments(ctx context.Context, q *tgbotapi.CallbackQuery, confessionID int64) {
	c, err := b.svc.Confession(ctx, confessionID)
	if err != nil {
		b.editText(q, userFacing(err))
		return
	}
	if len(c.Comments) == 0 {
		markup := confessionMarkup(confessionID)
		b.editTextMarkup(q, fmt.Sprintf("Confession #%d has no comments yet.", confessionID), &markup)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "💬 *Comments for Confession #%d*\n\n", confessionID)
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, cm := range c.Comments {
		fmt.Fprintf(&sb, "%d. *%s*: %s\n", i+1, escapeMarkdown(cm.UserAlias), escapeMarkdown(preview(cm.Text)))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("👍 %d (#%d)", cm.Likes(), i+1),
				voteCallbackData(confessionID, cm.ID, model.VoteLike)),
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("👎 %d (#%d)", cm.Dislikes(), i+1),
				voteCallbackData(confessionID, cm.ID, model.VoteDislike)),
		))
	}
	rows = append(rows, confessionMarkup(confessionID).InlineKeyboard...)
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.editTextMarkup(q, sb.String(), &markup)
}

// ---- rendering helpers ----

func confessionText(c model.Confession) string {
	return fmt.Sprintf("*Confession #%d* (by %s)\n\n%s", c.ID, escapeMarkdown(c.UserAlias), escapeMarkdown(c.Text))
}

func confessionMarkup(confessionID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💬 Add Comment", fmt.Sprintf("add_comment|%d", confessionID)),
			tgbotapi.NewInlineKeyboardButtonData("👁️ Browse Comments", fmt.Sprintf("browse_comments|%d", confessionID)),
		),
	)
}

func pendingKeyArg(arg string) string {
	if strings.HasPrefix(arg, "p") {
		return arg
	}
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return model.PendingKey(id)
	}
	return arg
}

func preview(text string) string {
	const max = 50
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func userFacing(err error) string {
	switch {
	case errors.Is(err, store.ErrAlreadyHandled):
		return "⚠️ Confession already processed."
	case errors.Is(err, store.ErrNotFound):
		return "⚠️ Confession not found."
	case errors.Is(err, store.ErrIndexOutOfRange):
		return "⚠️ No comment at that position."
	case errors.Is(err, confession.ErrValidation):
		return "⚠️ " + err.Error()
	case errors.Is(err, confession.ErrPublish):
		return "⚠️ Posting to the channel failed. The item is still pending; try again."
	default:
		return "⚠️ Something went wrong. Try again later."
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("telegram: send to %d: %v", chatID, err)
	}
}

func (b *Bot) replyMarkdown(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("telegram: send to %d: %v", chatID, err)
	}
}

func (b *Bot) editText(q *tgbotapi.CallbackQuery, text string) {
	b.editTextMarkup(q, text, nil)
}

func (b *Bot) editTextMarkup(q *tgbotapi.CallbackQuery, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if q.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	edit.ReplyMarkup = markup
	if _, err := b.api.Send(edit); err != nil {
		log.Printf("telegram: edit message %d: %v", q.Message.MessageID, err)
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		log.Printf("telegram: answer callback: %v", err)
	}
}
