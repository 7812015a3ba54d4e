package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
)

// Publisher posts confessions to the channel and pings the moderator
// group. All outbound sends go through one rate limiter so batch
// approval and regular traffic share the same pacing toward Telegram.
type Publisher struct {
	api          *tgbotapi.BotAPI
	channel      string // "@username" or numeric chat id
	adminGroupID int64
	limiter      *rate.Limiter
}

func NewPublisher(api *tgbotapi.BotAPI, channel string, adminGroupID int64) *Publisher {
	return &Publisher{
		api:          api,
		channel:      channel,
		adminGroupID: adminGroupID,
		// Telegram allows roughly one message per second per chat.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// NotifyModerators sends the pending confession to the admin group with
// inline approve/reject buttons.
func (p *Publisher) NotifyModerators(ctx context.Context, pending model.Pending) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	text := fmt.Sprintf("🆕 *Pending Confession #%d* (ID: %s | Alias: %s)\n\n%s",
		pending.ID, pending.Key(), escapeMarkdown(pending.UserAlias), escapeMarkdown(pending.Text))

	msg := tgbotapi.NewMessage(p.adminGroupID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "approve|"+pending.Key()),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", "reject|"+pending.Key()),
		),
	)
	_, err := p.api.Send(msg)
	return err
}

// Publish posts the confession to the channel and returns the channel
// message id for later deletion.
func (p *Publisher) Publish(ctx context.Context, c model.Confession) (int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	text := fmt.Sprintf("*%s's Confession #%d*\n\n%s",
		escapeMarkdown(c.UserAlias), c.ID, escapeMarkdown(c.Text))

	var msg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(p.channel, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(p.channel, text)
	}
	msg.ParseMode = tgbotapi.ModeMarkdown

	link := fmt.Sprintf("https://t.me/%s?start=comment_%d", p.api.Self.UserName, c.ID)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("💬 Add/View Comments", link),
		),
	)

	sent, err := p.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Unpublish deletes a channel post.
func (p *Publisher) Unpublish(ctx context.Context, messageID int) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	del := tgbotapi.DeleteMessageConfig{MessageID: messageID}
	if chatID, err := strconv.ParseInt(p.channel, 10, 64); err == nil {
		del.ChatID = chatID
	} else {
		del.ChannelUsername = p.channel
	}
	_, err := p.api.Request(del)
	return err
}

// escapeMarkdown keeps user text from breaking Telegram's legacy
// Markdown parser.
func escapeMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(text)
}
