// Package telegram connects the verification engine to a Telegram bot.
//
// Users arrive through a deep link (t.me/<bot>?start=<session_id>), are bound to
// the session, and confirm membership with an inline "Verify Membership" button
// whose callback data is "verify_<session_id>".
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"botgate/cmd/identity"
	"botgate/cmd/internal/verify"
)

const callbackPrefix = "verify_"

// API is the subset of *tgbotapi.BotAPI the update loop needs.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Engine is the part of verify.Engine the bot drives.
type Engine interface {
	Start(ctx context.Context, user identity.User, sessionID string) verify.StartOutcome
	Verify(ctx context.Context, sessionID string, user identity.User) verify.Report
	Groups() []string
}

// StartObserver counts bot entry outcomes (metrics).
type StartObserver interface {
	ObserveStart(outcome string)
}

// Bot is a long-polling update loop.
type Bot struct {
	api     API
	engine  Engine
	log     *slog.Logger
	obs     StartObserver
	product string
	timeout int
}

// Option configures a Bot.
type Option func(*Bot)

func WithLogger(log *slog.Logger) Option {
	return func(b *Bot) {
		if log != nil {
			b.log = log
		}
	}
}

func WithStartObserver(o StartObserver) Option {
	return func(b *Bot) { b.obs = o }
}

// WithProductName sets the name used in user-facing texts.
func WithProductName(name string) Option {
	return func(b *Bot) {
		if name = strings.TrimSpace(name); name != "" {
			b.product = name
		}
	}
}

// WithPollTimeout sets the long-poll timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(b *Bot) {
		if seconds > 0 {
			b.timeout = seconds
		}
	}
}

func NewBot(api API, engine Engine, opts ...Option) *Bot {
	b := &Bot{
		api:     api,
		engine:  engine,
		log:     slog.Default(),
		product: "the content",
		timeout: 30,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Run consumes updates until ctx is cancelled. Updates are handled one at a time.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram.bot.start")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("telegram.bot.stop")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

// HandleUpdate dispatches a single update. A panic in a handler is logged and
// does not stop the loop.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("telegram.update.panic", "update_id", upd.UpdateID, "panic", fmt.Sprint(rec))
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.IsCommand() && upd.Message.Command() == "start":
		b.handleStart(ctx, upd.Message)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	user := userFrom(msg.From)
	sessionID := strings.TrimSpace(msg.CommandArguments())

	outcome := b.engine.Start(ctx, user, sessionID)
	if b.obs != nil {
		b.obs.ObserveStart(string(outcome))
	}

	var reply tgbotapi.MessageConfig
	switch outcome {
	case verify.StartBound:
		reply = tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
			"Hello %s!\n\nTo access %s, you need to join all our mandatory channels:\n\n%s\n\nClick the button below to verify your membership:",
			user.DisplayName(), b.product, groupList(b.engine.Groups()),
		))
		reply.ReplyMarkup = verifyKeyboard("Verify Membership", sessionID)
	case verify.StartAlreadyVerified:
		reply = tgbotapi.NewMessage(msg.Chat.ID, "✅ This login is already verified. Return to the website to continue.")
	case verify.StartExpired:
		reply = tgbotapi.NewMessage(msg.Chat.ID, "❌ Your session has expired. Please login again from the website.")
	case verify.StartInvalidSession:
		reply = tgbotapi.NewMessage(msg.Chat.ID, "❌ Invalid session. Please login from the website to get a valid session.")
	default:
		reply = tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
			"Hello %s!\n\nTo access %s, please login from the website first. You will be redirected here to verify your membership.",
			user.DisplayName(), b.product,
		))
	}

	if _, err := b.api.Send(reply); err != nil {
		b.log.Warn("telegram.send.fail", "chat_id", msg.Chat.ID, "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	// Acknowledge first so the client stops its spinner even if checks are slow.
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.log.Warn("telegram.callback.ack.fail", "err", err)
	}

	sessionID, ok := strings.CutPrefix(q.Data, callbackPrefix)
	if !ok || q.From == nil || q.Message == nil {
		return
	}

	rep := b.engine.Verify(ctx, sessionID, userFrom(q.From))

	chatID, msgID := q.Message.Chat.ID, q.Message.MessageID
	var edit tgbotapi.EditMessageTextConfig
	switch rep.Outcome {
	case verify.OutcomeVerified:
		edit = tgbotapi.NewEditMessageText(chatID, msgID, fmt.Sprintf(
			"✅ Verification successful!\n\nYou can now access %s. Return to the website to continue.", b.product,
		))
	case verify.OutcomeDenied:
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID,
			"❌ Please join all the mandatory channels and try again:\n\n"+groupList(rep.Missing()),
			verifyKeyboard("Try Again", sessionID),
		)
	case verify.OutcomeExpired:
		edit = tgbotapi.NewEditMessageText(chatID, msgID, "❌ Your session has expired. Please login again from the website.")
	default:
		edit = tgbotapi.NewEditMessageText(chatID, msgID, "❌ Invalid session. Please login from the website.")
	}

	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("telegram.edit.fail", "chat_id", chatID, "err", err)
	}
}

func verifyKeyboard(label, sessionID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackPrefix+sessionID),
		),
	)
}

func groupList(groups []string) string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		lines = append(lines, "• "+g)
	}
	return strings.Join(lines, "\n")
}

func userFrom(u *tgbotapi.User) identity.User {
	return identity.User{
		ID:           u.ID,
		Username:     u.UserName,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}
