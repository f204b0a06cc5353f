// Package bot implements the optional admin command interface of the relay.
package bot

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_relay/internal/config"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Runner triggers relay runs and reports the latest one.
type Runner interface {
	RunOnce(ctx context.Context) (scheduler.Summary, error)
	LastRun() (scheduler.Summary, bool)
}

// Bot answers admin commands sent to the relay bot.
type Bot struct {
	api    botAPI
	store  storage.Storage
	runner Runner
	cfg    *config.Config
	log    *slog.Logger
}

// New creates a Bot. api is usually the same *tgbotapi.BotAPI used for publishing.
func New(api botAPI, store storage.Storage, runner Runner, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:    api,
		store:  store,
		runner: runner,
		cfg:    cfg,
		log:    log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.From == nil {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.log.Warn("command from unknown user", "user_id", msg.From.ID, "username", msg.From.UserName)
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", msg.ChatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "pending":
		b.handlePending(ctx, chatID)
	case cmdCheck:
		b.handleCheck(ctx, chatID)
	case cmdFilters:
		b.handleFilters(ctx, chatID)
	case "include":
		b.handleAddFilter(ctx, chatID, args, "include")
	case "exclude":
		b.handleAddFilter(ctx, chatID, args, "exclude")
	case "include_re":
		b.handleAddFilter(ctx, chatID, args, "include_re")
	case "exclude_re":
		b.handleAddFilter(ctx, chatID, args, "exclude_re")
	case cmdRmFilter:
		b.handleRmFilter(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
