package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_relay/internal/filter"
	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Forum relay bot is running.

New forum posts are forwarded to the channel once they pass moderation.

Quick start:
1. /status — relay state and last run
2. /check — run the relay now
3. /exclude <word> — skip posts containing a word

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Relay:
/status — sent and pending counts, last run
/pending — posts waiting for moderation
/check — run the relay now

Filter management:
/filters — show filters
/include [-s scope] <word> — whitelist word/phrase
/exclude [-s scope] <word> — blacklist word/phrase
/include_re [-s scope] <regex> — whitelist regex
/exclude_re [-s scope] <regex> — blacklist regex
/rmfilter <filter_id> — remove a filter

Scope flag: -s title | content | all (default: all)`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	var stats Stats
	var err error
	if stats.Sent, err = b.store.CountSent(ctx); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	pending, err := b.store.ListPending(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	stats.Pending = len(pending)
	filters, err := b.store.ListFilters(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	stats.Filters = len(filters)

	var last *scheduler.Summary
	if sum, ok := b.runner.LastRun(); ok {
		last = &sum
	}

	b.replyWithKeyboard(chatID, FormatStatus(stats, last), tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Check now", callbackData(cmdCheck, 0)),
		),
	))
}

func (b *Bot) handlePending(ctx context.Context, chatID int64) {
	posts, err := b.store.ListPending(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatPendingList(posts))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	sum, err := b.runner.RunOnce(ctx)
	if errors.Is(err, scheduler.ErrBusy) {
		b.reply(chatID, "A run is already in progress, try again later.")
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Run failed: %v", err))
		return
	}
	b.reply(chatID, FormatSummary(sum))
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64) {
	filters, err := b.store.ListFilters(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(filters) == 0 {
		b.reply(chatID, FormatFilterList(filters))
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(filters))
	for _, f := range filters {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Remove F%d", f.ID), callbackData(cmdRmFilter, f.ID)),
		))
	}
	b.replyWithKeyboard(chatID, FormatFilterList(filters), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) handleAddFilter(ctx context.Context, chatID int64, args string, kind string) {
	parsed, err := ParseFilterCommand(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	fk := model.FilterKind(kind)
	if fk == model.FilterIncludeRe || fk == model.FilterExcludeRe {
		if err := filter.ValidateRegex(parsed.Value); err != nil {
			b.reply(chatID, fmt.Sprintf("Invalid regex: %v", err))
			return
		}
	}

	f := &model.Filter{
		Kind:  fk,
		Scope: parsed.Scope,
		Value: parsed.Value,
	}
	if err := b.store.CreateFilter(ctx, f); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.log.Info("filter added", "id", f.ID, "kind", kind, "scope", parsed.Scope, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Filter F%d added: %s %s (%s)",
		f.ID, kind, parsed.Value, scopeLabel(parsed.Scope)))
}

func (b *Bot) handleRmFilter(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmfilter <filter_id>")
		return
	}

	f, err := b.store.GetFilter(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Filter F%d not found.", id))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	if err := b.store.DeleteFilter(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("filter removed", "id", id, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Filter F%d removed: %s %s (%s)", id, f.Kind, f.Value, scopeLabel(f.Scope)))
}
