package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdCheck    = "check"
	cmdFilters  = "filters"
	cmdRmFilter = "rmfilter"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	if !b.cfg.IsUserAllowed(cb.From.ID) {
		b.log.Warn("callback from unknown user", "user_id", cb.From.ID, "username", cb.From.UserName)
		return
	}

	parts := strings.SplitN(cb.Data, ":", 2)
	if len(parts) != 2 {
		return
	}

	action := parts[0]
	idStr := parts[1]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdCheck:
		b.handleCheck(ctx, chatID)
	case cmdFilters:
		b.handleFilters(ctx, chatID)
	case cmdRmFilter:
		b.handleRmFilter(ctx, chatID, idStr)
	}
}

func callbackData(action string, id int64) string {
	return action + ":" + strconv.FormatInt(id, 10)
}
