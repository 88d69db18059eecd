package service

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
)

func (t *Telegram) deleteMessage(chatID int64, msgID int) {
	if !t.Online() {
		return
	}
	if _, err := t.bot.Request(tgbot.NewDeleteMessage(chatID, msgID)); err != nil {
		t.log.Warn("delete message", zap.Int64("chat", chatID), zap.Error(err))
	}
}

// handleCloseAll закрывает все позиции пользователя. Итог по каждой
// приходит обычным уведомлением об исполнении.
func (t *Telegram) handleCloseAll(ctx context.Context, chatID int64) {
	c := t.control()
	if c == nil {
		return
	}
	go func() {
		res, err := c.CloseAll(ctx, chatID)
		if err != nil {
			t.Send(ctx, chatID, "⚠️ "+err.Error())
			return
		}
		if len(res) == 0 {
			t.Send(ctx, chatID, "ℹ️ Открытых позиций нет")
			return
		}
		t.Send(ctx, chatID, "🧹 "+summary(res))
	}()
}

func (t *Telegram) handleSync(ctx context.Context, chatID int64) {
	c := t.control()
	if c == nil {
		return
	}
	go func() {
		res, err := c.SyncProtection(ctx, chatID)
		if err != nil {
			t.Send(ctx, chatID, "⚠️ "+err.Error())
			return
		}
		if len(res) == 0 {
			t.Send(ctx, chatID, "ℹ️ Открытых позиций нет")
			return
		}
		t.Send(ctx, chatID, "🔄 Защита пересчитана: "+summary(res))
	}()
}

func summary(res []models.ExecutionResult) string {
	failed := 0
	for _, r := range res {
		if r.Status == models.StatusFailed {
			failed++
		}
	}
	return fmt.Sprintf("позиций %d, ошибок %d", len(res), failed)
}

// handleBlacklist без аргумента показывает список, с символом — переключает.
func (t *Telegram) handleBlacklist(ctx context.Context, chatID int64, args string) {
	c := t.control()
	if c == nil {
		return
	}
	raw := strings.TrimSpace(args)
	if raw == "" {
		cfg, err := c.User(ctx, chatID)
		if err != nil {
			t.Send(ctx, chatID, "⚠️ "+err.Error())
			return
		}
		var list []string
		for sym, off := range cfg.DisabledAssets {
			if off {
				list = append(list, sym)
			}
		}
		if len(list) == 0 {
			t.Send(ctx, chatID, "Чёрный список пуст")
			return
		}
		t.Send(ctx, chatID, "⛔️ Не торгуются: "+strings.Join(list, ", "))
		return
	}

	symbol := symbols.Normalize(raw)
	var off bool
	if _, err := c.UpdateUser(ctx, chatID, func(cfg *models.UserConfig) { off = cfg.ToggleAsset(symbol) }); err != nil {
		t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	if off {
		t.Send(ctx, chatID, "⛔️ "+symbol+" исключён из торговли")
		return
	}
	t.Send(ctx, chatID, "✅ "+symbol+" снова торгуется")
}

// handleKeys сохраняет ключи биржи; сессия пересобирает адаптеры.
func (t *Telegram) handleKeys(ctx context.Context, chatID int64, args string) {
	ex, creds, err := parseKeys(args)
	if err != nil {
		t.Send(ctx, chatID, "❗️"+err.Error())
		return
	}
	c := t.control()
	if c == nil {
		return
	}
	_, err = c.UpdateUser(ctx, chatID, func(cfg *models.UserConfig) {
		if creds.Empty() {
			delete(cfg.Credentials, ex)
			return
		}
		if cfg.Credentials == nil {
			cfg.Credentials = make(map[models.Exchange]models.APICredentials)
		}
		cfg.Credentials[ex] = creds
		if cfg.EnabledExchanges == nil {
			cfg.EnabledExchanges = make(map[models.Exchange]bool)
		}
		cfg.EnabledExchanges[ex] = true
	})
	if err != nil {
		t.log.Warn("update keys", zap.Int64("chat", chatID), zap.String("exchange", string(ex)), zap.Error(err))
		t.Send(ctx, chatID, "⚠️ "+err.Error())
		return
	}
	if creds.Empty() {
		t.Send(ctx, chatID, "🗑 Ключи "+string(ex)+" удалены")
		return
	}
	t.Send(ctx, chatID, "🔑 Ключи "+string(ex)+" сохранены: "+creds.Masked())
}
