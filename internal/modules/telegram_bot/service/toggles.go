package service

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nexus_bot/internal/models"
)

const (
	cbToggleTrailing    = "toggle:trailing"
	cbToggleCorrelation = "toggle:correlation"
	cbToggleExchange    = "toggle:ex:"
)

func (t *Telegram) handleToggle(ctx context.Context, chatID int64, msg *tgbot.Message, data string) {
	c := t.control()
	if c == nil {
		return
	}

	var fn func(cfg *models.UserConfig)
	switch {
	case data == cbToggleTrailing:
		fn = func(cfg *models.UserConfig) { cfg.TrailingEnabled = !cfg.TrailingEnabled }
	case data == cbToggleCorrelation:
		fn = func(cfg *models.UserConfig) { cfg.CorrelationGuard = !cfg.CorrelationGuard }

	case strings.HasPrefix(data, cbToggleExchange):
		ex, ok := models.ParseExchange(strings.TrimPrefix(data, cbToggleExchange))
		if !ok {
			return
		}
		fn = func(cfg *models.UserConfig) { toggleExchange(cfg, ex) }

	default:
		return
	}

	cfg, err := c.UpdateUser(ctx, chatID, fn)
	if err != nil {
		t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	if msg == nil || !t.Online() {
		return
	}
	edit := tgbot.NewEditMessageTextAndMarkup(chatID, msg.MessageID, formatSettings(cfg), settingsKeyboard(cfg))
	edit.ParseMode = tgbot.ModeMarkdown
	if _, err := t.bot.Send(edit); err != nil {
		t.log.Debug("edit settings", zap.Error(err))
	}
}

// основную биржу не выключаем, иначе маршрутизировать некуда
func toggleExchange(cfg *models.UserConfig, ex models.Exchange) {
	if ex == cfg.PrimaryExchange && cfg.EnabledExchanges[ex] {
		return
	}
	cfg.EnabledExchanges[ex] = !cfg.EnabledExchanges[ex]
}

func settingsKeyboard(cfg *models.UserConfig) tgbot.InlineKeyboardMarkup {
	exRow := make([]tgbot.InlineKeyboardButton, 0, len(models.ExchangePriority))
	for _, ex := range models.ExchangePriority {
		mark := "⚪️"
		if cfg.ExchangeEnabled(ex) {
			mark = "🟢"
		}
		exRow = append(exRow, tgbot.NewInlineKeyboardButtonData(mark+" "+string(ex), cbToggleExchange+string(ex)))
	}

	return tgbot.NewInlineKeyboardMarkup(
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("🎚 Плечо", cbSet+"lev"),
			tgbot.NewInlineKeyboardButtonData("💰 Капитал", cbSet+"capital"),
			tgbot.NewInlineKeyboardButtonData("📉 Риск", cbSet+"risk"),
		),
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("🎯 TP", cbSet+"tp_ratio"),
			tgbot.NewInlineKeyboardButtonData("🛡 Макс. стоп", cbSet+"max_stop"),
			tgbot.NewInlineKeyboardButtonData("⏳ Cooldown", cbSet+"cooldown"),
		),
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("🏦 Мин. баланс", cbSet+"min_balance"),
			tgbot.NewInlineKeyboardButtonData("⭐️ Основная биржа", cbSet+"primary"),
		),
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("Трейлинг: "+onOff(cfg.TrailingEnabled), cbToggleTrailing),
			tgbot.NewInlineKeyboardButtonData("Callback %", cbSet+"trailing_cb"),
		),
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("🔒 Безубыток", cbSet+"breakeven"),
			tgbot.NewInlineKeyboardButtonData("Корреляция: "+onOff(cfg.CorrelationGuard), cbToggleCorrelation),
		),
		exRow,
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("🧭 Режим", cbMode+"menu"),
			tgbot.NewInlineKeyboardButtonData("🧩 Пресет", cbPreset+"menu"),
		),
	)
}
