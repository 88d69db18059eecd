package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nexus_bot/internal/models"
)

var settingHints = map[string]string{
	"lev":         "Введи *плечо* (целое), например: `5`",
	"capital":     "Введи *долю капитала* в %, например: `10`",
	"risk":        "Введи *риск по стопу* в %, например: `1.0`",
	"tp_ratio":    "Введи *тейк* в R, например: `1.5`",
	"max_stop":    "Введи *макс. стоп* в %, например: `3`",
	"min_balance": "Введи *мин. баланс* в USDT, например: `5`",
	"cooldown":    "Введи *cooldown*, например: `5m` или `300s`",
	"trailing_cb": "Введи *callback трейлинга* в %, например: `1.0`",
	"primary":     "Введи *основную биржу*: BINANCE, BYBIT или OKX",
	"breakeven":   "Введи *порог безубытка* в % дохода на маржу, например: `10` (`0` — выключить)",
}

func (t *Telegram) askValue(ctx context.Context, chatID int64, key string) {
	hint, ok := settingHints[key]
	if !ok {
		t.Send(ctx, chatID, "❗️Неизвестная настройка")
		return
	}
	t.setAwait(chatID, key)

	msg := tgbot.NewMessage(chatID, "✍️ "+hint+"\n\nОтмена: напиши `отмена`")
	msg.ParseMode = tgbot.ModeMarkdown
	t.SendMessage(msg)
}

func (t *Telegram) handleAwaitValue(ctx context.Context, chatID int64, text, key string) {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "отмена") {
		t.clearAwait(chatID)
		t.handleSettingsMenu(ctx, chatID)
		return
	}
	c := t.control()
	if c == nil {
		t.Send(ctx, chatID, "Раннер ещё не готов, попробуй позже")
		return
	}

	var applyErr error
	_, err := c.UpdateUser(ctx, chatID, func(cfg *models.UserConfig) {
		applyErr = applySetting(cfg, key, text)
	})
	if applyErr != nil {
		// ждём повтора
		t.Send(ctx, chatID, "❗️"+applyErr.Error())
		return
	}
	t.clearAwait(chatID)
	if err != nil {
		t.log.Warn("update user", zap.Int64("chat", chatID), zap.Error(err))
		t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	t.Send(ctx, chatID, "✅ Сохранено")
	t.handleSettingsMenu(ctx, chatID)
}

// applySetting разбирает text и пишет значение в cfg. При ошибке cfg не меняется.
func applySetting(cfg *models.UserConfig, key, text string) error {
	switch key {
	case "lev":
		v, err := strconv.Atoi(strings.TrimSpace(text))
		limit := cfg.MaxLeverageAllowed
		if limit <= 0 {
			limit = 125
		}
		if err != nil || v < 1 || v > limit {
			return fmt.Errorf("нужно целое 1..%d", limit)
		}
		cfg.Leverage = v

	case "capital":
		v, err := parseFloat(text)
		limit := cfg.MaxCapitalFractionAllowed * 100
		if limit <= 0 {
			limit = 100
		}
		if err != nil || v <= 0 || v > limit {
			return fmt.Errorf("нужно число 0..%s", f2(limit))
		}
		cfg.CapitalFraction = v / 100

	case "risk":
		v, err := parseFloat(text)
		if err != nil || v <= 0 || v > 10 {
			return fmt.Errorf("нужно число 0..10, например 1.0")
		}
		cfg.RiskFraction = v / 100

	case "tp_ratio":
		v, err := parseFloat(text)
		if err != nil || v <= 0 || v > 20 {
			return fmt.Errorf("нужно число 0..20, например 1.5")
		}
		cfg.TakeProfitRatio = v

	case "max_stop":
		v, err := parseFloat(text)
		if err != nil || v <= 0 || v > 50 {
			return fmt.Errorf("нужно число 0..50, например 3")
		}
		cfg.MaxStopPct = v

	case "min_balance":
		v, err := parseFloat(text)
		if err != nil || v < 0 {
			return fmt.Errorf("нужно неотрицательное число, например 5")
		}
		cfg.MinBalance = v

	case "cooldown":
		d, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil || d < 0 || d > 24*time.Hour {
			return fmt.Errorf("нужна длительность до 24h, например 5m")
		}
		cfg.CooldownPerSymbol = d

	case "trailing_cb":
		v, err := parseFloat(text)
		if err != nil || v < 0.1 || v > 5 {
			return fmt.Errorf("нужно число 0.1..5, например 1.0")
		}
		cfg.TrailingCallbackPct = v

	case "breakeven":
		v, err := parseFloat(text)
		if err != nil || v < 0 || v > 500 {
			return fmt.Errorf("нужно число 0..500, например 10")
		}
		cfg.BreakevenROI = v / 100

	case "primary":
		ex, ok := models.ParseExchange(text)
		if !ok {
			return fmt.Errorf("биржа %q не поддерживается", strings.TrimSpace(text))
		}
		cfg.PrimaryExchange = ex
		cfg.EnabledExchanges[ex] = true

	default:
		return fmt.Errorf("неизвестная настройка %q", key)
	}
	return nil
}
