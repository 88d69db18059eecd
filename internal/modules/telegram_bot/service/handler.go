package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nexus_bot/internal/models"
)

// callback data
const (
	cbConfirm = "CONF::"
	cbReject  = "REJ::"
	cbSet     = "set:"
	cbMode    = "mode:"
	cbPreset  = "preset:"
)

// кнопки главного меню
const (
	btnRun      = "▶️ Запустить бота"
	btnStop     = "⏹ Остановить бота"
	btnSettings = "⚙️ Настройки"
	btnStatus   = "📊 Статус"
)

const helpText = "Команды:\n" +
	"/run — запустить торговлю\n" +
	"/stop — остановить\n" +
	"/status — открытые позиции\n" +
	"/settings — настройки\n" +
	"/mode [PILOT|COPILOT|WATCHER] — режим\n" +
	"/preset [safe|mid|aggr] — пресет риска\n" +
	"/reset — снять блокировку после серии убытков\n" +
	"/close BYBIT BTCUSDT — закрыть позицию\n" +
	"/closeall — закрыть все позиции\n" +
	"/sync — пересчитать SL/TP открытых позиций\n" +
	"/blacklist [SYMBOL] — исключить символ или вернуть его\n" +
	"/keys BYBIT KEY SECRET [PASSPHRASE] — ключи биржи (off — удалить)"

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	if msg := update.Message; msg != nil {
		if msg.Chat == nil {
			return
		}
		if msg.IsCommand() {
			if msg.Command() == "keys" {
				// ключи в истории чата не оставляем
				t.deleteMessage(msg.Chat.ID, msg.MessageID)
			}
			t.handleCommand(ctx, msg.Chat.ID, msg.Command(), msg.CommandArguments())
			return
		}
		t.handleTextMessage(ctx, msg.Chat.ID, msg.Text)
		return
	}

	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil {
			return
		}
		t.handleCallback(ctx, cb.Message.Chat.ID, cb)
	}
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, cmd, args string) {
	t.clearAwait(chatID)
	switch cmd {
	case "start":
		t.handleStart(ctx, chatID)
	case "run":
		t.handleRun(ctx, chatID)
	case "stop":
		t.handleStop(ctx, chatID)
	case "status", "positions":
		t.handleStatus(ctx, chatID)
	case "settings":
		t.handleSettingsMenu(ctx, chatID)
	case "mode":
		if strings.TrimSpace(args) == "" {
			t.sendModeMenu(chatID)
			return
		}
		t.setMode(ctx, chatID, args)
	case "preset":
		if strings.TrimSpace(args) == "" {
			t.sendPresetMenu(chatID)
			return
		}
		t.applyPreset(ctx, chatID, strings.TrimSpace(args))
	case "reset":
		if c := t.control(); c != nil {
			c.ResetBreaker(chatID)
			t.Send(ctx, chatID, "✅ Блокировка снята, автоторговля разрешена")
		}
	case "close":
		t.handleClose(ctx, chatID, args)
	case "closeall":
		t.handleCloseAll(ctx, chatID)
	case "sync":
		t.handleSync(ctx, chatID)
	case "blacklist":
		t.handleBlacklist(ctx, chatID, args)
	case "keys":
		t.handleKeys(ctx, chatID, args)
	case "signal":
		t.handleSignal(ctx, chatID, args)
	default:
		t.Send(ctx, chatID, helpText)
	}
}

func (t *Telegram) handleStart(ctx context.Context, chatID int64) {
	replyKb := tgbot.NewReplyKeyboard(
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnRun),
			tgbot.NewKeyboardButton(btnStop),
		),
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnSettings),
			tgbot.NewKeyboardButton(btnStatus),
		),
	)

	msg := tgbot.NewMessage(chatID, "Привет! Я исполняю торговые сигналы на Binance, Bybit и OKX.\n\n"+
		"1️⃣ Проверь настройки и режим.\n"+
		"2️⃣ Запусти бота кнопкой «"+btnRun+"».\n\n"+helpText)
	msg.ReplyMarkup = replyKb
	t.SendMessage(msg)
}

func (t *Telegram) handleTextMessage(ctx context.Context, chatID int64, text string) {
	text = strings.TrimSpace(text)

	switch text {
	case btnRun:
		t.clearAwait(chatID)
		t.handleRun(ctx, chatID)
		return
	case btnStop:
		t.clearAwait(chatID)
		t.handleStop(ctx, chatID)
		return
	case btnSettings:
		t.clearAwait(chatID)
		t.handleSettingsMenu(ctx, chatID)
		return
	case btnStatus:
		t.clearAwait(chatID)
		t.handleStatus(ctx, chatID)
		return
	}

	if key, ok := t.peekAwait(chatID); ok {
		t.handleAwaitValue(ctx, chatID, text, key)
	}
}

func (t *Telegram) handleRun(ctx context.Context, chatID int64) {
	c := t.control()
	if c == nil {
		t.Send(ctx, chatID, "Раннер ещё не готов, попробуй позже")
		return
	}
	s, err := c.RunForUser(ctx, chatID)
	if err != nil {
		t.log.Warn("run for user", zap.Int64("chat", chatID), zap.Error(err))
		t.Send(ctx, chatID, "❌ Не удалось запустить бота: "+err.Error())
		return
	}
	t.Send(ctx, chatID, fmt.Sprintf("✅ Бот запущен, режим %s", s.Mode()))
}

func (t *Telegram) handleStop(ctx context.Context, chatID int64) {
	c := t.control()
	if c == nil {
		return
	}
	if err := c.StopForUser(chatID); err != nil {
		t.Send(ctx, chatID, "⚠️ "+err.Error())
		return
	}
	t.Send(ctx, chatID, "🛑 Бот остановлен. Открытые позиции остаются под защитой биржевых стопов.")
}

func (t *Telegram) handleStatus(ctx context.Context, chatID int64) {
	c := t.control()
	if c == nil {
		return
	}
	list, err := c.Status(chatID)
	if err != nil {
		t.Send(ctx, chatID, "ℹ️ "+err.Error())
		return
	}
	t.Send(ctx, chatID, formatStatus(list))
}

func (t *Telegram) handleSettingsMenu(ctx context.Context, chatID int64) {
	c := t.control()
	if c == nil {
		return
	}
	cfg, err := c.User(ctx, chatID)
	if err != nil {
		t.Send(ctx, chatID, "⚠️ Настройки не найдены: "+err.Error())
		return
	}
	msg := tgbot.NewMessage(chatID, formatSettings(cfg))
	msg.ParseMode = tgbot.ModeMarkdown
	msg.ReplyMarkup = settingsKeyboard(cfg)
	t.SendMessage(msg)
}

func (t *Telegram) sendModeMenu(chatID int64) {
	msg := tgbot.NewMessage(chatID, "Выбери режим:\n"+
		"PILOT — входит сам\n"+
		"COPILOT — спрашивает подтверждение\n"+
		"WATCHER — только уведомления")
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(
		tgbot.NewInlineKeyboardButtonData("🤖 PILOT", cbMode+string(models.ModePilot)),
		tgbot.NewInlineKeyboardButtonData("🤝 COPILOT", cbMode+string(models.ModeCopilot)),
		tgbot.NewInlineKeyboardButtonData("👀 WATCHER", cbMode+string(models.ModeWatcher)),
	))
	t.SendMessage(msg)
}

func (t *Telegram) setMode(ctx context.Context, chatID int64, raw string) {
	mode, ok := models.ParseMode(raw)
	if !ok {
		t.Send(ctx, chatID, fmt.Sprintf("❗️Неизвестный режим %q", strings.TrimSpace(raw)))
		return
	}
	c := t.control()
	if c == nil {
		return
	}
	if _, err := c.UpdateUser(ctx, chatID, func(cfg *models.UserConfig) { cfg.Mode = mode }); err != nil {
		t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	t.Send(ctx, chatID, "✅ Режим: "+string(mode))
}

func (t *Telegram) sendPresetMenu(chatID int64) {
	names := make([]string, 0, len(models.Presets))
	for k := range models.Presets {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Пресеты риска:\n")
	row := make([]tgbot.InlineKeyboardButton, 0, len(names))
	for _, k := range names {
		p := models.Presets[k]
		fmt.Fprintf(&b, "%s — %s\n", p.Name, p.Description)
		row = append(row, tgbot.NewInlineKeyboardButtonData(p.Name, cbPreset+k))
	}
	msg := tgbot.NewMessage(chatID, b.String())
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(row)
	t.SendMessage(msg)
}

func (t *Telegram) applyPreset(ctx context.Context, chatID int64, name string) {
	p, ok := models.Presets[strings.ToLower(name)]
	if !ok {
		t.Send(ctx, chatID, fmt.Sprintf("❗️Нет пресета %q", name))
		return
	}
	c := t.control()
	if c == nil {
		return
	}
	if _, err := c.UpdateUser(ctx, chatID, p.Apply); err != nil {
		t.Send(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	t.Send(ctx, chatID, "✅ Применён пресет "+p.Name)
	t.handleSettingsMenu(ctx, chatID)
}

func (t *Telegram) handleClose(ctx context.Context, chatID int64, args string) {
	ex, symbol, err := parseClose(args)
	if err != nil {
		t.Send(ctx, chatID, "❗️"+err.Error())
		return
	}
	c := t.control()
	if c == nil {
		return
	}
	// закрытие ходит в биржу, цикл апдейтов не держим
	go func() {
		res, err := c.ClosePosition(ctx, chatID, ex, symbol)
		if err != nil {
			t.Send(ctx, chatID, "⚠️ "+err.Error())
			return
		}
		t.Notify(ctx, chatID, res)
	}()
}

// handleSignal — ручной сигнал, только для админа.
func (t *Telegram) handleSignal(ctx context.Context, chatID int64, args string) {
	if t.cfg.Telegram.AdminChatID == 0 || chatID != t.cfg.Telegram.AdminChatID {
		t.Send(ctx, chatID, helpText)
		return
	}
	sig, err := parseSignal(args)
	if err != nil {
		t.Send(ctx, chatID, "❗️"+err.Error())
		return
	}
	c := t.control()
	if c == nil {
		return
	}
	if err := c.Submit(sig); err != nil {
		t.Send(ctx, chatID, "⚠️ "+err.Error())
		return
	}
	t.Send(ctx, chatID, "📨 Сигнал принят: "+sig.Symbol+" "+string(sig.Side))
}

func (t *Telegram) handleCallback(ctx context.Context, chatID int64, cb *tgbot.CallbackQuery) {
	// убираем "часики" на кнопке
	if _, err := t.bot.Request(tgbot.NewCallback(cb.ID, "")); err != nil {
		t.log.Debug("answer callback", zap.Error(err))
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, cbConfirm):
		t.handleConfirmCallback(chatID, cb.Message, strings.TrimPrefix(data, cbConfirm), true)
	case strings.HasPrefix(data, cbReject):
		t.handleConfirmCallback(chatID, cb.Message, strings.TrimPrefix(data, cbReject), false)
	case strings.HasPrefix(data, cbSet):
		t.askValue(ctx, chatID, strings.TrimPrefix(data, cbSet))
	case data == cbMode+"menu":
		t.sendModeMenu(chatID)
	case strings.HasPrefix(data, cbMode):
		t.setMode(ctx, chatID, strings.TrimPrefix(data, cbMode))
	case data == cbPreset+"menu":
		t.sendPresetMenu(chatID)
	case strings.HasPrefix(data, cbPreset):
		t.applyPreset(ctx, chatID, strings.TrimPrefix(data, cbPreset))
	case strings.HasPrefix(data, "toggle:"):
		t.handleToggle(ctx, chatID, cb.Message, data)
	}
}

func (t *Telegram) handleConfirmCallback(chatID int64, msg *tgbot.Message, token string, accepted bool) {
	p, ok := t.resolve(token, accepted)
	if msg == nil {
		return
	}
	_ = t.editReplyMarkupRemove(chatID, msg.MessageID)
	if !ok {
		// уже таймаут или отмена
		return
	}
	status := "❌ Пропущено"
	if accepted {
		status = "✅ Подтверждено"
	}
	_ = t.editText(chatID, msg.MessageID, p.prompt+"\n\n"+status)
}
