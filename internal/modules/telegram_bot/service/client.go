package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/notify"
	"nexus_bot/internal/runner/router"
	"nexus_bot/internal/runner/sessions"
	"nexus_bot/pkg/logger"
)

// Control — то, чем бот управляет через команды.
type Control interface {
	RunForUser(ctx context.Context, userID int64) (*sessions.UserSession, error)
	StopForUser(userID int64) error
	UpdateUser(ctx context.Context, userID int64, fn func(cfg *models.UserConfig)) (*models.UserConfig, error)
	User(ctx context.Context, userID int64) (*models.UserConfig, error)
	Status(userID int64) ([]router.PositionStatus, error)
	ResetBreaker(userID int64)
	ClosePosition(ctx context.Context, userID int64, ex models.Exchange, symbol string) (models.ExecutionResult, error)
	CloseAll(ctx context.Context, userID int64) ([]models.ExecutionResult, error)
	SyncProtection(ctx context.Context, userID int64) ([]models.ExecutionResult, error)
	Submit(sig models.Signal) error
}

// botAPI — часть *tgbot.BotAPI, которой мы пользуемся.
type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	Request(c tgbot.Chattable) (*tgbot.APIResponse, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

type pending struct {
	ch     chan bool
	prompt string
}

// Telegram — уведомления, подтверждения входа и команды. Без токена
// работает офлайн: всё уходит в лог через notify.Stdout.
type Telegram struct {
	bot      botAPI
	cfg      *config.Config
	log      *zap.Logger
	fallback *notify.Stdout

	mu       sync.Mutex
	pendings map[string]*pending
	await    *awaitStore
	manager  Control
}

var _ notify.Notifier = (*Telegram)(nil)

func NewTelegram(cfg *config.Config, log *zap.Logger) (*Telegram, error) {
	if log == nil {
		log = logger.L()
	}
	t := &Telegram{
		cfg:      cfg,
		log:      log.Named("telegram"),
		fallback: notify.NewStdout(log),
		pendings: make(map[string]*pending),
		await:    newAwaitStore(),
	}
	if cfg.Telegram.Token == "" {
		t.log.Warn("telegram token is empty, notifications go to log")
		return t, nil
	}
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	t.bot = b
	return t, nil
}

// Attach подключает управление после сборки раннера.
func (t *Telegram) Attach(c Control) {
	t.mu.Lock()
	t.manager = c
	t.mu.Unlock()
}

func (t *Telegram) control() Control {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.manager
}

func (t *Telegram) Online() bool { return t.bot != nil }

func (t *Telegram) Notify(ctx context.Context, owner int64, res models.ExecutionResult) {
	if !t.Online() {
		t.fallback.Notify(ctx, owner, res)
		return
	}
	t.Send(ctx, owner, notify.Format(res))
}

func (t *Telegram) Send(ctx context.Context, chatID int64, msg string) {
	if !t.Online() {
		t.fallback.Send(ctx, chatID, msg)
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(chatID, msg)); err != nil {
		t.log.Warn("send", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func (t *Telegram) SendMessage(message tgbot.MessageConfig) {
	if !t.Online() {
		t.fallback.Send(context.Background(), message.ChatID, message.Text)
		return
	}
	if _, err := t.bot.Send(message); err != nil {
		t.log.Warn("send", zap.Int64("chat", message.ChatID), zap.Error(err))
	}
}

func (t *Telegram) editReplyMarkupRemove(chatID int64, msgID int) error {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, err := t.bot.Request(tgbot.NewEditMessageReplyMarkup(chatID, msgID, rm))
	return err
}

func (t *Telegram) editText(chatID int64, msgID int, text string) error {
	_, err := t.bot.Request(tgbot.NewEditMessageText(chatID, msgID, text))
	return err
}

// Confirm — сообщение с кнопками и ожиданием callback. Офлайн вход
// не подтверждается: спросить некого.
func (t *Telegram) Confirm(ctx context.Context, chatID int64, prompt string, timeout time.Duration) bool {
	if !t.Online() {
		t.log.Info("confirm without telegram, rejecting", zap.Int64("chat", chatID))
		return false
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{ch: make(chan bool, 1), prompt: prompt}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pendings, token)
		t.mu.Unlock()
	}()

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Войти", cbConfirm+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Пропустить", cbReject+token)
	msg := tgbot.NewMessage(chatID, prompt)
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	sent, err := t.bot.Send(msg)
	if err != nil {
		t.log.Warn("confirm send", zap.Error(err))
		return false
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		_ = t.editReplyMarkupRemove(chatID, sent.MessageID)
		_ = t.editText(chatID, sent.MessageID, prompt+"\n\n⏳ Таймаут")
		return false
	case <-ctx.Done():
		_ = t.editReplyMarkupRemove(chatID, sent.MessageID)
		_ = t.editText(chatID, sent.MessageID, prompt+"\n\n⛔️ Отменено")
		return false
	}
}

// resolve отдаёт ответ ждущему Confirm. false — токен уже не ждут.
func (t *Telegram) resolve(token string, ok bool) (*pending, bool) {
	t.mu.Lock()
	p, found := t.pendings[token]
	delete(t.pendings, token)
	t.mu.Unlock()
	if !found {
		return nil, false
	}
	p.ch <- ok
	return p, true
}

// Start читает апдейты до отмены ctx или Stop.
func (t *Telegram) Start(ctx context.Context) {
	if !t.Online() {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) Stop() {
	if t.Online() {
		t.bot.StopReceivingUpdates()
	}
}
