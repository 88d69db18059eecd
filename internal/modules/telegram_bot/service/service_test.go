package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/notify"
	"nexus_bot/internal/runner/router"
	"nexus_bot/internal/runner/sessions"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbot.Chattable
	requests []tgbot.Chattable
	nextID   int
}

func (b *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	b.nextID++
	return tgbot.Message{MessageID: b.nextID}, nil
}

func (b *fakeBot) Request(c tgbot.Chattable) (*tgbot.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbot.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbot.UpdateConfig) tgbot.UpdatesChannel {
	return make(chan tgbot.Update)
}

func (b *fakeBot) StopReceivingUpdates() {}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.sent {
		if m, ok := c.(tgbot.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) lastMessage() (tgbot.MessageConfig, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sent) - 1; i >= 0; i-- {
		if m, ok := b.sent[i].(tgbot.MessageConfig); ok {
			return m, true
		}
	}
	return tgbot.MessageConfig{}, false
}

type fakeControl struct {
	mu       sync.Mutex
	users    map[int64]*models.UserConfig
	signals  []models.Signal
	resets   int
	closeAll chan int64
	synced   chan int64
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		users:    make(map[int64]*models.UserConfig),
		closeAll: make(chan int64, 1),
		synced:   make(chan int64, 1),
	}
}

func (c *fakeControl) cfg(id int64) *models.UserConfig {
	if u, ok := c.users[id]; ok {
		return u
	}
	u := models.NewUserConfigFromDefaults(id, testConfig())
	c.users[id] = u
	return u
}

func (c *fakeControl) RunForUser(context.Context, int64) (*sessions.UserSession, error) {
	return nil, errors.New("not in tests")
}

func (c *fakeControl) StopForUser(int64) error { return nil }

func (c *fakeControl) UpdateUser(_ context.Context, id int64, fn func(cfg *models.UserConfig)) (*models.UserConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.cfg(id)
	fn(u)
	return u.Clone(), nil
}

func (c *fakeControl) User(_ context.Context, id int64) (*models.UserConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg(id).Clone(), nil
}

func (c *fakeControl) Status(int64) ([]router.PositionStatus, error) { return nil, nil }

func (c *fakeControl) ResetBreaker(int64) {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

func (c *fakeControl) ClosePosition(context.Context, int64, models.Exchange, string) (models.ExecutionResult, error) {
	return models.ExecutionResult{}, nil
}

func (c *fakeControl) CloseAll(_ context.Context, id int64) ([]models.ExecutionResult, error) {
	c.closeAll <- id
	return []models.ExecutionResult{{Status: models.StatusSuccess}, {Status: models.StatusFailed}}, nil
}

func (c *fakeControl) SyncProtection(_ context.Context, id int64) ([]models.ExecutionResult, error) {
	c.synced <- id
	return nil, nil
}

func (c *fakeControl) Submit(sig models.Signal) error {
	c.mu.Lock()
	c.signals = append(c.signals, sig)
	c.mu.Unlock()
	return nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Telegram.AdminChatID = 1
	return &cfg
}

func newTestTelegram(bot botAPI) (*Telegram, *fakeControl) {
	log := zap.NewNop()
	t := &Telegram{
		bot:      bot,
		cfg:      testConfig(),
		log:      log,
		fallback: notify.NewStdout(log),
		pendings: make(map[string]*pending),
		await:    newAwaitStore(),
	}
	c := newFakeControl()
	t.Attach(c)
	return t, c
}

func command(chatID int64, text string) tgbot.Update {
	cmd := strings.Fields(text)[0]
	return tgbot.Update{Message: &tgbot.Message{
		Chat:     &tgbot.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbot.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func text(chatID int64, s string) tgbot.Update {
	return tgbot.Update{Message: &tgbot.Message{Chat: &tgbot.Chat{ID: chatID}, Text: s}}
}

func callback(chatID int64, data string) tgbot.Update {
	return tgbot.Update{CallbackQuery: &tgbot.CallbackQuery{
		ID:      "cb",
		Data:    data,
		Message: &tgbot.Message{MessageID: 99, Chat: &tgbot.Chat{ID: chatID}},
	}}
}

func TestConfirmResolvedByCallback(t *testing.T) {
	bot := &fakeBot{}
	tg, _ := newTestTelegram(bot)
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() { done <- tg.Confirm(ctx, 7, "войти?", time.Minute) }()

	var data string
	deadline := time.Now().Add(time.Second)
	for data == "" && time.Now().Before(deadline) {
		if m, ok := bot.lastMessage(); ok {
			kb, ok := m.ReplyMarkup.(tgbot.InlineKeyboardMarkup)
			if ok && len(kb.InlineKeyboard) > 0 {
				data = *kb.InlineKeyboard[0][0].CallbackData
			}
		}
		time.Sleep(time.Millisecond)
	}
	if !strings.HasPrefix(data, cbConfirm) {
		t.Fatalf("confirm button not sent, data=%q", data)
	}

	tg.handleUpdate(ctx, callback(7, data))

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("confirm returned false after CONF callback")
		}
	case <-time.After(time.Second):
		t.Fatal("confirm did not return")
	}

	// повторное нажатие ничего не ломает
	tg.handleUpdate(ctx, callback(7, data))
}

func TestConfirmTimeout(t *testing.T) {
	tg, _ := newTestTelegram(&fakeBot{})
	if tg.Confirm(context.Background(), 7, "войти?", 10*time.Millisecond) {
		t.Fatal("timeout must reject")
	}
	if len(tg.pendings) != 0 {
		t.Fatalf("pending left after timeout: %d", len(tg.pendings))
	}
}

func TestOfflineConfirmRejects(t *testing.T) {
	tg, _ := newTestTelegram(nil)
	if tg.Confirm(context.Background(), 7, "войти?", time.Second) {
		t.Fatal("offline confirm must reject")
	}
}

func TestSignalCommandAdminOnly(t *testing.T) {
	bot := &fakeBot{}
	tg, c := newTestTelegram(bot)
	ctx := context.Background()

	tg.handleUpdate(ctx, command(5, "/signal BTCUSDT LONG"))
	if len(c.signals) != 0 {
		t.Fatal("non-admin signal accepted")
	}

	tg.handleUpdate(ctx, command(1, "/signal ethusdt short 12.5"))
	if len(c.signals) != 1 {
		t.Fatalf("admin signal not submitted: %d", len(c.signals))
	}
	sig := c.signals[0]
	if sig.Symbol != "ETHUSDT" || sig.Side != models.SideShort || sig.ATR == nil || *sig.ATR != 12.5 {
		t.Fatalf("unexpected signal %+v", sig)
	}
}

func TestAwaitValueFlow(t *testing.T) {
	bot := &fakeBot{}
	tg, c := newTestTelegram(bot)
	ctx := context.Background()

	tg.handleUpdate(ctx, callback(3, cbSet+"lev"))
	if key, ok := tg.peekAwait(3); !ok || key != "lev" {
		t.Fatalf("await not set: %q %v", key, ok)
	}

	tg.handleUpdate(ctx, text(3, "1000"))
	if _, ok := tg.peekAwait(3); !ok {
		t.Fatal("invalid value must keep waiting")
	}

	tg.handleUpdate(ctx, text(3, "7"))
	if _, ok := tg.peekAwait(3); ok {
		t.Fatal("await not cleared")
	}
	if got := c.users[3].Leverage; got != 7 {
		t.Fatalf("leverage = %d, want 7", got)
	}
}

func TestModeAndPresetCallbacks(t *testing.T) {
	tg, c := newTestTelegram(&fakeBot{})
	ctx := context.Background()

	tg.handleUpdate(ctx, callback(4, cbMode+"pilot"))
	tg.handleUpdate(ctx, callback(4, cbPreset+"aggr"))
	tg.handleUpdate(ctx, command(4, "/reset"))

	u := c.users[4]
	if u.Mode != models.ModePilot {
		t.Fatalf("mode = %s", u.Mode)
	}
	if u.Leverage != 10 {
		t.Fatalf("preset not applied, leverage = %d", u.Leverage)
	}
	if c.resets != 1 {
		t.Fatalf("resets = %d", c.resets)
	}
}

func TestToggleExchangeKeepsPrimary(t *testing.T) {
	tg, c := newTestTelegram(&fakeBot{})
	ctx := context.Background()

	tg.handleUpdate(ctx, callback(2, cbToggleExchange+"BYBIT"))
	u := c.users[2]
	if !u.EnabledExchanges[models.ExchangeBybit] {
		t.Fatal("BYBIT not enabled")
	}

	u.EnabledExchanges[u.PrimaryExchange] = true
	tg.handleUpdate(ctx, callback(2, cbToggleExchange+string(u.PrimaryExchange)))
	if !c.users[2].EnabledExchanges[u.PrimaryExchange] {
		t.Fatal("primary exchange switched off")
	}
}

func TestApplySetting(t *testing.T) {
	cases := []struct {
		key, text string
		ok        bool
		check     func(*models.UserConfig) bool
	}{
		{"capital", "15", true, func(c *models.UserConfig) bool { return c.CapitalFraction == 0.15 }},
		{"capital", "90", false, nil},
		{"risk", "0,5", true, func(c *models.UserConfig) bool { return c.RiskFraction == 0.005 }},
		{"cooldown", "2m", true, func(c *models.UserConfig) bool { return c.CooldownPerSymbol == 2*time.Minute }},
		{"cooldown", "soon", false, nil},
		{"primary", "okx", true, func(c *models.UserConfig) bool {
			return c.PrimaryExchange == models.ExchangeOKX && c.EnabledExchanges[models.ExchangeOKX]
		}},
		{"primary", "mexc", false, nil},
		{"unknown", "1", false, nil},
	}
	for _, tc := range cases {
		cfg := models.NewUserConfigFromDefaults(1, testConfig())
		before := *cfg
		err := applySetting(cfg, tc.key, tc.text)
		if tc.ok {
			if err != nil {
				t.Errorf("%s=%s: %v", tc.key, tc.text, err)
				continue
			}
			if !tc.check(cfg) {
				t.Errorf("%s=%s: not applied", tc.key, tc.text)
			}
			continue
		}
		if err == nil {
			t.Errorf("%s=%s: expected error", tc.key, tc.text)
		}
		if cfg.Leverage != before.Leverage || cfg.CapitalFraction != before.CapitalFraction || cfg.PrimaryExchange != before.PrimaryExchange {
			t.Errorf("%s=%s: config changed on error", tc.key, tc.text)
		}
	}
}

func waitText(t *testing.T, bot *fakeBot, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, s := range bot.texts() {
			if strings.Contains(s, want) {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no message with %q in %q", want, bot.texts())
}

func TestCloseAllAndSyncCommands(t *testing.T) {
	bot := &fakeBot{}
	tg, c := newTestTelegram(bot)
	ctx := context.Background()

	tg.handleUpdate(ctx, command(6, "/closeall"))
	select {
	case id := <-c.closeAll:
		if id != 6 {
			t.Fatalf("closed for %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("/closeall did not reach the runner")
	}
	waitText(t, bot, "позиций 2, ошибок 1")

	tg.handleUpdate(ctx, command(6, "/sync"))
	select {
	case <-c.synced:
	case <-time.After(time.Second):
		t.Fatal("/sync did not reach the runner")
	}
	waitText(t, bot, "Открытых позиций нет")
}

func TestBlacklistToggles(t *testing.T) {
	bot := &fakeBot{}
	tg, c := newTestTelegram(bot)
	ctx := context.Background()

	tg.handleUpdate(ctx, command(8, "/blacklist doge-usdt"))
	if !c.users[8].AssetDisabled("DOGEUSDT") {
		t.Fatal("symbol not blacklisted")
	}
	tg.handleUpdate(ctx, command(8, "/blacklist"))
	waitText(t, bot, "DOGEUSDT")

	tg.handleUpdate(ctx, command(8, "/blacklist DOGEUSDT"))
	if c.users[8].AssetDisabled("DOGEUSDT") {
		t.Fatal("second toggle must re-enable")
	}
}

func TestKeysCommandStoresAndHides(t *testing.T) {
	bot := &fakeBot{}
	tg, c := newTestTelegram(bot)
	ctx := context.Background()

	upd := command(9, "/keys bybit abcdef123456 topsecret")
	upd.Message.MessageID = 55
	tg.handleUpdate(ctx, upd)

	got := c.users[9].Credentials[models.ExchangeBybit]
	if got.APIKey != "abcdef123456" || got.APISecret != "topsecret" {
		t.Fatalf("credentials %+v", got)
	}
	if !c.users[9].ExchangeEnabled(models.ExchangeBybit) {
		t.Error("exchange with keys must be enabled")
	}

	bot.mu.Lock()
	deleted := false
	for _, r := range bot.requests {
		if d, ok := r.(tgbot.DeleteMessageConfig); ok && d.MessageID == 55 {
			deleted = true
		}
	}
	bot.mu.Unlock()
	if !deleted {
		t.Error("message with keys not deleted")
	}
	for _, s := range bot.texts() {
		if strings.Contains(s, "topsecret") || strings.Contains(s, "abcdef123456") {
			t.Fatalf("key echoed back: %q", s)
		}
	}

	tg.handleUpdate(ctx, command(9, "/keys okx k s"))
	if _, ok := c.users[9].Credentials[models.ExchangeOKX]; ok {
		t.Error("okx keys without passphrase accepted")
	}

	tg.handleUpdate(ctx, command(9, "/keys BYBIT off"))
	if _, ok := c.users[9].Credentials[models.ExchangeBybit]; ok {
		t.Error("keys not removed")
	}
}

func TestSettingsShowMaskedKeys(t *testing.T) {
	cfg := models.NewUserConfigFromDefaults(1, testConfig())
	cfg.Credentials[models.ExchangeBybit] = models.APICredentials{APIKey: "abcdef123456", APISecret: "topsecret"}
	cfg.ToggleAsset("DOGEUSDT")
	cfg.BreakevenROI = 0.1

	out := formatSettings(cfg)
	for _, want := range []string{"BYBIT abc***456", "DOGEUSDT", "10.00%"} {
		if !strings.Contains(out, want) {
			t.Errorf("settings miss %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "topsecret") {
		t.Error("secret in settings")
	}
}
