package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"nexus_bot/internal/bridge"
	"nexus_bot/internal/exchange/exchangetest"
	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/runner/sessions"
	"nexus_bot/pkg/logger"
)

type noSessions struct{}

func (noSessions) Sessions() []*sessions.UserSession { return nil }

type readyFlag struct{ v bool }

func (r *readyFlag) SetReady(v bool) { r.v = v }

type sink struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (s *sink) Notify(context.Context, int64, models.ExecutionResult) {}

func (s *sink) Send(_ context.Context, owner int64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[int64][]string)
	}
	s.sent[owner] = append(s.sent[owner], text)
}

func (s *sink) Confirm(context.Context, int64, string, time.Duration) bool { return false }

func TestWarmupMarksReadyDespiteBadSymbol(t *testing.T) {
	logger.InitNop()

	ex := exchangetest.New(models.ExchangeBybit)
	ex.SetInfo(models.SymbolInfo{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001})
	ex.SetPrice("BTCUSDT", 100)

	cfg := config.Defaults()
	cfg.Telegram.AdminChatID = 42

	ready := &readyFlag{}
	n := &sink{}
	w := NewWarmuper(bridge.New(ex), noSessions{}, ready, n, &cfg, nil)

	if err := w.Warmup(context.Background(), []string{"btc-usdt", "NOPEUSDT"}); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if !ready.v {
		t.Fatal("expected ready after warmup")
	}
	msgs := n.sent[42]
	if len(msgs) != 1 {
		t.Fatalf("expected one admin report, got %v", msgs)
	}
	if !strings.Contains(msgs[0], "символов 1, ошибок 1") {
		t.Fatalf("unexpected report: %q", msgs[0])
	}
}

func TestWarmupCanceled(t *testing.T) {
	logger.InitNop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ready := &readyFlag{}
	cfg := config.Defaults()
	w := NewWarmuper(bridge.New(exchangetest.New(models.ExchangeBinance)), noSessions{}, ready, &sink{}, &cfg, nil)
	if err := w.Warmup(ctx, []string{"BTCUSDT"}); err == nil {
		t.Fatal("expected context error")
	}
	if ready.v {
		t.Fatal("must not be ready after cancel")
	}
}
