package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nexus_bot/internal/models"
)

func TestFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.json")

	cfg := &models.UserConfig{
		UserID:            5,
		Name:              "alice",
		Mode:              models.ModeWatcher,
		Leverage:          3,
		PrimaryExchange:   models.ExchangeOKX,
		EnabledExchanges:  map[models.Exchange]bool{models.ExchangeOKX: true},
		CooldownPerSymbol: 90 * time.Second,
	}
	if err := NewFile(path).Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := NewFile(path).Get(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != models.ModeWatcher || got.Leverage != 3 || !got.ExchangeEnabled(models.ExchangeOKX) || got.CooldownPerSymbol != 90*time.Second {
		t.Fatalf("reloaded %+v", got)
	}
}

func TestFileGetMissing(t *testing.T) {
	_, err := NewFile("").Get(context.Background(), 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err %v", err)
	}
}

func TestFileReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewFile("")
	if err := s.Save(ctx, &models.UserConfig{UserID: 1, Leverage: 5}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, 1)
	got.Leverage = 50

	again, _ := s.Get(ctx, 1)
	if again.Leverage != 5 {
		t.Fatalf("store mutated through returned pointer")
	}
	list, _ := s.List(ctx)
	if len(list) != 1 {
		t.Fatalf("list %d", len(list))
	}
}
