package exchange

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"nexus_bot/internal/models"
)

type PlaceFunc func(ctx context.Context, wireSymbol string, req models.OrderRequest) (models.OrderResult, error)

// PlaceWithSymbolRetry пробует основной тикер, а при отказе по формату
// символа — один раз исправленный. Запрос (и тип ордера) не меняется.
func PlaceWithSymbolRetry(ctx context.Context, candidates []string, req models.OrderRequest, place PlaceFunc) (models.OrderResult, error) {
	if len(candidates) == 0 {
		return models.OrderResult{}, errors.New("no symbol candidates")
	}
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}

	var lastErr error
	for _, wire := range candidates {
		res, err := place(ctx, wire, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, models.ErrInvalidSymbol) {
			return res, err
		}
	}
	return models.OrderResult{}, lastErr
}

// IgnoreLeverageNotModified — повторная установка того же плеча не ошибка.
func IgnoreLeverageNotModified(err error) error {
	if errors.Is(err, models.ErrLeverageNotModified) {
		return nil
	}
	return err
}

// NewClientOrderID — уникальный clientOrderId с префиксом назначения.
// Биржи режут длину, держим <= 32 символов.
func NewClientOrderID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	s := "nx" + prefix + id
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}
