// Package bridge выбирает биржу для сигнала и держит адаптеры пользователя.
package bridge

import (
	"fmt"

	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
)

// Route — чистая функция выбора биржи. Основная биржа класса актива
// выигрывает, если она доступна, включена у пользователя и торгует этим
// классом. Иначе первая подходящая в порядке models.ExchangePriority.
func Route(symbol string, prefs *models.UserConfig, available []models.Exchange) (models.Exchange, error) {
	return RouteWith(symbols.Default(), symbol, prefs, available)
}

func RouteWith(cat *symbols.Catalog, symbol string, prefs *models.UserConfig, available []models.Exchange) (models.Exchange, error) {
	if prefs == nil {
		return "", fmt.Errorf("%w: no user preferences", models.ErrRouting)
	}
	class := cat.AssetClassOf(symbol)

	usable := func(ex models.Exchange) bool {
		return contains(available, ex) && prefs.ExchangeEnabled(ex) && cat.Supports(ex, class)
	}

	if primary := prefs.PrimaryFor(class); primary != "" && usable(primary) {
		return primary, nil
	}
	for _, ex := range models.ExchangePriority {
		if usable(ex) {
			return ex, nil
		}
	}
	return "", fmt.Errorf("%w: %s (%s)", models.ErrRouting, symbols.Normalize(symbol), class)
}

func contains(list []models.Exchange, ex models.Exchange) bool {
	for _, e := range list {
		if e == ex {
			return true
		}
	}
	return false
}
