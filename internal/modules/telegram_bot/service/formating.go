package service

import (
	"fmt"
	"sort"
	"strings"

	"nexus_bot/internal/models"
	"nexus_bot/internal/notify"
	"nexus_bot/internal/runner/router"
)

func formatSettings(c *models.UserConfig) string {
	var ex []string
	for _, e := range models.ExchangePriority {
		if c.ExchangeEnabled(e) {
			ex = append(ex, string(e))
		}
	}
	var strategies []string
	for s, on := range c.EnabledStrategies {
		if on {
			strategies = append(strategies, s)
		}
	}
	sort.Strings(strategies)
	if len(strategies) == 0 {
		strategies = []string{"все"}
	}
	blacklist := make([]string, 0, len(c.DisabledAssets))
	for sym, off := range c.DisabledAssets {
		if off {
			blacklist = append(blacklist, sym)
		}
	}
	sort.Strings(blacklist)
	if len(blacklist) == 0 {
		blacklist = []string{"пусто"}
	}
	var keys []string
	for _, e := range models.ExchangePriority {
		if cr, ok := c.Credentials[e]; ok && !cr.Empty() {
			keys = append(keys, string(e)+" "+cr.Masked())
		}
	}
	if len(keys) == 0 {
		keys = []string{"не заданы"}
	}
	breakeven := "выкл"
	if c.BreakevenROI > 0 {
		breakeven = f2(c.BreakevenROI*100) + "%"
	}

	return fmt.Sprintf(
		"*⚙️ Настройки*\n\n"+
			"Режим: *%s*\n"+
			"Основная биржа: `%s`\n"+
			"Биржи: `%s`\n"+
			"Стратегии: `%s`\n"+
			"Ключи: `%s`\n"+
			"Чёрный список: `%s`\n\n"+
			"Плечо: `%dx` (макс `%dx`)\n"+
			"Капитал на сделку: `%s%%`\n"+
			"Риск по стопу: `%s%%`\n"+
			"TP: `%sR`\n"+
			"Макс. стоп: `%s%%`\n"+
			"Мин. баланс: `%s`\n\n"+
			"Трейлинг: *%s* (`%s%%`)\n"+
			"Безубыток при доходе: `%s`\n"+
			"Фильтр корреляции: *%s*\n"+
			"Cooldown: `%s`\n"+
			"Timeout подтверждения: `%s`\n",
		c.Mode,
		c.PrimaryExchange,
		strings.Join(ex, ", "),
		strings.Join(strategies, ", "),
		strings.Join(keys, ", "),
		strings.Join(blacklist, ", "),
		c.Leverage, c.MaxLeverageAllowed,
		f2(c.CapitalFraction*100),
		f2(c.RiskFraction*100),
		f2(c.TakeProfitRatio),
		f2(c.MaxStopPct),
		f2(c.MinBalance),
		onOff(c.TrailingEnabled), f2(c.TrailingCallbackPct),
		breakeven,
		onOff(c.CorrelationGuard),
		c.CooldownPerSymbol,
		c.ConfirmTimeout,
	)
}

func formatStatus(list []router.PositionStatus) string {
	positions := make([]models.Position, 0, len(list))
	for _, st := range list {
		positions = append(positions, st.Position)
	}
	out := notify.FormatPositions(positions)

	var total float64
	priced := 0
	for _, st := range list {
		if st.LastPrice > 0 {
			total += st.UnrealizedPnl
			priced++
		}
	}
	if priced > 0 {
		out += fmt.Sprintf("\nPnL (оценка по %d из %d): %s USDT", priced, len(list), f2(total))
	}
	return out
}
