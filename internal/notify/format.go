package notify

import (
	"fmt"
	"strings"

	"nexus_bot/internal/models"
)

func Format(res models.ExecutionResult) string {
	var b strings.Builder
	switch res.Status {
	case models.StatusSuccess:
		b.WriteString("✅ ")
	case models.StatusPartial:
		b.WriteString("⚠️ ")
	case models.StatusFailed:
		b.WriteString("❗️ ")
	default:
		b.WriteString("ℹ️ ")
	}

	action := "вход"
	switch {
	case res.RefreshOnly:
		action = "обновление защиты"
	case res.Flipped:
		action = "разворот"
	}
	fmt.Fprintf(&b, "[%s] %s %s %s (%s)", res.Exchange, res.Symbol, res.Side, action, res.Status)

	if res.Quantity > 0 {
		fmt.Fprintf(&b, "\nqty=%s entry=%s", num(res.Quantity), num(res.EntryPrice))
	}
	if res.SLPrice != nil || res.TPPrice != nil {
		fmt.Fprintf(&b, "\nSL=%s TP=%s", optional(res.SLPrice), optional(res.TPPrice))
	}
	if res.Strategy != "" {
		fmt.Fprintf(&b, "\nstrategy=%s", res.Strategy)
	}
	if res.Err != nil && res.Status == models.StatusFailed {
		fmt.Fprintf(&b, "\nошибка: %v", res.Err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "\n⚠️ %s", w)
	}
	return b.String()
}

// FormatPositions — ответ на /status.
func FormatPositions(positions []models.Position) string {
	if len(positions) == 0 {
		return "📭 Открытых позиций нет"
	}
	var b strings.Builder
	b.WriteString("📊 Открытые позиции:\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "- [%s] %s %s qty=%s @ %s SL=%s TP=%s",
			p.Exchange, p.Symbol, p.Side, num(p.Quantity), num(p.EntryPrice),
			optional(p.StopLoss), optional(p.TakeProfit))
		if p.ProtectionIncomplete {
			b.WriteString(" ⚠️ защита не подтверждена")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func num(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}

func optional(v *float64) string {
	if v == nil {
		return "—"
	}
	return num(*v)
}
