package service

import (
	"fmt"
	"strconv"
	"strings"

	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
)

func onOff(v bool) string {
	if v {
		return "вкл"
	}
	return "выкл"
}

func f2(v float64) string { // для красивого вывода
	return fmt.Sprintf("%.2f", v)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

// parseSignal — аргументы /signal: SYMBOL LONG|SHORT [ATR] [strategy].
func parseSignal(args string) (models.Signal, error) {
	f := strings.Fields(args)
	if len(f) < 2 {
		return models.Signal{}, fmt.Errorf("формат: /signal BTCUSDT LONG [ATR] [стратегия]")
	}
	sig := models.Signal{
		Symbol:     symbols.Normalize(f[0]),
		Side:       models.Side(strings.ToUpper(f[1])),
		Confidence: 1,
		Strategy:   "manual",
	}
	if !sig.Side.Valid() {
		return models.Signal{}, fmt.Errorf("сторона %q: нужна LONG или SHORT", f[1])
	}
	if len(f) > 2 {
		atr, err := parseFloat(f[2])
		if err != nil || atr <= 0 {
			return models.Signal{}, fmt.Errorf("ATR %q: нужно положительное число", f[2])
		}
		sig.ATR = models.Float(atr)
	}
	if len(f) > 3 {
		sig.Strategy = f[3]
	}
	return sig, nil
}

// parseClose — аргументы /close: EXCHANGE SYMBOL.
func parseClose(args string) (models.Exchange, string, error) {
	f := strings.Fields(args)
	if len(f) != 2 {
		return "", "", fmt.Errorf("формат: /close BYBIT BTCUSDT")
	}
	ex, ok := models.ParseExchange(f[0])
	if !ok {
		return "", "", fmt.Errorf("биржа %q не поддерживается", f[0])
	}
	return ex, symbols.Normalize(f[1]), nil
}

// parseKeys — аргументы /keys: EXCHANGE KEY SECRET [PASSPHRASE] или EXCHANGE off.
func parseKeys(args string) (models.Exchange, models.APICredentials, error) {
	f := strings.Fields(args)
	if len(f) < 2 {
		return "", models.APICredentials{}, fmt.Errorf("формат: /keys BYBIT KEY SECRET [PASSPHRASE]")
	}
	ex, ok := models.ParseExchange(f[0])
	if !ok {
		return "", models.APICredentials{}, fmt.Errorf("биржа %q не поддерживается", f[0])
	}
	if len(f) == 2 && strings.EqualFold(f[1], "off") {
		return ex, models.APICredentials{}, nil
	}
	if len(f) < 3 || len(f) > 4 {
		return "", models.APICredentials{}, fmt.Errorf("формат: /keys BYBIT KEY SECRET [PASSPHRASE]")
	}
	creds := models.APICredentials{APIKey: f[1], APISecret: f[2]}
	if len(f) == 4 {
		creds.Passphrase = f[3]
	}
	if ex == models.ExchangeOKX && creds.Passphrase == "" {
		return "", models.APICredentials{}, fmt.Errorf("для OKX нужен passphrase")
	}
	return ex, creds, nil
}
