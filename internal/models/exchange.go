package models

import "strings"

// Exchange — идентификатор биржи, на которой исполняется операция.
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeBybit   Exchange = "BYBIT"
	ExchangeOKX     Exchange = "OKX"
)

// ExchangePriority — фиксированный порядок фолбэка роутера.
var ExchangePriority = []Exchange{ExchangeBinance, ExchangeBybit, ExchangeOKX}

func ParseExchange(raw string) (Exchange, bool) {
	switch Exchange(strings.ToUpper(strings.TrimSpace(raw))) {
	case ExchangeBinance:
		return ExchangeBinance, true
	case ExchangeBybit:
		return ExchangeBybit, true
	case ExchangeOKX:
		return ExchangeOKX, true
	}
	return "", false
}

func (e Exchange) String() string { return string(e) }

type AssetClass string

const (
	AssetCrypto    AssetClass = "CRYPTO"
	AssetStock     AssetClass = "STOCK"
	AssetCommodity AssetClass = "COMMODITY"
)

// ExecMode — режим исполнения сессии.
type ExecMode string

const (
	ModePilot   ExecMode = "PILOT"   // автономное исполнение
	ModeCopilot ExecMode = "COPILOT" // только с подтверждением
	ModeWatcher ExecMode = "WATCHER" // только уведомления
)

func ParseMode(raw string) (ExecMode, bool) {
	switch ExecMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModePilot:
		return ModePilot, true
	case ModeCopilot:
		return ModeCopilot, true
	case ModeWatcher:
		return ModeWatcher, true
	}
	return "", false
}
