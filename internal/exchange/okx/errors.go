package okx

import (
	"strings"

	"nexus_bot/internal/models"
)

func apiError(op, code, msg string) error {
	return &models.ExchangeError{Exchange: name, Op: op, Code: code, Msg: msg, Kind: kindOf(code, msg)}
}

func kindOf(code, msg string) error {
	switch code {
	case "50100", "50101", "50103", "50104", "50105", "50111", "50113", "50114":
		return models.ErrAuth
	case "50011", "50061":
		return models.ErrRateLimited
	case "50001", "50013", "50026":
		return models.ErrNetwork
	case "50004":
		return models.ErrTimeout
	case "50102":
		// истёк timestamp, повтор подпишется заново
		return models.ErrNetwork
	case "51001", "51030":
		return models.ErrInvalidSymbol
	case "51008", "51127", "51131":
		return models.ErrInsufficientFunds
	case "51121", "51005":
		return models.ErrInvalidPrecision
	case "51020":
		return models.ErrInsufficientNotional
	case "51000":
		if strings.Contains(strings.ToLower(msg), "instid") {
			return models.ErrInvalidSymbol
		}
	}
	// 59000-е (плечо/режим маржи), 51277-51279 (триггер не с той стороны) и прочее
	return models.ErrInvalidOrder
}
