package bybit

import (
	"strconv"
	"strings"

	"nexus_bot/internal/models"
)

func apiError(op string, code int, msg string) error {
	return &models.ExchangeError{
		Exchange: name,
		Op:       op,
		Code:     strconv.Itoa(code),
		Msg:      msg,
		Kind:     kindOf(code, msg),
	}
}

func kindOf(code int, msg string) error {
	lower := strings.ToLower(msg)
	switch code {
	case 110043:
		return models.ErrLeverageNotModified
	case 10003, 10004, 10005, 10007, 33004:
		return models.ErrAuth
	case 10006, 10018:
		return models.ErrRateLimited
	case 10000, 10016:
		return models.ErrNetwork
	case 10002:
		// рассинхрон времени, следующий запрос подпишется заново
		return models.ErrNetwork
	case 110004, 110007, 110012, 110044, 110045:
		return models.ErrInsufficientFunds
	case 110094:
		return models.ErrInsufficientNotional
	case 10001, 110001, 110003, 110017:
		switch {
		case strings.Contains(lower, "symbol"):
			return models.ErrInvalidSymbol
		case strings.Contains(lower, "decimal"), strings.Contains(lower, "precision"):
			return models.ErrInvalidPrecision
		}
	}
	return models.ErrInvalidOrder
}
