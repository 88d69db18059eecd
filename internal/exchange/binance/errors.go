package binance

import (
	"errors"
	"strconv"

	"github.com/adshao/go-binance/v2/common"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/models"
)

// mapError переводит код Binance в таксономию models.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return exchange.TransportError(name, op, err)
	}
	return &models.ExchangeError{
		Exchange: name,
		Op:       op,
		Code:     strconv.FormatInt(apiErr.Code, 10),
		Msg:      apiErr.Message,
		Kind:     kindOf(apiErr.Code),
	}
}

func kindOf(code int64) error {
	switch code {
	case -1121, -4140:
		return models.ErrInvalidSymbol
	case -1111, -1013, -4014, -4003:
		return models.ErrInvalidPrecision
	case -2014, -2015, -1022, -2008:
		return models.ErrAuth
	case -1003, -1015:
		return models.ErrRateLimited
	case -2019, -2018:
		return models.ErrInsufficientFunds
	case -4164:
		return models.ErrInsufficientNotional
	case -1001, -1007:
		return models.ErrTimeout
	case -1000, -1006:
		return models.ErrNetwork
	}
	// -2021 (сработал бы сразу), -4028 (плечо) и прочее — параметры ордера
	return models.ErrInvalidOrder
}

func isPrecision(err error) bool { return errors.Is(err, models.ErrInvalidPrecision) }
