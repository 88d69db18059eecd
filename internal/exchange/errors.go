package exchange

import (
	"context"
	"errors"
	"net"
	"strconv"

	"nexus_bot/internal/models"
)

// TransportError переводит ошибку http-клиента в таксономию models.
func TransportError(ex models.Exchange, op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	kind := models.ErrNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = models.ErrTimeout
	}
	return &models.ExchangeError{Exchange: ex, Op: op, Msg: err.Error(), Kind: kind}
}

// HTTPStatusError — не-2xx ответ без бизнес-кода.
func HTTPStatusError(ex models.Exchange, op string, status int, body string) error {
	kind := models.ErrNetwork
	switch {
	case status == 401 || status == 403:
		kind = models.ErrAuth
	case status == 429 || status == 418:
		kind = models.ErrRateLimited
	case status >= 400 && status < 500:
		kind = models.ErrInvalidOrder
	}
	return &models.ExchangeError{Exchange: ex, Op: op, Code: "http_" + strconv.Itoa(status), Msg: body, Kind: kind}
}
