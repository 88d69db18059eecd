package okx

import (
	"context"
	"net/url"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
)

type ticker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}

func (c *Client) GetLastPrice(ctx context.Context, symbol string) (px float64, err error) {
	ctx, done := exchange.Trace(ctx, name, "last_price", symbol)
	defer func() { done(err) }()

	q := url.Values{"instId": {c.cat.ToExchange(name, symbol)}}
	return exchange.Retry(ctx, c.retry, func(ctx context.Context) (float64, error) {
		var rows []ticker
		if err := c.get(ctx, "last_price", "/api/v5/market/ticker", q, &rows); err != nil {
			return 0, err
		}
		if len(rows) == 0 || parseFloat(rows[0].Last) <= 0 {
			return 0, &models.ExchangeError{Exchange: name, Op: "last_price", Msg: symbol, Kind: models.ErrMarketDataUnavailable}
		}
		return parseFloat(rows[0].Last), nil
	})
}

type instrument struct {
	InstID string `json:"instId"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	CtMult string `json:"ctMult"`
	CtType string `json:"ctType"`
	State  string `json:"state"`
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	return c.cache.Get(ctx, symbols.Normalize(symbol))
}

// fetchSymbolInfo: шаг и минимум переводим из контрактов в монеты через ctVal*ctMult.
func (c *Client) fetchSymbolInfo(ctx context.Context, symbol string) (info models.SymbolInfo, err error) {
	ctx, done := exchange.Trace(ctx, name, "symbol_info", symbol)
	defer func() { done(err) }()

	instID := c.cat.ToExchange(name, symbol)
	q := url.Values{"instType": {"SWAP"}, "instId": {instID}}
	rows, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) ([]instrument, error) {
		var rows []instrument
		err := c.get(ctx, "symbol_info", "/api/v5/public/instruments", q, &rows)
		return rows, err
	})
	if err != nil {
		return models.SymbolInfo{}, err
	}
	if len(rows) == 0 {
		return models.SymbolInfo{}, &models.ExchangeError{Exchange: name, Op: "symbol_info", Msg: instID, Kind: models.ErrInvalidSymbol}
	}
	inst := rows[0]
	if inst.State != "" && inst.State != "live" {
		return models.SymbolInfo{}, &models.ExchangeError{Exchange: name, Op: "symbol_info", Msg: instID + " state=" + inst.State, Kind: models.ErrInvalidSymbol}
	}
	if inst.CtType == "inverse" {
		return models.SymbolInfo{}, &models.ExchangeError{Exchange: name, Op: "symbol_info", Msg: instID + " is inverse", Kind: models.ErrInvalidSymbol}
	}

	ctVal := parseFloat(inst.CtVal)
	if m := parseFloat(inst.CtMult); m > 0 {
		ctVal *= m
	}
	if ctVal <= 0 {
		ctVal = 1
	}
	tick := parseFloat(inst.TickSz)
	step := parseFloat(inst.LotSz) * ctVal
	return models.SymbolInfo{
		Symbol:            symbol,
		QuantityPrecision: helper.Decimals(step),
		PricePrecision:    helper.Decimals(tick),
		TickSize:          tick,
		StepSize:          step,
		MinQty:            parseFloat(inst.MinSz) * ctVal,
		ContractValue:     ctVal,
	}, nil
}

type accountBalance struct {
	TotalEq string `json:"totalEq"`
	Details []struct {
		Ccy      string `json:"ccy"`
		Eq       string `json:"eq"`
		AvailBal string `json:"availBal"`
		AvailEq  string `json:"availEq"`
	} `json:"details"`
}

func (c *Client) GetBalance(ctx context.Context) (b models.Balance, err error) {
	ctx, done := exchange.Trace(ctx, name, "balance", "")
	defer func() { done(err) }()

	q := url.Values{"ccy": {"USDT"}}
	rows, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) ([]accountBalance, error) {
		var rows []accountBalance
		err := c.get(ctx, "balance", "/api/v5/account/balance", q, &rows)
		return rows, err
	})
	if err != nil {
		return models.Balance{}, err
	}
	b.UpdatedAt = now()
	if len(rows) == 0 {
		return b, nil
	}
	for _, d := range rows[0].Details {
		if d.Ccy != "USDT" {
			continue
		}
		b.Total = parseFloat(d.Eq)
		b.Available = parseFloat(d.AvailEq)
		if b.Available == 0 {
			b.Available = parseFloat(d.AvailBal)
		}
	}
	if b.Total == 0 {
		b.Total = parseFloat(rows[0].TotalEq)
	}
	return b, nil
}
