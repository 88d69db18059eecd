package bybit

import (
	"context"
	"net/url"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
)

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		MarkPrice string `json:"markPrice"`
	} `json:"list"`
}

func (c *Client) GetLastPrice(ctx context.Context, symbol string) (px float64, err error) {
	ctx, done := exchange.Trace(ctx, name, "last_price", symbol)
	defer func() { done(err) }()

	q := url.Values{"category": {category}, "symbol": {c.cat.ToExchange(name, symbol)}}
	return exchange.Retry(ctx, c.retry, func(ctx context.Context) (float64, error) {
		var r tickersResult
		if err := c.get(ctx, "last_price", "/v5/market/tickers", q, &r); err != nil {
			return 0, err
		}
		for _, t := range r.List {
			if v := parseFloat(t.LastPrice); v > 0 {
				return v, nil
			}
			if v := parseFloat(t.MarkPrice); v > 0 {
				return v, nil
			}
		}
		return 0, &models.ExchangeError{Exchange: name, Op: "last_price", Msg: symbol, Kind: models.ErrMarketDataUnavailable}
	})
}

type instrumentsResult struct {
	List []struct {
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			QtyStep          string `json:"qtyStep"`
			MinOrderQty      string `json:"minOrderQty"`
			MinNotionalValue string `json:"minNotionalValue"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	return c.cache.Get(ctx, symbols.Normalize(symbol))
}

func (c *Client) fetchSymbolInfo(ctx context.Context, symbol string) (info models.SymbolInfo, err error) {
	ctx, done := exchange.Trace(ctx, name, "symbol_info", symbol)
	defer func() { done(err) }()

	q := url.Values{"category": {category}, "symbol": {c.cat.ToExchange(name, symbol)}}
	r, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) (instrumentsResult, error) {
		var r instrumentsResult
		err := c.get(ctx, "symbol_info", "/v5/market/instruments-info", q, &r)
		return r, err
	})
	if err != nil {
		return models.SymbolInfo{}, err
	}
	if len(r.List) == 0 {
		return models.SymbolInfo{}, &models.ExchangeError{Exchange: name, Op: "symbol_info", Msg: symbol, Kind: models.ErrInvalidSymbol}
	}

	it := r.List[0]
	tick := parseFloat(it.PriceFilter.TickSize)
	step := parseFloat(it.LotSizeFilter.QtyStep)
	return models.SymbolInfo{
		Symbol:            symbol,
		QuantityPrecision: helper.Decimals(step),
		PricePrecision:    helper.Decimals(tick),
		TickSize:          tick,
		StepSize:          step,
		MinQty:            parseFloat(it.LotSizeFilter.MinOrderQty),
		MinNotional:       parseFloat(it.LotSizeFilter.MinNotionalValue),
		ContractValue:     1,
	}, nil
}

type walletResult struct {
	List []struct {
		TotalWalletBalance    string `json:"totalWalletBalance"`
		TotalEquity           string `json:"totalEquity"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
	} `json:"list"`
}

func (c *Client) GetBalance(ctx context.Context) (b models.Balance, err error) {
	ctx, done := exchange.Trace(ctx, name, "balance", "")
	defer func() { done(err) }()

	q := url.Values{"accountType": {"UNIFIED"}}
	r, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) (walletResult, error) {
		var r walletResult
		err := c.get(ctx, "balance", "/v5/account/wallet-balance", q, &r)
		return r, err
	})
	if err != nil {
		return models.Balance{}, err
	}
	b.UpdatedAt = now()
	if len(r.List) == 0 {
		return b, nil
	}
	b.Total = parseFloat(r.List[0].TotalWalletBalance)
	if b.Total == 0 {
		b.Total = parseFloat(r.List[0].TotalEquity)
	}
	b.Available = parseFloat(r.List[0].TotalAvailableBalance)
	return b, nil
}
